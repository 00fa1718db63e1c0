// Package identity provides JSONL-backed services for user accounts and
// active sessions.
package identity

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/maruel/ksid"
	"github.com/maruel/shelfdb/internal/jsonldb"
	"golang.org/x/crypto/bcrypt"
)

// maxUsernameLen bounds usernames so they stay usable as directory names.
const maxUsernameLen = 64

// User represents a registered account (persistent fields only).
//
// The username doubles as the account's storage directory name under
// user_data/, so it is restricted to a filesystem-safe character set.
type User struct {
	ID       ksid.ID   `json:"id" jsonschema:"description=Unique user identifier"`
	Username string    `json:"username" jsonschema:"description=Login name, also the storage directory name"`
	Created  time.Time `json:"created" jsonschema:"description=Account creation timestamp"`
	Modified time.Time `json:"modified" jsonschema:"description=Last modification timestamp"`
}

// GetID returns the User's ID.
func (u *User) GetID() ksid.ID {
	return u.ID
}

// ValidateUsername checks that a username is safe to use as a single path
// segment: ASCII letters, digits, underscore, hyphen and dot, no leading
// dot, at most 64 characters.
func ValidateUsername(username string) error {
	if username == "" || len(username) > maxUsernameLen {
		return ErrInvalidUsername
	}
	if strings.HasPrefix(username, ".") {
		return ErrInvalidUsername
	}
	for _, c := range username {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			return ErrInvalidUsername
		}
	}
	return nil
}

type userStorage struct {
	User
	PasswordHash string `json:"password_hash" jsonschema:"description=Bcrypt-hashed password"`
}

func (u *userStorage) Clone() *userStorage {
	c := *u
	return &c
}

// GetID returns the userStorage's ID.
func (u *userStorage) GetID() ksid.ID {
	return u.ID
}

// Validate checks that the userStorage is valid.
func (u *userStorage) Validate() error {
	if u.ID.IsZero() {
		return errUserIDRequired
	}
	if u.Username == "" {
		return errUsernameEmpty
	}
	return nil
}

// UserService handles account management and password authentication.
type UserService struct {
	table      *jsonldb.Table[*userStorage]
	byUsername *jsonldb.UniqueIndex[string, *userStorage]
}

// NewUserService creates a new user service backed by the given JSONL file.
func NewUserService(tablePath string) (*UserService, error) {
	table, err := jsonldb.NewTable[*userStorage](tablePath)
	if err != nil {
		return nil, err
	}
	byUsername := jsonldb.NewUniqueIndex(table, func(u *userStorage) string { return u.Username })
	return &UserService{table: table, byUsername: byUsername}, nil
}

// Create registers a new account with a bcrypt-hashed password.
// maxUsers limits total accounts. Use 0 to disable the limit.
func (s *UserService) Create(username, password string, maxUsers int) (*User, error) {
	if username == "" || password == "" {
		return nil, errUsernamePwdRequired
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	// Direct index check, no copy.
	if s.byUsername.Get(username) != nil {
		return nil, ErrUserExists
	}
	if maxUsers > 0 && s.table.Len() >= maxUsers {
		return nil, fmt.Errorf("user limit reached (%d)", maxUsers)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	now := time.Now()
	stored := &userStorage{
		User: User{
			ID:       ksid.NewID(),
			Username: username,
			Created:  now,
			Modified: now,
		},
		PasswordHash: string(hash),
	}
	if err := s.table.Append(stored); err != nil {
		return nil, err
	}
	user := stored.User
	return &user, nil
}

// Get retrieves a user by ID.
func (s *UserService) Get(id ksid.ID) (*User, error) {
	if id.IsZero() {
		return nil, errUserIDEmpty
	}
	stored := s.table.Get(id)
	if stored == nil {
		return nil, ErrUserNotFound
	}
	user := stored.User
	return &user, nil
}

// GetByUsername retrieves a user by username. O(1) via index.
func (s *UserService) GetByUsername(username string) (*User, error) {
	stored := s.byUsername.Get(username)
	if stored == nil {
		return nil, ErrUserNotFound
	}
	user := stored.User
	return &user, nil
}

// Authenticate verifies credentials. It distinguishes an unknown account
// from a wrong password so the login surface can report them separately.
func (s *UserService) Authenticate(username, password string) (*User, error) {
	stored := s.byUsername.Get(username)
	if stored == nil {
		return nil, ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}
	user := stored.User
	return &user, nil
}

// Count returns the number of registered users.
func (s *UserService) Count() int {
	return s.table.Len()
}

// Iter iterates over users with ID greater than startID. Pass 0 to iterate from the beginning.
func (s *UserService) Iter(startID ksid.ID) iter.Seq[*User] {
	return func(yield func(*User) bool) {
		for stored := range s.table.Iter(startID) {
			user := stored.User
			if !yield(&user) {
				return
			}
		}
	}
}
