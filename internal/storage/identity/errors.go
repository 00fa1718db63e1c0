package identity

import "errors"

// Shared error constants for identity services. The auth errors are exported
// so handlers can map them to distinct user-facing messages.
var (
	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no account exists for a username.
	ErrUserNotFound = errors.New("user does not exist")
	// ErrInvalidPassword is returned when the password does not match.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidUsername is returned when a username cannot be used as a
	// storage path segment.
	ErrInvalidUsername = errors.New("invalid username")

	errUserIDEmpty         = errors.New("user id cannot be empty")
	errUserIDRequired      = errors.New("id is required")
	errUsernameEmpty       = errors.New("username is required")
	errUsernamePwdRequired = errors.New("username and password are required")
)
