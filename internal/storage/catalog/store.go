// Implements the per-user catalog file store with cache invalidation.

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/shelfdb/internal/storage/identity"
)

// libraryFile is the catalog file name inside each user directory.
const libraryFile = "library.json"

// Store reads and writes per-user catalog files under a user_data root:
//
//	<root>/<username>/library.json
//
// Loads are cached in memory. A filesystem watcher invalidates cache entries
// when a library.json is edited outside the process, so manual edits show up
// without a restart.
type Store struct {
	root    string
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	cache map[string][]Book
}

// NewStore creates a Store rooted at the given user_data directory and
// starts the invalidation watcher. Close must be called to release it.
func NewStore(ctx context.Context, root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user data directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	s := &Store{
		root:    root,
		watcher: watcher,
		cache:   map[string][]Book{},
	}
	go s.watchLoop(ctx)
	return s, nil
}

// Close releases the filesystem watcher.
func (s *Store) Close() error {
	return s.watcher.Close()
}

// Root returns the user_data root directory.
func (s *Store) Root() string {
	return s.root
}

// UserDir returns the storage directory for a username.
// The username must have been validated first.
func (s *Store) UserDir(username string) string {
	return filepath.Join(s.root, username)
}

// Load returns the catalog for a username. A missing catalog file is a
// valid, empty catalog: this is the state right after registration and for
// unknown shared users.
func (s *Store) Load(username string) ([]Book, error) {
	if err := identity.ValidateUsername(username); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if books, ok := s.cache[username]; ok {
		s.mu.Unlock()
		return cloneBooks(books), nil
	}
	s.mu.Unlock()

	dir := filepath.Join(s.root, username)
	data, err := os.ReadFile(filepath.Join(dir, libraryFile)) //nolint:gosec // G304: username is validated as a single path segment
	if err != nil {
		if os.IsNotExist(err) {
			// An absent file is the empty catalog. Cache it only when the
			// user directory exists and can be watched, so creating the file
			// later still invalidates the entry.
			if s.watcher.Add(dir) == nil {
				s.mu.Lock()
				s.cache[username] = []Book{}
				s.mu.Unlock()
			}
			return []Book{}, nil
		}
		return nil, fmt.Errorf("failed to read catalog for %s: %w", username, err)
	}

	var books []Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("failed to parse catalog for %s: %w", username, err)
	}
	if books == nil {
		books = []Book{}
	}

	s.mu.Lock()
	s.cache[username] = cloneBooks(books)
	s.mu.Unlock()
	// Watch the user directory so external edits invalidate the cache.
	_ = s.watcher.Add(dir)
	return books, nil
}

// Save rewrites the whole catalog file for a username.
//
// Access control is the caller's job: every mutating call site gates on the
// acting session owning the target username before calling Save.
func (s *Store) Save(username string, books []Book) error {
	if err := identity.ValidateUsername(username); err != nil {
		return err
	}
	dir := filepath.Join(s.root, username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create user directory: %w", err)
	}

	data, err := json.MarshalIndent(books, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, libraryFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog for %s: %w", username, err)
	}

	s.mu.Lock()
	s.cache[username] = cloneBooks(books)
	s.mu.Unlock()
	// Saves populate the cache directly, so the watch must be registered
	// here too or catalogs first written in-process would never see
	// external edits.
	_ = s.watcher.Add(dir)
	return nil
}

// watchLoop invalidates cache entries when a library.json changes on disk.
// Saves through this process also trigger events; invalidating after our own
// writes is harmless since the next Load repopulates from the same file.
func (s *Store) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != libraryFile {
				continue
			}
			username := filepath.Base(filepath.Dir(event.Name))
			s.mu.Lock()
			delete(s.cache, username)
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "Catalog watcher error", "err", err)
		}
	}
}

func cloneBooks(books []Book) []Book {
	out := make([]Book, len(books))
	copy(out, books)
	return out
}
