package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maruel/ksid"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.Context(), filepath.Join(t.TempDir(), "user_data"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error(err)
		}
	})
	return store
}

func TestStore_LoadMissing(t *testing.T) {
	store := newStore(t)

	// A user with no catalog file has an empty catalog, not an error.
	books, err := store.Load("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 0 {
		t.Errorf("Expected empty catalog, got %d books", len(books))
	}
}

func TestStore_SaveLoad(t *testing.T) {
	store := newStore(t)

	in := []Book{
		{ID: ksid.NewID(), Title: "Dune", Author: "Frank Herbert", Year: "1965", Genre: "scifi"},
		{ID: ksid.NewID(), Title: "Emma", Author: "Jane Austen", Year: "1815", Genre: "romance"},
	}
	if err := store.Save("alice", in); err != nil {
		t.Fatal(err)
	}

	books, err := store.Load("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 2 {
		t.Fatalf("Expected 2 books, got %d", len(books))
	}
	if books[0].Title != "Dune" || books[1].Title != "Emma" {
		t.Errorf("Order not preserved: %q, %q", books[0].Title, books[1].Title)
	}

	// The returned slice is a copy; mutating it must not poison the cache.
	books[0].Title = "mutated"
	again, err := store.Load("alice")
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Title != "Dune" {
		t.Errorf("Cache was mutated through a returned slice: %q", again[0].Title)
	}
}

func TestStore_InvalidUsername(t *testing.T) {
	store := newStore(t)

	for _, name := range []string{"", "..", "a/b"} {
		if _, err := store.Load(name); err == nil {
			t.Errorf("Load(%q) = nil; want error", name)
		}
		if err := store.Save(name, nil); err == nil {
			t.Errorf("Save(%q) = nil; want error", name)
		}
	}
}

func TestStore_CorruptFile(t *testing.T) {
	store := newStore(t)

	dir := store.UserDir("alice")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "library.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("alice"); err == nil {
		t.Error("Expected error for corrupt catalog file")
	}
}

// writeLibraryFile rewrites a catalog file directly, bypassing the store,
// the way a hand edit would.
func writeLibraryFile(t *testing.T, store *Store, username string, books []Book) {
	t.Helper()
	data, err := json.MarshalIndent(books, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(store.UserDir(username), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.UserDir(username), libraryFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// waitForBooks polls Load until the catalog has the wanted size, failing
// after a generous deadline. Watcher events are asynchronous.
func waitForBooks(t *testing.T, store *Store, username string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		books, err := store.Load(username)
		if err != nil {
			t.Fatal(err)
		}
		if len(books) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("External edit never observed: Load returns %d book(s), want %d", len(books), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStore_ExternalEditAfterSave(t *testing.T) {
	store := newStore(t)

	// The catalog is created in-process, so the cache is populated by Save,
	// never by a read from disk.
	if err := store.Save("alice", []Book{{ID: ksid.NewID(), Title: "Dune"}}); err != nil {
		t.Fatal(err)
	}
	if books, err := store.Load("alice"); err != nil || len(books) != 1 {
		t.Fatalf("Load = %d books, %v; want 1", len(books), err)
	}

	writeLibraryFile(t, store, "alice", []Book{
		{ID: ksid.NewID(), Title: "Dune"},
		{ID: ksid.NewID(), Title: "Emma"},
	})
	waitForBooks(t, store, "alice", 2)
}

func TestStore_ExternalCreate(t *testing.T) {
	store := newStore(t)

	// Prime the cache through the missing-file path.
	if err := os.MkdirAll(store.UserDir("alice"), 0o755); err != nil {
		t.Fatal(err)
	}
	if books, err := store.Load("alice"); err != nil || len(books) != 0 {
		t.Fatalf("Load = %d books, %v; want empty", len(books), err)
	}

	writeLibraryFile(t, store, "alice", []Book{{ID: ksid.NewID(), Title: "Dune"}})
	waitForBooks(t, store, "alice", 1)
}

func TestStore_FileFormat(t *testing.T) {
	store := newStore(t)

	if err := store.Save("alice", []Book{{ID: ksid.NewID(), Title: "Dune"}}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(store.UserDir("alice"), "library.json"))
	if err != nil {
		t.Fatal(err)
	}
	// Hand-editable: indented JSON array with a trailing newline.
	if data[0] != '[' || data[len(data)-1] != '\n' {
		t.Errorf("Unexpected file format: %q", data)
	}
}
