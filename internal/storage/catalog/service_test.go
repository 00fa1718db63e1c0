package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/maruel/ksid"
)

func newService(t *testing.T) *Service {
	t.Helper()
	root := filepath.Join(t.TempDir(), "user_data")
	store, err := NewStore(t.Context(), root)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error(err)
		}
	})
	return NewService(store, NewPDFStore(root), 0)
}

func TestService_Add(t *testing.T) {
	service := newService(t)
	access := Owner("alice")

	book, err := service.Add(access, "Dune", "Frank Herbert", "1965", "scifi", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if book.ID.IsZero() {
		t.Error("New book should have an ID")
	}
	if book.Added.IsZero() {
		t.Error("New book should have a timestamp")
	}

	books, err := service.List(access)
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 || books[0].Title != "Dune" {
		t.Fatalf("Unexpected catalog after add: %+v", books)
	}

	// Adding appends; the new record is last.
	if _, err := service.Add(access, "Emma", "Jane Austen", "1815", "romance", "", nil); err != nil {
		t.Fatal(err)
	}
	books, err = service.List(access)
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 2 || books[1].Title != "Emma" {
		t.Fatalf("New record should be last: %+v", books)
	}
}

func TestService_AddDuplicate(t *testing.T) {
	service := newService(t)
	access := Owner("alice")

	// Identical metadata twice yields two distinct records.
	a, err := service.Add(access, "Dune", "Frank Herbert", "1965", "scifi", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := service.Add(access, "Dune", "Frank Herbert", "1965", "scifi", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("Duplicate adds should get distinct IDs")
	}
	books, err := service.List(access)
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 2 {
		t.Errorf("Expected 2 records, got %d", len(books))
	}
}

func TestService_RemoveByTitle(t *testing.T) {
	service := newService(t)
	access := Owner("alice")

	for _, title := range []string{"Dune", "DUNE", "Emma", "dune"} {
		if _, err := service.Add(access, title, "", "", "", "", nil); err != nil {
			t.Fatal(err)
		}
	}

	// Removal matches every case variant of the title.
	removed, err := service.RemoveByTitle(access, "dUnE")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 removed, got %d", removed)
	}
	books, err := service.List(access)
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 || books[0].Title != "Emma" {
		t.Fatalf("Unexpected catalog after removal: %+v", books)
	}

	// No matches is a zero count, not an error.
	removed, err = service.RemoveByTitle(access, "Dune")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("Expected 0 removed, got %d", removed)
	}
}

func TestService_Search(t *testing.T) {
	service := newService(t)
	access := Owner("alice")

	titles := []string{"The Left Hand of Darkness", "Leftover Women", "Emma"}
	for _, title := range titles {
		if _, err := service.Add(access, title, "Ursula K. Le Guin", "1969", "scifi", "", nil); err != nil {
			t.Fatal(err)
		}
	}

	// Case-insensitive substring, catalog order preserved.
	matches, err := service.Search(access, FieldTitle, "LEFT")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].Title != titles[0] || matches[1].Title != titles[1] {
		t.Errorf("Order not preserved: %q, %q", matches[0].Title, matches[1].Title)
	}

	matches, err = service.Search(access, FieldAuthor, "le guin")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Errorf("Expected 3 author matches, got %d", len(matches))
	}

	matches, err = service.Search(access, FieldYear, "20")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no year matches, got %d", len(matches))
	}

	// Empty term matches everything.
	matches, err = service.Search(access, FieldGenre, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Errorf("Expected all records for empty term, got %d", len(matches))
	}
}

func TestService_SharedAccess(t *testing.T) {
	service := newService(t)
	owner := Owner("alice")

	if _, err := service.Add(owner, "Dune", "Frank Herbert", "1965", "scifi", "", nil); err != nil {
		t.Fatal(err)
	}

	// Shared reads see exactly what the owner sees.
	shared := Shared("alice")
	books, err := service.List(shared)
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 || books[0].Title != "Dune" {
		t.Fatalf("Shared view differs from owner view: %+v", books)
	}
	matches, err := service.Search(shared, FieldTitle, "dune")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("Expected 1 shared search match, got %d", len(matches))
	}

	// Mutations through shared access are refused.
	if _, err := service.Add(shared, "Emma", "", "", "", "", nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}
	if _, err := service.RemoveByTitle(shared, "Dune"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}

	// Unknown shared user is an empty catalog, not an error.
	books, err = service.List(Shared("nobody"))
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 0 {
		t.Errorf("Expected empty catalog for unknown user, got %d", len(books))
	}

	// Empty target falls back to the guest account.
	if got := Shared("").Username; got != GuestUser {
		t.Errorf("Expected guest fallback, got %q", got)
	}
}

func TestService_MaxBooks(t *testing.T) {
	root := filepath.Join(t.TempDir(), "user_data")
	store, err := NewStore(t.Context(), root)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	service := NewService(store, NewPDFStore(root), 2)
	access := Owner("alice")

	for range 2 {
		if _, err := service.Add(access, "Dune", "", "", "", "", nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := service.Add(access, "Emma", "", "", "", "", nil); err == nil {
		t.Error("Expected error when book limit reached")
	}
}

func TestService_PDFRoundTrip(t *testing.T) {
	service := newService(t)
	access := Owner("alice")

	payload := []byte("%PDF-1.4 fake")
	book, err := service.Add(access, "Dune", "", "", "", "dune.pdf", payload)
	if err != nil {
		t.Fatal(err)
	}
	if book.PDFPath != "pdfs/dune.pdf" {
		t.Errorf("Unexpected PDF path: %q", book.PDFPath)
	}

	got, data, err := service.ReadPDF(access, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != book.ID {
		t.Errorf("Expected book %s, got %s", book.ID, got.ID)
	}
	if string(data) != string(payload) {
		t.Errorf("PDF content mismatch: %q", data)
	}

	// Shared access can download too.
	if _, _, err := service.ReadPDF(Shared("alice"), book.ID); err != nil {
		t.Errorf("Shared download failed: %v", err)
	}

	// A record without an attachment reports file-not-found.
	bare, err := service.Add(access, "Emma", "", "", "", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := service.ReadPDF(access, bare.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
	if _, _, err := service.ReadPDF(access, ksid.NewID()); !errors.Is(err, ErrBookNotFound) {
		t.Errorf("Expected ErrBookNotFound, got %v", err)
	}
}

func TestService_OrphanedPDF(t *testing.T) {
	service := newService(t)
	access := Owner("alice")

	if _, err := service.Add(access, "Dune", "", "", "", "dune.pdf", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := service.Add(access, "Emma", "", "", "", "emma.pdf", []byte("y")); err != nil {
		t.Fatal(err)
	}

	// Removing the record leaves the blob behind as an orphan.
	if _, err := service.RemoveByTitle(access, "Dune"); err != nil {
		t.Fatal(err)
	}
	orphans, err := service.Orphans(access)
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) != 1 || orphans[0] != "dune.pdf" {
		t.Errorf("Expected [dune.pdf], got %v", orphans)
	}
}

func TestParseSearchField(t *testing.T) {
	for _, s := range []string{"title", "Author", "GENRE", "year"} {
		if _, err := ParseSearchField(s); err != nil {
			t.Errorf("ParseSearchField(%q) = %v; want nil", s, err)
		}
	}
	if _, err := ParseSearchField("isbn"); err == nil {
		t.Error("ParseSearchField(isbn) = nil; want error")
	}
}
