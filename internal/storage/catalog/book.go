// Package catalog implements per-user book catalogs: a JSON file of book
// records per account plus a directory of uploaded PDFs.
//
// The catalog file keeps the weak semantics of a flat file store on purpose:
// every mutation loads the whole list, changes it in memory and rewrites the
// file. There is no partial-write recovery; last writer wins across
// concurrent sessions of the same account. Optional git versioning at the
// server level is the recovery story.
package catalog

import (
	"errors"
	"strings"

	"github.com/maruel/ksid"
	"github.com/maruel/shelfdb/internal/storage"
)

var (
	// ErrReadOnly is returned when a mutation is attempted through shared access.
	ErrReadOnly = errors.New("library is read-only in shared mode")
	// ErrFileNotFound is returned when a referenced PDF no longer exists.
	ErrFileNotFound = errors.New("file not found")
	// ErrBookNotFound is returned when no record matches the given ID.
	ErrBookNotFound = errors.New("book not found")
)

// GuestUser is the catalog served when a shared link names no user.
const GuestUser = "guest"

// Book is a single catalog record.
//
// Title acts as the de facto removal key; duplicates are allowed, so removal
// by title affects every case-insensitive match. Year is a free-form string.
// PDFPath, when set, is a path relative to the owner's storage directory; it
// is not revalidated on load, so a missing file surfaces at download time.
type Book struct {
	ID      ksid.ID      `json:"id" jsonschema:"description=Stable record identifier"`
	Title   string       `json:"title" jsonschema:"description=Book title, removal key (case-insensitive)"`
	Author  string       `json:"author" jsonschema:"description=Author name"`
	Year    string       `json:"year" jsonschema:"description=Publication year, free-form"`
	Genre   string       `json:"genre" jsonschema:"description=Genre label"`
	PDFPath string       `json:"pdf_path,omitempty" jsonschema:"description=Relative path to the uploaded PDF, if any"`
	Added   storage.Time `json:"added,omitempty" jsonschema:"description=Record creation timestamp"`
}

// Clone returns a copy of the book.
func (b *Book) Clone() *Book {
	c := *b
	return &c
}

// GetID returns the record's ID.
func (b *Book) GetID() ksid.ID {
	return b.ID
}

// Access identifies whose catalog an operation targets and whether the
// caller may mutate it. It is resolved once per request and threaded
// explicitly through every operation; services never consult ambient state.
type Access struct {
	// Username is the catalog owner the operation targets.
	Username string
	// ReadOnly is set for shared access. Mutations fail with ErrReadOnly.
	ReadOnly bool
}

// Owner returns full access to the authenticated user's own catalog.
func Owner(username string) Access {
	return Access{Username: username}
}

// Shared returns read-only access to the named user's catalog. The target
// comes verbatim from an untrusted query parameter; an empty name falls back
// to GuestUser. Loading an unknown user yields an empty catalog, never an
// error, so probing reveals nothing beyond what sharing already exposes.
func Shared(target string) Access {
	if target == "" {
		target = GuestUser
	}
	return Access{Username: target, ReadOnly: true}
}

// SearchField names a searchable book attribute.
type SearchField string

// Searchable fields.
const (
	FieldTitle  SearchField = "title"
	FieldAuthor SearchField = "author"
	FieldGenre  SearchField = "genre"
	FieldYear   SearchField = "year"
)

// ParseSearchField validates a field name.
func ParseSearchField(s string) (SearchField, error) {
	switch f := SearchField(strings.ToLower(s)); f {
	case FieldTitle, FieldAuthor, FieldGenre, FieldYear:
		return f, nil
	default:
		return "", errors.New("unknown search field: " + s)
	}
}

// value returns the book attribute named by the field.
func (f SearchField) value(b *Book) string {
	switch f {
	case FieldTitle:
		return b.Title
	case FieldAuthor:
		return b.Author
	case FieldGenre:
		return b.Genre
	case FieldYear:
		return b.Year
	default:
		return ""
	}
}
