// Implements the catalog operations on top of the file store.

package catalog

import (
	"fmt"
	"strings"

	"github.com/maruel/ksid"
	"github.com/maruel/shelfdb/internal/storage"
)

// Service composes the catalog file store and the PDF blob store into the
// operations the handlers expose. All operations take an Access value; the
// mutating ones refuse read-only access.
type Service struct {
	store    *Store
	pdfs     *PDFStore
	maxBooks int
}

// NewService creates a Service. maxBooks of 0 means unlimited.
func NewService(store *Store, pdfs *PDFStore, maxBooks int) *Service {
	return &Service{store: store, pdfs: pdfs, maxBooks: maxBooks}
}

// List returns the full catalog in stored order.
func (s *Service) List(access Access) ([]Book, error) {
	return s.store.Load(access.Username)
}

// Get returns the record with the given ID.
func (s *Service) Get(access Access, id ksid.ID) (*Book, error) {
	books, err := s.store.Load(access.Username)
	if err != nil {
		return nil, err
	}
	for i := range books {
		if books[i].ID == id {
			return books[i].Clone(), nil
		}
	}
	return nil, ErrBookNotFound
}

// Add appends a new record to the catalog and returns it. pdfName and
// pdfData carry an optional upload; when pdfName is empty the record has no
// attached file. Duplicate titles are allowed and produce distinct records.
func (s *Service) Add(access Access, title, author, year, genre, pdfName string, pdfData []byte) (*Book, error) {
	if access.ReadOnly {
		return nil, ErrReadOnly
	}
	books, err := s.store.Load(access.Username)
	if err != nil {
		return nil, err
	}
	if s.maxBooks > 0 && len(books) >= s.maxBooks {
		return nil, fmt.Errorf("book limit reached (%d)", s.maxBooks)
	}

	book := Book{
		ID:     ksid.NewID(),
		Title:  title,
		Author: author,
		Year:   year,
		Genre:  genre,
		Added:  storage.Now(),
	}
	if pdfName != "" {
		relPath, err := s.pdfs.Save(access.Username, pdfName, pdfData)
		if err != nil {
			return nil, err
		}
		book.PDFPath = relPath
	}

	books = append(books, book)
	if err := s.store.Save(access.Username, books); err != nil {
		return nil, err
	}
	return book.Clone(), nil
}

// RemoveByTitle removes every record whose title matches case-insensitively
// and returns how many were removed. Zero matches is not an error. Attached
// PDFs are left in place and become orphans.
func (s *Service) RemoveByTitle(access Access, title string) (int, error) {
	if access.ReadOnly {
		return 0, ErrReadOnly
	}
	books, err := s.store.Load(access.Username)
	if err != nil {
		return 0, err
	}

	kept := books[:0:0]
	for i := range books {
		if !strings.EqualFold(books[i].Title, title) {
			kept = append(kept, books[i])
		}
	}
	removed := len(books) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if kept == nil {
		kept = []Book{}
	}
	if err := s.store.Save(access.Username, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// Search returns the records whose chosen field contains the term,
// case-insensitively, preserving catalog order. An empty term matches
// everything.
func (s *Service) Search(access Access, field SearchField, term string) ([]Book, error) {
	books, err := s.store.Load(access.Username)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(term)
	matches := []Book{}
	for i := range books {
		if strings.Contains(strings.ToLower(field.value(&books[i])), term) {
			matches = append(matches, books[i])
		}
	}
	return matches, nil
}

// ReadPDF returns the PDF attached to the record with the given ID.
func (s *Service) ReadPDF(access Access, id ksid.ID) (*Book, []byte, error) {
	book, err := s.Get(access, id)
	if err != nil {
		return nil, nil, err
	}
	if book.PDFPath == "" {
		return nil, nil, ErrFileNotFound
	}
	data, err := s.pdfs.Read(access.Username, book.PDFPath)
	if err != nil {
		return nil, nil, err
	}
	return book, data, nil
}

// Orphans lists uploaded PDFs no catalog record references.
func (s *Service) Orphans(access Access) ([]string, error) {
	books, err := s.store.Load(access.Username)
	if err != nil {
		return nil, err
	}
	return s.pdfs.Orphans(access.Username, books)
}
