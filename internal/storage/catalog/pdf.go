// Implements the per-user PDF blob directory.

package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/maruel/shelfdb/internal/storage/identity"
)

// pdfDir is the blob directory name inside each user directory.
const pdfDir = "pdfs"

// ErrNotPDF is returned when an uploaded file doesn't carry a .pdf extension.
var ErrNotPDF = errors.New("only PDF files are accepted")

// PDFStore stores uploaded PDFs under <root>/<username>/pdfs/<original name>.
//
// Files keep their original upload name, so uploading the same name again
// overwrites the previous blob in place. Files are never deleted when their
// referencing record is removed; orphans accumulate and can be listed.
type PDFStore struct {
	root string
}

// NewPDFStore creates a PDFStore sharing the Store's user_data root.
func NewPDFStore(root string) *PDFStore {
	return &PDFStore{root: root}
}

// Save writes an uploaded PDF and returns the path to embed in a Book
// record, relative to the user's storage directory. The filename is reduced
// to its base name and must end in .pdf (case-insensitive).
func (p *PDFStore) Save(username, filename string, data []byte) (string, error) {
	if err := identity.ValidateUsername(username); err != nil {
		return "", err
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return "", fmt.Errorf("invalid file name: %q", filename)
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", ErrNotPDF
	}

	dir := filepath.Join(p.root, username, pdfDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create pdf directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return filepath.ToSlash(filepath.Join(pdfDir, name)), nil
}

// Read returns the bytes of a stored PDF given the relative path recorded in
// a Book. Returns ErrFileNotFound if the blob no longer exists.
func (p *PDFStore) Read(username, relPath string) ([]byte, error) {
	path, err := p.resolve(username, relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by resolve
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return data, nil
}

// Size returns the size in bytes of a stored PDF, or ErrFileNotFound.
func (p *PDFStore) Size(username, relPath string) (int64, error) {
	path, err := p.resolve(username, relPath)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrFileNotFound
		}
		return 0, err
	}
	return fi.Size(), nil
}

// TotalSize returns the combined size of all stored PDFs across all users.
// Used for the server-wide storage quota.
func (p *PDFStore) TotalSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Base(filepath.Dir(path)) != pdfDir {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // File disappeared mid-walk, skip it
		}
		total += fi.Size()
		return nil
	})
	return total, err
}

// Orphans lists stored PDFs no record in the given catalog references.
// Removing a book never deletes its blob, so this is the audit affordance
// for reclaiming space by hand.
func (p *PDFStore) Orphans(username string, books []Book) ([]string, error) {
	if err := identity.ValidateUsername(username); err != nil {
		return nil, err
	}
	referenced := make(map[string]struct{}, len(books))
	for i := range books {
		if books[i].PDFPath != "" {
			referenced[filepath.Base(books[i].PDFPath)] = struct{}{}
		}
	}

	entries, err := os.ReadDir(filepath.Join(p.root, username, pdfDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var orphans []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := referenced[e.Name()]; !ok {
			orphans = append(orphans, e.Name())
		}
	}
	return orphans, nil
}

// resolve validates inputs and returns the absolute blob path, refusing
// anything that would escape the user's pdf directory.
func (p *PDFStore) resolve(username, relPath string) (string, error) {
	if err := identity.ValidateUsername(username); err != nil {
		return "", err
	}
	if relPath == "" {
		return "", ErrFileNotFound
	}
	name := filepath.Base(filepath.FromSlash(relPath))
	if name == "." || name == ".." {
		return "", ErrFileNotFound
	}
	return filepath.Join(p.root, username, pdfDir, name), nil
}
