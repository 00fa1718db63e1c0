// Handles catalog operations: list, search, remove, share, schema.

package handlers

import (
	"context"
	"errors"
	"net/url"

	"github.com/invopop/jsonschema"
	"github.com/maruel/ksid"
	"github.com/maruel/shelfdb/internal/server/dto"
	"github.com/maruel/shelfdb/internal/storage/catalog"
	"github.com/maruel/shelfdb/internal/storage/identity"
)

// BookHandler handles catalog requests.
type BookHandler struct {
	svc *Services
	cfg *Config
}

// NewBookHandler creates a new book handler.
func NewBookHandler(svc *Services, cfg *Config) *BookHandler {
	return &BookHandler{svc: svc, cfg: cfg}
}

// ListBooks returns the catalog in stored order. Works both for the owner
// and through a shared link.
func (h *BookHandler) ListBooks(_ context.Context, access catalog.Access, _ *dto.ListBooksRequest) (*dto.ListBooksResponse, error) {
	books, err := h.svc.Catalog.List(access)
	if err != nil {
		return nil, catalogError(err)
	}
	return booksToResponse(access.Username, books), nil
}

// SearchBooks returns records whose chosen field contains the term.
func (h *BookHandler) SearchBooks(_ context.Context, access catalog.Access, req *dto.SearchBooksRequest) (*dto.SearchBooksResponse, error) {
	field, err := catalog.ParseSearchField(req.Field)
	if err != nil {
		return nil, dto.BadRequest(err.Error())
	}
	books, err := h.svc.Catalog.Search(access, field, req.Term)
	if err != nil {
		return nil, catalogError(err)
	}
	return booksToResponse(access.Username, books), nil
}

// GetBook returns a single record by ID.
func (h *BookHandler) GetBook(_ context.Context, access catalog.Access, req *dto.GetBookRequest) (*dto.GetBookResponse, error) {
	id, err := ksid.Parse(req.ID)
	if err != nil {
		return nil, dto.BadRequest("Invalid book ID")
	}
	book, err := h.svc.Catalog.Get(access, id)
	if err != nil {
		return nil, catalogError(err)
	}
	return &dto.GetBookResponse{Book: bookToResponse(book)}, nil
}

// RemoveBooks removes every record matching the title case-insensitively.
// Zero matches is a success with removed=0.
func (h *BookHandler) RemoveBooks(_ context.Context, user *identity.User, req *dto.RemoveBooksRequest) (*dto.RemoveBooksResponse, error) {
	removed, err := h.svc.Catalog.RemoveByTitle(catalog.Owner(user.Username), req.Title)
	if err != nil {
		return nil, catalogError(err)
	}
	return &dto.RemoveBooksResponse{Removed: removed}, nil
}

// ShareLink returns the user's read-only catalog link. Anyone holding the
// link can browse and download, no account needed.
func (h *BookHandler) ShareLink(_ context.Context, user *identity.User, _ *dto.ShareLinkRequest) (*dto.ShareLinkResponse, error) {
	return &dto.ShareLinkResponse{
		URL: h.cfg.BaseURL + "/api/books?shared=true&user=" + url.QueryEscape(user.Username),
	}, nil
}

// ListOrphans lists uploaded PDFs no catalog record references anymore.
func (h *BookHandler) ListOrphans(_ context.Context, user *identity.User, _ *dto.ListOrphansRequest) (*dto.ListOrphansResponse, error) {
	orphans, err := h.svc.Catalog.Orphans(catalog.Owner(user.Username))
	if err != nil {
		return nil, catalogError(err)
	}
	return &dto.ListOrphansResponse{Files: orphans}, nil
}

// ListHistory returns the data directory's commit history.
func (h *BookHandler) ListHistory(ctx context.Context, _ *identity.User, req *dto.ListHistoryRequest) (*dto.ListHistoryResponse, error) {
	resp := &dto.ListHistoryResponse{Commits: []dto.CommitResponse{}}
	if h.svc.RootRepo == nil {
		return resp, nil
	}
	commits, err := h.svc.RootRepo.History(ctx, req.Limit)
	if err != nil {
		return nil, dto.InternalWithError("Failed to read history", err)
	}
	for _, c := range commits {
		resp.Commits = append(resp.Commits, dto.CommitResponse{
			Hash:    c.Hash,
			Message: c.Message,
			Author:  c.Author,
			Date:    fmtTime(c.Date),
		})
	}
	return resp, nil
}

// GetSchema returns the JSON schema of a catalog record, for tooling that
// edits library.json files by hand.
func (h *BookHandler) GetSchema(_ context.Context, _ *dto.GetSchemaRequest) (*jsonschema.Schema, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(&catalog.Book{}), nil
}

// catalogError maps storage errors to API errors.
func catalogError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrReadOnly):
		return dto.Forbidden("Shared access is read-only")
	case errors.Is(err, catalog.ErrBookNotFound):
		return dto.NotFound("book")
	case errors.Is(err, catalog.ErrFileNotFound):
		return dto.NewAPIError(404, dto.ErrorCodeFileNotFound, "File not found")
	case errors.Is(err, identity.ErrInvalidUsername):
		return dto.BadRequest("Invalid username")
	default:
		return dto.InternalWithError("Catalog operation failed", err)
	}
}

// bookToResponse converts a record to its API representation.
func bookToResponse(b *catalog.Book) dto.BookResponse {
	return dto.BookResponse{
		ID:     b.ID.String(),
		Title:  b.Title,
		Author: b.Author,
		Year:   b.Year,
		Genre:  b.Genre,
		HasPDF: b.PDFPath != "",
		Added:  fmtStorageTime(b.Added),
	}
}

func booksToResponse(owner string, books []catalog.Book) *dto.ListBooksResponse {
	resp := &dto.ListBooksResponse{
		Books: make([]dto.BookResponse, 0, len(books)),
		Count: len(books),
		Owner: owner,
	}
	for i := range books {
		resp.Books = append(resp.Books, bookToResponse(&books[i]))
	}
	return resp
}
