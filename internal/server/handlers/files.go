// Handles raw endpoints: multipart book upload, PDF download, export.

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maruel/ksid"
	"github.com/maruel/shelfdb/internal/server/dto"
	"github.com/maruel/shelfdb/internal/server/reqctx"
	"github.com/maruel/shelfdb/internal/storage/catalog"
	"gopkg.in/yaml.v3"
)

// AddBook handles POST /api/books as a multipart form: metadata fields plus
// an optional "pdf" file part. The authenticated user comes from the request
// context, placed there by the auth wrapper.
func (h *BookHandler) AddBook(w http.ResponseWriter, r *http.Request) {
	user := reqctx.User(r.Context())
	if user == nil {
		writeError(w, dto.Unauthorized())
		return
	}

	// Parse with a small memory cap; bigger parts spill to temp files.
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
			writeError(w, dto.PayloadTooLarge(maxErr.Limit))
			return
		}
		writeError(w, dto.BadRequest("Invalid multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	title := r.FormValue("title")
	if title == "" {
		writeError(w, dto.MissingField("title"))
		return
	}

	var pdfName string
	var pdfData []byte
	if file, header, err := r.FormFile("pdf"); err == nil {
		defer func() { _ = file.Close() }()
		if h.cfg.Quotas.MaxPDFSizeBytes > 0 && header.Size > h.cfg.Quotas.MaxPDFSizeBytes {
			writeError(w, dto.PayloadTooLarge(h.cfg.Quotas.MaxPDFSizeBytes))
			return
		}
		if h.cfg.Quotas.MaxTotalStorageBytes > 0 {
			used, err := h.svc.PDFs.TotalSize()
			if err != nil {
				writeError(w, dto.InternalWithError("Failed to check storage quota", err))
				return
			}
			if used+header.Size > h.cfg.Quotas.MaxTotalStorageBytes {
				writeError(w, dto.QuotaExceeded("storage", h.cfg.Quotas.MaxTotalStorageBytes))
				return
			}
		}
		pdfData, err = io.ReadAll(file)
		if err != nil {
			writeError(w, dto.InternalWithError("Failed to read upload", err))
			return
		}
		pdfName = header.Filename
	}

	book, err := h.svc.Catalog.Add(catalog.Owner(user.Username),
		title, r.FormValue("author"), r.FormValue("year"), r.FormValue("genre"),
		pdfName, pdfData)
	if err != nil {
		if errors.Is(err, catalog.ErrNotPDF) {
			writeError(w, dto.BadRequest("Only PDF files are accepted"))
			return
		}
		writeError(w, catalogError(err))
		return
	}

	writeJSON(w, http.StatusCreated, &dto.AddBookResponse{Book: bookToResponse(book)})
}

// DownloadPDF handles GET /api/books/{id}/pdf. Works for the owner and
// through a shared link.
func (h *BookHandler) DownloadPDF(w http.ResponseWriter, r *http.Request, access catalog.Access) {
	id, err := ksid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, dto.BadRequest("Invalid book ID"))
		return
	}

	book, data, err := h.svc.Catalog.ReadPDF(access, id)
	if err != nil {
		writeError(w, catalogError(err))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(book.Title+".pdf"))
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "Failed to write PDF response", "err", err)
	}
}

// Export handles GET /api/export, writing the whole catalog as JSON or YAML.
func (h *BookHandler) Export(w http.ResponseWriter, r *http.Request, access catalog.Access) {
	format := r.URL.Query().Get("format")
	books, err := h.svc.Catalog.List(access)
	if err != nil {
		writeError(w, catalogError(err))
		return
	}

	switch format {
	case "yaml":
		data, err := yaml.Marshal(books)
		if err != nil {
			writeError(w, dto.InternalWithError("Failed to marshal catalog", err))
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", "attachment; filename=\"library.yaml\"")
		_, _ = w.Write(data)
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=\"library.json\"")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(books)
	default:
		writeError(w, dto.BadRequest("unknown export format: "+format))
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// writeError writes an error as the standard JSON error response.
func writeError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	details := dto.ErrorDetails{Code: dto.ErrorCodeInternal, Message: err.Error()}
	var extra map[string]any

	var ewsErr dto.ErrorWithStatus
	if errors.As(err, &ewsErr) {
		statusCode = ewsErr.StatusCode()
		details.Code = ewsErr.Code()
		extra = ewsErr.Details()
	}
	writeJSON(w, statusCode, dto.ErrorResponse{Error: details, Details: extra})
}
