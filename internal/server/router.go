// Package server implements the HTTP server and routing logic.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/maruel/shelfdb/internal/server/dto"
	"github.com/maruel/shelfdb/internal/server/handlers"
	"github.com/maruel/shelfdb/internal/server/ratelimit"
)

// NewRouter creates and configures the HTTP router for the API.
func NewRouter(svc *handlers.Services, cfg *handlers.Config, limiters *ratelimit.Config) http.Handler {
	mux := &http.ServeMux{}
	authh := handlers.NewAuthHandler(svc.User, svc.Session, cfg)
	bh := handlers.NewBookHandler(svc, cfg)

	// Health check
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dto.HealthResponse{Status: "ok", Version: cfg.Version})
	})

	// Auth endpoints. Register and login mutate the identity tables, so they
	// go through WrapWithSvc for the data commit hook.
	mux.Handle("POST /api/auth/register", WrapWithSvc(authh.Register, svc, cfg, limiters))
	mux.Handle("POST /api/auth/login", WrapWithSvc(authh.Login, svc, cfg, limiters))
	mux.Handle("POST /api/auth/logout", WrapAuth(authh.Logout, svc, cfg, limiters))
	mux.Handle("GET /api/auth/me", WrapAuth(authh.GetMe, svc, cfg, limiters))
	mux.Handle("GET /api/auth/sessions", WrapAuth(authh.ListSessions, svc, cfg, limiters))
	mux.Handle("DELETE /api/auth/sessions/{id}", WrapAuth(authh.RevokeSession, svc, cfg, limiters))

	// Catalog reads. These serve both the owner (JWT) and shared links
	// (?shared=true&user=NAME, unauthenticated and read-only).
	mux.Handle("GET /api/books", WrapShared(bh.ListBooks, svc, cfg, limiters))
	mux.Handle("GET /api/books/search", WrapShared(bh.SearchBooks, svc, cfg, limiters))
	mux.Handle("GET /api/books/{id}", WrapShared(bh.GetBook, svc, cfg, limiters))
	mux.Handle("GET /api/books/{id}/pdf", WrapSharedRaw(bh.DownloadPDF, svc, cfg, limiters))
	mux.Handle("GET /api/export", WrapSharedRaw(bh.Export, svc, cfg, limiters))

	// Catalog writes, owner only.
	mux.Handle("POST /api/books", WrapAuthRaw(bh.AddBook, svc, cfg, limiters))
	mux.Handle("DELETE /api/books", WrapAuth(bh.RemoveBooks, svc, cfg, limiters))

	// Owner utilities.
	mux.Handle("GET /api/share", WrapAuth(bh.ShareLink, svc, cfg, limiters))
	mux.Handle("GET /api/books/orphans", WrapAuth(bh.ListOrphans, svc, cfg, limiters))
	mux.Handle("GET /api/history", WrapAuth(bh.ListHistory, svc, cfg, limiters))

	// Record schema, public.
	mux.Handle("GET /api/schema", Wrap(bh.GetSchema, cfg, limiters))

	return mux
}
