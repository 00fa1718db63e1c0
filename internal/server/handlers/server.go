// Package handlers implements the HTTP API handlers.
package handlers

import (
	"time"

	"github.com/maruel/shelfdb/internal/server/ipgeo"
	"github.com/maruel/shelfdb/internal/storage"
	"github.com/maruel/shelfdb/internal/storage/catalog"
	"github.com/maruel/shelfdb/internal/storage/git"
	"github.com/maruel/shelfdb/internal/storage/identity"
)

// Services bundles the storage services the handlers and wrappers need.
type Services struct {
	User    *identity.UserService
	Session *identity.SessionService
	Catalog *catalog.Service
	PDFs    *catalog.PDFStore
	// RootRepo versions the data directory. Nil when git versioning is off.
	RootRepo *git.Repo
}

// Config carries server-level settings into the handlers.
type Config struct {
	JWTSecret []byte
	Quotas    storage.ServerQuotas
	// BaseURL is the externally visible URL, used to build share links.
	BaseURL string
	Version string
	DataDir string
	// IPGeo resolves login IPs to country codes. Nil when no MMDB is configured.
	IPGeo *ipgeo.Checker
}

// GitAuthor builds a commit author from the acting user.
func GitAuthor(user *identity.User) git.Author {
	if user == nil {
		return git.Author{}
	}
	return git.Author{
		Name:  user.Username,
		Email: user.Username + "@shelfdb.local",
	}
}

// fmtTime formats a timestamp for API responses.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// fmtStorageTime formats a storage timestamp, empty when unset.
func fmtStorageTime(t storage.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmtTime(t.AsTime())
}
