package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/maruel/shelfdb/internal/server/dto"
	"github.com/maruel/shelfdb/internal/server/handlers"
	"github.com/maruel/shelfdb/internal/server/ratelimit"
	"github.com/maruel/shelfdb/internal/storage"
	"github.com/maruel/shelfdb/internal/storage/catalog"
	"github.com/maruel/shelfdb/internal/storage/identity"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dataDir := t.TempDir()

	userService, err := identity.NewUserService(filepath.Join(dataDir, "users.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	sessionService, err := identity.NewSessionService(filepath.Join(dataDir, "sessions.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	userDataDir := filepath.Join(dataDir, "user_data")
	store, err := catalog.NewStore(t.Context(), userDataDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error(err)
		}
	})
	pdfs := catalog.NewPDFStore(userDataDir)

	svc := &handlers.Services{
		User:    userService,
		Session: sessionService,
		Catalog: catalog.NewService(store, pdfs, 0),
		PDFs:    pdfs,
	}
	cfg := &handlers.Config{
		JWTSecret: []byte("0123456789abcdef0123456789abcdef"),
		Quotas:    storage.DefaultServerQuotas(),
		BaseURL:   "http://shelf.example",
		Version:   "test",
		DataDir:   dataDir,
	}
	// All limits zero: rate limiting off for functional tests.
	limiters := ratelimit.NewConfig(storage.RateLimits{})
	t.Cleanup(limiters.Close)

	srv := httptest.NewServer(NewRouter(svc, cfg, limiters))
	t.Cleanup(srv.Close)
	return srv
}

// doJSON performs a request with an optional JSON body and bearer token,
// decoding the response body into out when non-nil.
func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func register(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	var resp dto.LoginResponse
	status := doJSON(t, srv, "POST", "/api/auth/register", "", &dto.RegisterRequest{
		Username: username, Password: password, ConfirmPassword: password,
	}, &resp)
	if status != http.StatusOK {
		t.Fatalf("Register returned %d", status)
	}
	if resp.Token == "" {
		t.Fatal("Register returned no token")
	}
	return resp.Token
}

func addBook(t *testing.T, srv *httptest.Server, token, title, author, year, genre, pdfName string, pdfData []byte) dto.BookResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"title": title, "author": author, "year": year, "genre": genre} {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if pdfName != "" {
		part, err := mw.CreateFormFile("pdf", pdfName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(pdfData); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest("POST", srv.URL+"/api/books", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("AddBook returned %d: %s", resp.StatusCode, body)
	}
	var out dto.AddBookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Book
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)

	// Password confirmation mismatch fails before any account is created.
	var errResp dto.ErrorResponse
	status := doJSON(t, srv, "POST", "/api/auth/register", "", &dto.RegisterRequest{
		Username: "alice", Password: "pw1", ConfirmPassword: "pw2",
	}, &errResp)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", status)
	}
	if errResp.Error.Code != dto.ErrorCodePasswordMismatch {
		t.Errorf("Expected PASSWORD_MISMATCH, got %s", errResp.Error.Code)
	}

	token := register(t, srv, "alice", "password123")

	// Duplicate registration conflicts and leaves the account intact.
	status = doJSON(t, srv, "POST", "/api/auth/register", "", &dto.RegisterRequest{
		Username: "alice", Password: "other", ConfirmPassword: "other",
	}, &errResp)
	if status != http.StatusConflict || errResp.Error.Code != dto.ErrorCodeUserExists {
		t.Errorf("Expected 409 USER_EXISTS, got %d %s", status, errResp.Error.Code)
	}

	// Unknown user and wrong password are distinct 401s.
	status = doJSON(t, srv, "POST", "/api/auth/login", "", &dto.LoginRequest{Username: "bob", Password: "x"}, &errResp)
	if status != http.StatusUnauthorized || errResp.Error.Code != dto.ErrorCodeUserNotFound {
		t.Errorf("Expected 401 USER_NOT_FOUND, got %d %s", status, errResp.Error.Code)
	}
	status = doJSON(t, srv, "POST", "/api/auth/login", "", &dto.LoginRequest{Username: "alice", Password: "x"}, &errResp)
	if status != http.StatusUnauthorized || errResp.Error.Code != dto.ErrorCodeInvalidPassword {
		t.Errorf("Expected 401 INVALID_PASSWORD, got %d %s", status, errResp.Error.Code)
	}

	var me dto.UserResponse
	if status := doJSON(t, srv, "GET", "/api/auth/me", token, nil, &me); status != http.StatusOK {
		t.Fatalf("GetMe returned %d", status)
	}
	if me.Username != "alice" {
		t.Errorf("Expected alice, got %s", me.Username)
	}

	// Logout revokes the session; the token stops working.
	if status := doJSON(t, srv, "POST", "/api/auth/logout", token, nil, nil); status != http.StatusOK {
		t.Fatalf("Logout returned %d", status)
	}
	if status := doJSON(t, srv, "GET", "/api/auth/me", token, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected 401 after logout, got %d", status)
	}
}

func TestCatalogFlow(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv, "alice", "password123")

	addBook(t, srv, token, "Dune", "Frank Herbert", "1965", "scifi", "dune.pdf", []byte("%PDF-1.4"))
	addBook(t, srv, token, "DUNE", "Frank Herbert", "1965", "scifi", "", nil)
	addBook(t, srv, token, "Emma", "Jane Austen", "1815", "romance", "", nil)

	var list dto.ListBooksResponse
	if status := doJSON(t, srv, "GET", "/api/books", token, nil, &list); status != http.StatusOK {
		t.Fatalf("ListBooks returned %d", status)
	}
	if list.Count != 3 || list.Books[2].Title != "Emma" {
		t.Fatalf("Unexpected list: %+v", list)
	}
	if !list.Books[0].HasPDF || list.Books[1].HasPDF {
		t.Error("HasPDF flags wrong")
	}

	// Search is a case-insensitive substring match, order preserved.
	var found dto.SearchBooksResponse
	if status := doJSON(t, srv, "GET", "/api/books/search?field=author&term=herbert", token, nil, &found); status != http.StatusOK {
		t.Fatalf("Search returned %d", status)
	}
	if found.Count != 2 {
		t.Errorf("Expected 2 matches, got %d", found.Count)
	}
	var errResp dto.ErrorResponse
	if status := doJSON(t, srv, "GET", "/api/books/search?field=isbn&term=x", token, nil, &errResp); status != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown field, got %d", status)
	}

	// Removal matches every case variant of the title.
	var removed dto.RemoveBooksResponse
	if status := doJSON(t, srv, "DELETE", "/api/books", token, &dto.RemoveBooksRequest{Title: "dune"}, &removed); status != http.StatusOK {
		t.Fatalf("RemoveBooks returned %d", status)
	}
	if removed.Removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed.Removed)
	}
	if status := doJSON(t, srv, "DELETE", "/api/books", token, &dto.RemoveBooksRequest{Title: "dune"}, &removed); status != http.StatusOK || removed.Removed != 0 {
		t.Errorf("Expected 0 removed on repeat, got %d (status %d)", removed.Removed, status)
	}

	// The removed book's upload lingers as an orphan.
	var orphans dto.ListOrphansResponse
	if status := doJSON(t, srv, "GET", "/api/books/orphans", token, nil, &orphans); status != http.StatusOK {
		t.Fatalf("ListOrphans returned %d", status)
	}
	if len(orphans.Files) != 1 || orphans.Files[0] != "dune.pdf" {
		t.Errorf("Expected [dune.pdf], got %v", orphans.Files)
	}
}

func TestSharedAccess(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv, "alice", "password123")
	book := addBook(t, srv, token, "Dune", "Frank Herbert", "1965", "scifi", "dune.pdf", []byte("%PDF-1.4"))

	// The share link endpoint points at the shared read URL.
	var link dto.ShareLinkResponse
	if status := doJSON(t, srv, "GET", "/api/share", token, nil, &link); status != http.StatusOK {
		t.Fatalf("ShareLink returned %d", status)
	}
	if link.URL != "http://shelf.example/api/books?shared=true&user=alice" {
		t.Errorf("Unexpected share link: %s", link.URL)
	}

	// Shared reads need no token and see the owner's catalog.
	var list dto.ListBooksResponse
	if status := doJSON(t, srv, "GET", "/api/books?shared=true&user=alice", "", nil, &list); status != http.StatusOK {
		t.Fatalf("Shared list returned %d", status)
	}
	if list.Count != 1 || list.Owner != "alice" {
		t.Fatalf("Unexpected shared list: %+v", list)
	}

	var found dto.SearchBooksResponse
	if status := doJSON(t, srv, "GET", "/api/books/search?shared=true&user=alice&field=title&term=dune", "", nil, &found); status != http.StatusOK {
		t.Fatalf("Shared search returned %d", status)
	}
	if found.Count != 1 {
		t.Errorf("Expected 1 shared match, got %d", found.Count)
	}

	// Shared PDF download works without a token too.
	resp, err := srv.Client().Get(srv.URL + fmt.Sprintf("/api/books/%s/pdf?shared=true&user=alice", book.ID))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(data) != "%PDF-1.4" {
		t.Errorf("Shared download: status %d, body %q", resp.StatusCode, data)
	}

	// Unknown shared user is an empty catalog, and so is the guest default.
	if status := doJSON(t, srv, "GET", "/api/books?shared=true&user=nobody", "", nil, &list); status != http.StatusOK || list.Count != 0 {
		t.Errorf("Expected empty catalog for unknown user, got %d books (status %d)", list.Count, status)
	}
	if status := doJSON(t, srv, "GET", "/api/books?shared=true", "", nil, &list); status != http.StatusOK || list.Owner != "guest" {
		t.Errorf("Expected guest fallback, got %+v (status %d)", list, status)
	}

	// Reads without the shared flag still require a token.
	if status := doJSON(t, srv, "GET", "/api/books", "", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", status)
	}
	// And writes are never available through sharing.
	if status := doJSON(t, srv, "DELETE", "/api/books?shared=true&user=alice", "", &dto.RemoveBooksRequest{Title: "Dune"}, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected 401 for shared write, got %d", status)
	}
}

func TestExportAndSchema(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv, "alice", "password123")
	addBook(t, srv, token, "Dune", "Frank Herbert", "1965", "scifi", "", nil)

	for _, format := range []string{"json", "yaml"} {
		req, err := http.NewRequest("GET", srv.URL+"/api/export?format="+format, nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Export %s returned %d", format, resp.StatusCode)
		}
		if !bytes.Contains(data, []byte("Dune")) {
			t.Errorf("Export %s missing record: %q", format, data)
		}
	}

	// The schema endpoint is public.
	var schema map[string]any
	if status := doJSON(t, srv, "GET", "/api/schema", "", nil, &schema); status != http.StatusOK {
		t.Fatalf("Schema returned %d", status)
	}
	if _, ok := schema["properties"]; !ok {
		t.Errorf("Schema missing properties: %v", schema)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	var health dto.HealthResponse
	if status := doJSON(t, srv, "GET", "/api/health", "", nil, &health); status != http.StatusOK {
		t.Fatalf("Health returned %d", status)
	}
	if health.Status != "ok" || health.Version != "test" {
		t.Errorf("Unexpected health response: %+v", health)
	}
}
