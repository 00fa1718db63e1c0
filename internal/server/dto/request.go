package dto

// --- Auth ---

// LoginRequest is a request to log in.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate validates the login request fields.
func (r *LoginRequest) Validate() error {
	if r.Username == "" {
		return MissingField("username")
	}
	if r.Password == "" {
		return MissingField("password")
	}
	return nil
}

// RegisterRequest is a request to register a new account.
type RegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate validates the register request fields. The password confirmation
// is checked here, before any account state is touched.
func (r *RegisterRequest) Validate() error {
	if r.Username == "" {
		return MissingField("username")
	}
	if r.Password == "" {
		return MissingField("password")
	}
	if r.Password != r.ConfirmPassword {
		return NewAPIError(400, ErrorCodePasswordMismatch, "Passwords do not match")
	}
	return nil
}

// LogoutRequest is a request to revoke the current session.
type LogoutRequest struct{}

// Validate is a no-op for LogoutRequest.
func (r *LogoutRequest) Validate() error {
	return nil
}

// GetMeRequest is a request to get current user info.
type GetMeRequest struct{}

// Validate is a no-op for GetMeRequest.
func (r *GetMeRequest) Validate() error {
	return nil
}

// ListSessionsRequest is a request to list the current user's sessions.
type ListSessionsRequest struct{}

// Validate is a no-op for ListSessionsRequest.
func (r *ListSessionsRequest) Validate() error {
	return nil
}

// RevokeSessionRequest is a request to revoke one of the user's sessions.
type RevokeSessionRequest struct {
	ID string `path:"id"`
}

// Validate validates the revoke session request fields.
func (r *RevokeSessionRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// --- Books ---
//
// Read requests carry the sharing query parameters. When "shared" is present
// the request is served unauthenticated and read-only against the catalog of
// the "user" parameter, defaulting to the guest account.

// ListBooksRequest is a request to list a catalog.
type ListBooksRequest struct {
	Shared string `query:"shared"`
	User   string `query:"user"`
}

// Validate is a no-op for ListBooksRequest.
func (r *ListBooksRequest) Validate() error {
	return nil
}

// SharedTarget reports whether this is a shared-link read and for which user.
func (r *ListBooksRequest) SharedTarget() (bool, string) {
	return r.Shared != "", r.User
}

// SearchBooksRequest is a request to search a catalog by one field.
type SearchBooksRequest struct {
	Field  string `query:"field"`
	Term   string `query:"term"`
	Shared string `query:"shared"`
	User   string `query:"user"`
}

// Validate validates the search request fields. An empty term is allowed and
// matches everything; the field must name a searchable attribute.
func (r *SearchBooksRequest) Validate() error {
	if r.Field == "" {
		return MissingField("field")
	}
	return nil
}

// SharedTarget reports whether this is a shared-link read and for which user.
func (r *SearchBooksRequest) SharedTarget() (bool, string) {
	return r.Shared != "", r.User
}

// GetBookRequest is a request to fetch a single record.
type GetBookRequest struct {
	ID     string `path:"id"`
	Shared string `query:"shared"`
	User   string `query:"user"`
}

// Validate validates the get book request fields.
func (r *GetBookRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// SharedTarget reports whether this is a shared-link read and for which user.
func (r *GetBookRequest) SharedTarget() (bool, string) {
	return r.Shared != "", r.User
}

// RemoveBooksRequest is a request to remove every record matching a title.
type RemoveBooksRequest struct {
	Title string `json:"title"`
}

// Validate validates the remove request fields.
func (r *RemoveBooksRequest) Validate() error {
	if r.Title == "" {
		return MissingField("title")
	}
	return nil
}

// ExportRequest is a request to export a catalog.
type ExportRequest struct {
	Format string `query:"format"`
	Shared string `query:"shared"`
	User   string `query:"user"`
}

// Validate validates the export request fields.
func (r *ExportRequest) Validate() error {
	switch r.Format {
	case "", "json", "yaml":
		return nil
	default:
		return BadRequest("unknown export format: " + r.Format)
	}
}

// SharedTarget reports whether this is a shared-link read and for which user.
func (r *ExportRequest) SharedTarget() (bool, string) {
	return r.Shared != "", r.User
}

// ShareLinkRequest is a request for the current user's read-only share link.
type ShareLinkRequest struct{}

// Validate is a no-op for ShareLinkRequest.
func (r *ShareLinkRequest) Validate() error {
	return nil
}

// ListOrphansRequest is a request to list unreferenced uploaded PDFs.
type ListOrphansRequest struct{}

// Validate is a no-op for ListOrphansRequest.
func (r *ListOrphansRequest) Validate() error {
	return nil
}

// ListHistoryRequest is a request for the data directory's commit history.
type ListHistoryRequest struct {
	Limit int `query:"limit"`
}

// Validate validates the history request fields.
func (r *ListHistoryRequest) Validate() error {
	if r.Limit < 0 {
		return BadRequest("limit must be non-negative")
	}
	return nil
}

// GetSchemaRequest is a request for the JSON schema of a record.
type GetSchemaRequest struct{}

// Validate is a no-op for GetSchemaRequest.
func (r *GetSchemaRequest) Validate() error {
	return nil
}
