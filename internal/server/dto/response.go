package dto

// --- Common Responses ---

// OkResponse is a simple success response.
type OkResponse struct {
	Ok bool `json:"ok"`
}

// --- Auth Responses ---

// UserResponse is the API representation of a user account.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Created  string `json:"created"`
}

// LoginResponse is a response from logging in or registering.
type LoginResponse struct {
	Token string        `json:"token"`
	User  *UserResponse `json:"user"`
}

// LogoutResponse is a response from logging out.
type LogoutResponse = OkResponse

// SessionResponse is the API representation of a session.
type SessionResponse struct {
	ID          string `json:"id"`
	DeviceInfo  string `json:"device_info,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Created     string `json:"created"`
	LastUsed    string `json:"last_used,omitempty"`
	ExpiresAt   string `json:"expires_at"`
	Current     bool   `json:"current"`
}

// ListSessionsResponse is a response containing the user's active sessions.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// RevokeSessionResponse is a response from revoking a session.
type RevokeSessionResponse = OkResponse

// --- Book Responses ---

// BookResponse is the API representation of a catalog record.
type BookResponse struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Year   string `json:"year"`
	Genre  string `json:"genre"`
	HasPDF bool   `json:"has_pdf"`
	Added  string `json:"added,omitempty"`
}

// ListBooksResponse is a response containing a catalog.
type ListBooksResponse struct {
	Books []BookResponse `json:"books"`
	Count int            `json:"count"`
	// Owner is the catalog's username; relevant for shared reads.
	Owner string `json:"owner"`
}

// SearchBooksResponse is a response containing search matches.
type SearchBooksResponse = ListBooksResponse

// AddBookResponse is a response from adding a record.
type AddBookResponse struct {
	Book BookResponse `json:"book"`
}

// GetBookResponse is a response containing a single record.
type GetBookResponse = AddBookResponse

// RemoveBooksResponse is a response from removing records by title.
type RemoveBooksResponse struct {
	Removed int `json:"removed"`
}

// ShareLinkResponse is a response containing the user's read-only link.
type ShareLinkResponse struct {
	URL string `json:"url"`
}

// ListOrphansResponse is a response listing unreferenced uploaded PDFs.
type ListOrphansResponse struct {
	Files []string `json:"files"`
}

// CommitResponse is the API representation of a data-directory commit.
type CommitResponse struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

// ListHistoryResponse is a response containing data-directory history.
type ListHistoryResponse struct {
	Commits []CommitResponse `json:"commits"`
}

// HealthResponse is a response from the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
