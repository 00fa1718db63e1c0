// Response header injection and bucket keys for the rate limit tiers.

package ratelimit

import (
	"net/http"
	"strconv"
)

// WriteHeaders writes the X-RateLimit-* headers describing the caller's
// bucket, on allowed and rejected responses alike, so API clients can pace
// catalog polling before running into a 429.
func WriteHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}

// rateLimitResponseWriter injects the rate limit headers exactly once,
// before the first header or body write of the wrapped handler.
type rateLimitResponseWriter struct {
	http.ResponseWriter
	result Result
	wrote  bool
}

// NewResponseWriter wraps w so the headers for result reach the response no
// matter how the handler writes it.
func NewResponseWriter(w http.ResponseWriter, result Result) *rateLimitResponseWriter {
	return &rateLimitResponseWriter{ResponseWriter: w, result: result}
}

func (rw *rateLimitResponseWriter) ensureHeaders() {
	if !rw.wrote {
		WriteHeaders(rw.ResponseWriter, rw.result)
		rw.wrote = true
	}
}

// WriteHeader implements http.ResponseWriter.
func (rw *rateLimitResponseWriter) WriteHeader(statusCode int) {
	rw.ensureHeaders()
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Write implements http.ResponseWriter.
func (rw *rateLimitResponseWriter) Write(b []byte) (int, error) {
	rw.ensureHeaders()
	return rw.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer, for raw handlers that stream PDFs.
func (rw *rateLimitResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// BuildKey builds the bucket key for one caller in one tier, for example
// "ip:203.0.113.9:auth" for a login attempt or "user:<id>:write" for a
// catalog mutation.
func BuildKey(scope Scope, identifier, tierName string) string {
	prefix := "ip"
	if scope == ScopeUser {
		prefix = "user"
	}
	return prefix + ":" + identifier + ":" + tierName
}
