// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"time"

	"github.com/maruel/shelfdb/internal/storage"
)

// Scope defines how rate limit keys are determined.
type Scope int

const (
	// ScopeIP uses client IP address as the rate limit key.
	ScopeIP Scope = iota
	// ScopeUser uses authenticated user ID as the rate limit key.
	ScopeUser
)

// Tier defines a rate limit tier with its limiter and scope.
type Tier struct {
	Name    string
	Limiter *Limiter
	Scope   Scope
}

// Config holds rate limiters for different tiers.
type Config struct {
	Auth       Tier
	Write      Tier
	ReadAuth   Tier // authenticated read
	ReadUnauth Tier // shared links and other unauthenticated reads
}

// NewConfig creates a Config from the server's per-minute limits:
//   - Auth (login/register): IP scope, tight to slow brute force
//   - Write: user scope
//   - Read (authenticated): user scope
//   - Read (unauthenticated): IP scope, covers shared links
//
// A zero or negative limit disables the corresponding tier.
func NewConfig(limits storage.RateLimits) *Config {
	return &Config{
		Auth:       newTier("auth", limits.AuthRatePerMin, limits.AuthRatePerMin, ScopeIP),
		Write:      newTier("write", limits.WriteRatePerMin, limits.WriteRatePerMin/6, ScopeUser),
		ReadAuth:   newTier("read", limits.ReadAuthRatePerMin, limits.ReadAuthRatePerMin/6, ScopeUser),
		ReadUnauth: newTier("read", limits.ReadUnauthRatePerMin, limits.ReadUnauthRatePerMin/6, ScopeIP),
	}
}

func newTier(name string, requests, burst int, scope Scope) Tier {
	t := Tier{Name: name, Scope: scope}
	if requests > 0 {
		t.Limiter = NewLimiter(requests, time.Minute, max(burst, 1))
	}
	return t
}

// MatchUnauth returns the tier for unauthenticated requests.
// Returns nil for paths that should not be rate limited.
func (c *Config) MatchUnauth(method, path string) *Tier {
	// Skip health check
	if path == "/api/health" {
		return nil
	}

	if isAuthEndpoint(method, path) {
		return enabled(&c.Auth)
	}

	// All other unauthenticated GETs, which in practice means shared links.
	if method == "GET" {
		return enabled(&c.ReadUnauth)
	}

	return nil
}

// MatchAuth returns the tier for authenticated requests.
// Returns nil for paths that should not be rate limited.
func (c *Config) MatchAuth(method, path string) *Tier {
	// Skip health check
	if path == "/api/health" {
		return nil
	}

	// Write operations: POST and DELETE
	if method == "POST" || method == "DELETE" {
		return enabled(&c.Write)
	}

	// Read operations
	if method == "GET" {
		return enabled(&c.ReadAuth)
	}

	return nil
}

// enabled returns the tier, or nil when its limit is disabled.
func enabled(t *Tier) *Tier {
	if t.Limiter == nil {
		return nil
	}
	return t
}

// Close stops all limiter cleanup goroutines.
func (c *Config) Close() {
	for _, t := range []*Tier{&c.Auth, &c.Write, &c.ReadAuth, &c.ReadUnauth} {
		if t.Limiter != nil {
			t.Limiter.Close()
		}
	}
}

// isAuthEndpoint checks if the path is an authentication endpoint.
func isAuthEndpoint(method, path string) bool {
	return method == "POST" && (path == "/api/auth/login" || path == "/api/auth/register")
}
