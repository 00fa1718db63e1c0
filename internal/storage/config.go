// Manages server configuration stored in server_config.json.

package storage

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ServerConfig stores all server-wide configuration.
// Loaded from server_config.json, created with defaults if missing.
type ServerConfig struct {
	// JWTSecret is the secret used to sign JWT tokens.
	// Auto-generated if empty on first load.
	JWTSecret []byte `json:"jwt_secret"`

	// Quotas defines server-wide resource limits.
	Quotas ServerQuotas `json:"quotas"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `json:"rate_limits"`

	// GitVersioning enables committing data directory changes to a local
	// git repository after every mutating request.
	GitVersioning bool `json:"git_versioning"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// AuthRatePerMin limits authentication attempts (login, register).
	// 0 means unlimited.
	AuthRatePerMin int `json:"auth_rate_per_min"`

	// WriteRatePerMin limits write operations (POST/DELETE).
	// 0 means unlimited.
	WriteRatePerMin int `json:"write_rate_per_min"`

	// ReadAuthRatePerMin limits authenticated read operations.
	// 0 means unlimited.
	ReadAuthRatePerMin int `json:"read_auth_rate_per_min"`

	// ReadUnauthRatePerMin limits unauthenticated read operations,
	// including shared library views.
	// 0 means unlimited.
	ReadUnauthRatePerMin int `json:"read_unauth_rate_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.AuthRatePerMin < 0 {
		return errors.New("auth_rate_per_min must be non-negative")
	}
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.ReadAuthRatePerMin < 0 {
		return errors.New("read_auth_rate_per_min must be non-negative")
	}
	if r.ReadUnauthRatePerMin < 0 {
		return errors.New("read_unauth_rate_per_min must be non-negative")
	}
	return nil
}

// DefaultRateLimits returns the default rate limits.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		AuthRatePerMin:       5,     // 5 req/min for auth
		WriteRatePerMin:      60,    // 60 req/min for writes
		ReadAuthRatePerMin:   30000, // 30k req/min for authenticated reads
		ReadUnauthRatePerMin: 6000,  // 6k req/min for unauthenticated reads
	}
}

// ServerQuotas defines server-wide resource limits.
type ServerQuotas struct {
	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `json:"max_request_body_bytes"`

	// MaxPDFSizeBytes limits the size of a single uploaded PDF.
	MaxPDFSizeBytes int64 `json:"max_pdf_size_bytes"`

	// MaxSessionsPerUser limits active sessions per user.
	MaxSessionsPerUser int `json:"max_sessions_per_user"`

	// MaxUsers limits total registered users on the server.
	MaxUsers int `json:"max_users"`

	// MaxBooksPerUser limits catalog entries per user. 0 means unlimited.
	MaxBooksPerUser int `json:"max_books_per_user"`

	// MaxTotalStorageBytes limits total PDF storage across all users.
	MaxTotalStorageBytes int64 `json:"max_total_storage_bytes"`
}

// Validate checks that all quota values are non-negative.
// MaxPDFSizeBytes must be positive (it's the ultimate fallback).
func (q *ServerQuotas) Validate() error {
	if q.MaxPDFSizeBytes <= 0 {
		return errors.New("max_pdf_size_bytes must be positive")
	}
	if q.MaxRequestBodyBytes < 0 {
		return errors.New("max_request_body_bytes must be non-negative")
	}
	if q.MaxSessionsPerUser < 0 {
		return errors.New("max_sessions_per_user must be non-negative")
	}
	if q.MaxUsers < 0 {
		return errors.New("max_users must be non-negative")
	}
	if q.MaxBooksPerUser < 0 {
		return errors.New("max_books_per_user must be non-negative")
	}
	if q.MaxTotalStorageBytes < 0 {
		return errors.New("max_total_storage_bytes must be non-negative")
	}
	return nil
}

// DefaultServerQuotas returns the default server-wide quotas.
func DefaultServerQuotas() ServerQuotas {
	return ServerQuotas{
		MaxRequestBodyBytes:  50 * 1024 * 1024, // 50 MiB, PDFs are uploaded inline
		MaxPDFSizeBytes:      50 * 1024 * 1024, // 50 MiB
		MaxSessionsPerUser:   10,               // 10 sessions
		MaxUsers:             1000,             // 1000 users
		MaxBooksPerUser:      0,                // unlimited
		MaxTotalStorageBytes: 100 * 1024 * 1024 * 1024, // 100 GiB
	}
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if len(c.JWTSecret) == 0 {
		return errors.New("jwt_secret is required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if err := c.Quotas.Validate(); err != nil {
		return fmt.Errorf("quotas: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	return nil
}

// LoadServerConfig loads configuration from dataDir/server_config.json.
// Creates the file with defaults if it doesn't exist.
// Auto-generates JWTSecret if empty.
func LoadServerConfig(dataDir string) (*ServerConfig, error) {
	path := filepath.Join(dataDir, "server_config.json")

	cfg := ServerConfig{Quotas: DefaultServerQuotas(), RateLimits: DefaultRateLimits()}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read server_config.json: %w", err)
		}
		// File doesn't exist, will create with defaults
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse server_config.json: %w", err)
		}
	}

	// Auto-generate JWT secret if missing
	modified := false
	if len(cfg.JWTSecret) == 0 {
		cfg.JWTSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.JWTSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		modified = true
	}

	// Save if we created defaults or generated a secret
	if modified || errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	}

	// Validate the loaded configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server_config.json: %w", err)
	}

	return &cfg, nil
}

// Save saves configuration to dataDir/server_config.json.
func (c *ServerConfig) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dataDir, "server_config.json"), data, 0o600); err != nil {
		return fmt.Errorf("failed to write server_config.json: %w", err)
	}
	return nil
}
