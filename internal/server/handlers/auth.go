// Handles user authentication, registration, and session management.

package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"
	"github.com/maruel/shelfdb/internal/server/dto"
	"github.com/maruel/shelfdb/internal/server/reqctx"
	"github.com/maruel/shelfdb/internal/storage"
	"github.com/maruel/shelfdb/internal/storage/identity"
)

const tokenExpiration = 24 * time.Hour

// AuthHandler handles authentication requests.
type AuthHandler struct {
	userService    *identity.UserService
	sessionService *identity.SessionService
	cfg            *Config
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(userService *identity.UserService, sessionService *identity.SessionService, cfg *Config) *AuthHandler {
	return &AuthHandler{
		userService:    userService,
		sessionService: sessionService,
		cfg:            cfg,
	}
}

// HashToken returns the SHA-256 hex digest of a token. Sessions store the
// hash so a leaked session file cannot be replayed as a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Register creates an account and logs it in. Password confirmation is
// already checked by the request's Validate.
func (h *AuthHandler) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.LoginResponse, error) {
	user, err := h.userService.Create(req.Username, req.Password, h.cfg.Quotas.MaxUsers)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserExists):
			return nil, dto.Conflict(dto.ErrorCodeUserExists, "Username already taken")
		case errors.Is(err, identity.ErrInvalidUsername):
			return nil, dto.BadRequest("Invalid username")
		default:
			return nil, dto.InternalWithError("Failed to create user", err)
		}
	}

	token, err := h.GenerateTokenWithSession(user, reqctx.ClientIP(ctx), reqctx.UserAgent(ctx))
	if err != nil {
		return nil, dto.InternalWithError("Failed to generate token", err)
	}

	return &dto.LoginResponse{Token: token, User: userToResponse(user)}, nil
}

// Login authenticates and returns a JWT token. Unknown usernames and wrong
// passwords are reported as distinct error codes.
func (h *AuthHandler) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := h.userService.Authenticate(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			return nil, dto.NewAPIError(401, dto.ErrorCodeUserNotFound, "User not found")
		case errors.Is(err, identity.ErrInvalidPassword):
			return nil, dto.NewAPIError(401, dto.ErrorCodeInvalidPassword, "Invalid password")
		default:
			return nil, dto.InternalWithError("Failed to authenticate", err)
		}
	}

	token, err := h.GenerateTokenWithSession(user, reqctx.ClientIP(ctx), reqctx.UserAgent(ctx))
	if err != nil {
		return nil, dto.InternalWithError("Failed to generate token", err)
	}

	return &dto.LoginResponse{Token: token, User: userToResponse(user)}, nil
}

// GenerateTokenWithSession creates a session and generates a JWT token with
// the session ID embedded, so the session can be revoked server side.
func (h *AuthHandler) GenerateTokenWithSession(user *identity.User, clientIP, userAgent string) (string, error) {
	expiresAt := time.Now().Add(tokenExpiration)

	// Pre-generate the session ID so it can go into the JWT.
	sessionID := ksid.NewID()

	claims := jwt.MapClaims{
		"sub": user.ID.String(),
		"sid": sessionID.String(),
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(h.cfg.JWTSecret)
	if err != nil {
		return "", err
	}

	deviceInfo := userAgent
	if len(deviceInfo) > 200 {
		deviceInfo = deviceInfo[:200]
	}
	countryCode := ""
	if h.cfg.IPGeo != nil {
		countryCode = h.cfg.IPGeo.CountryCode(clientIP)
	}
	if _, err := h.sessionService.CreateWithID(sessionID, user.ID, HashToken(tokenString),
		deviceInfo, clientIP, countryCode, storage.ToTime(expiresAt), h.cfg.Quotas.MaxSessionsPerUser); err != nil {
		return "", err
	}

	return tokenString, nil
}

// Logout revokes the current session.
func (h *AuthHandler) Logout(ctx context.Context, _ *identity.User, _ *dto.LogoutRequest) (*dto.LogoutResponse, error) {
	sessionID := reqctx.SessionID(ctx)
	if sessionID.IsZero() {
		return &dto.LogoutResponse{Ok: true}, nil
	}

	if err := h.sessionService.Revoke(sessionID); err != nil {
		slog.ErrorContext(ctx, "Failed to revoke session", "err", err, "session_id", sessionID)
		return nil, dto.InternalWithError("Failed to logout", err)
	}
	return &dto.LogoutResponse{Ok: true}, nil
}

// GetMe returns the current user info.
func (h *AuthHandler) GetMe(_ context.Context, user *identity.User, _ *dto.GetMeRequest) (*dto.UserResponse, error) {
	return userToResponse(user), nil
}

// ListSessions returns all active sessions for the current user.
func (h *AuthHandler) ListSessions(ctx context.Context, user *identity.User, _ *dto.ListSessionsRequest) (*dto.ListSessionsResponse, error) {
	currentSessionID := reqctx.SessionID(ctx)

	sessions := make([]dto.SessionResponse, 0, 8)
	for session := range h.sessionService.GetActiveByUserID(user.ID) {
		sessions = append(sessions, dto.SessionResponse{
			ID:          session.ID.String(),
			DeviceInfo:  session.DeviceInfo,
			IPAddress:   session.IPAddress,
			CountryCode: session.CountryCode,
			Created:     fmtStorageTime(session.Created),
			LastUsed:    fmtStorageTime(session.LastUsed),
			ExpiresAt:   fmtStorageTime(session.ExpiresAt),
			Current:     session.ID == currentSessionID,
		})
	}
	return &dto.ListSessionsResponse{Sessions: sessions}, nil
}

// RevokeSession revokes one of the current user's sessions by ID.
func (h *AuthHandler) RevokeSession(_ context.Context, user *identity.User, req *dto.RevokeSessionRequest) (*dto.RevokeSessionResponse, error) {
	sessionID, err := ksid.Parse(req.ID)
	if err != nil {
		return nil, dto.BadRequest("Invalid session ID")
	}

	session, err := h.sessionService.Get(sessionID)
	if err != nil {
		return nil, dto.NotFound("session")
	}
	// Users may only revoke their own sessions.
	if session.UserID != user.ID {
		return nil, dto.Forbidden("Not your session")
	}

	if err := h.sessionService.Revoke(sessionID); err != nil {
		return nil, dto.InternalWithError("Failed to revoke session", err)
	}
	return &dto.RevokeSessionResponse{Ok: true}, nil
}

// userToResponse converts a user to its API representation.
func userToResponse(user *identity.User) *dto.UserResponse {
	return &dto.UserResponse{
		ID:       user.ID.String(),
		Username: user.Username,
		Created:  fmtTime(user.Created),
	}
}
