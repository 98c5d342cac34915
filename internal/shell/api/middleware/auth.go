// Package middleware provides HTTP middleware for the launchpad API.
//
// Authentication is done by the upstream gateway. The middleware here only
// verifies the request came through it and reads the identity it attached.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/artpar/launchpad/internal/core/auth"
)

// =============================================================================
// Auth Configuration
// =============================================================================

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// SharedSecret is compared with the X-Gateway-Secret header. Empty
	// disables the check.
	SharedSecret string

	Logger *slog.Logger
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware stores the gateway identity in the request context.
type AuthMiddleware struct {
	config AuthConfig
}

// NewAuthMiddleware creates a new auth middleware with the given config.
func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuthMiddleware{config: cfg}
}

// Handler returns the middleware handler function.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.SharedSecret != "" {
			got := r.Header.Get(auth.HeaderGatewaySecret)
			if subtle.ConstantTimeCompare([]byte(got), []byte(m.config.SharedSecret)) != 1 {
				m.config.Logger.Warn("invalid gateway secret",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				WriteJSONError(w, http.StatusForbidden, "Forbidden", "Invalid gateway secret")
				return
			}
		}

		ctx := auth.ExtractFromRequest(r)
		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ctx)))
	})
}

// =============================================================================
// Workspace Guard
// =============================================================================

// RequireWorkspace rejects requests whose caller was not granted the
// workspace returned by workspaceID. Must be used after AuthMiddleware.
func RequireWorkspace(logger *slog.Logger, workspaceID func(*http.Request) string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.FromContext(r.Context())
			if !ctx.Authenticated {
				WriteJSONError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
				return
			}
			if ws := workspaceID(r); !auth.CanAccessWorkspace(ctx, ws) {
				logger.Warn("workspace access denied",
					"user_id", ctx.UserID,
					"workspace_id", ws,
					"path", r.URL.Path,
				)
				// 404 so callers cannot discover which workspaces exist.
				WriteJSONError(w, http.StatusNotFound, "Not Found", "Workspace not found")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// JSON Error Response
// =============================================================================

// APIError is one error object of an error response.
type APIError struct {
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Errors []APIError `json:"errors"`
}

// WriteJSONError writes a single-error response.
func WriteJSONError(w http.ResponseWriter, status int, title, detail string) {
	WriteAPIError(w, status, APIError{Title: title, Detail: detail})
}

// WriteAPIError writes e with its status filled in from status.
func WriteAPIError(w http.ResponseWriter, status int, e APIError) {
	e.Status = strconv.Itoa(status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Errors: []APIError{e}})
}
