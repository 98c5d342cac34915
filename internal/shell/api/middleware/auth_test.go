package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/launchpad/internal/core/auth"
)

// =============================================================================
// Test Helpers
// =============================================================================

// identityHandler echoes the auth context of the request.
func identityHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"authenticated": ctx.Authenticated,
			"user_id":       ctx.UserID,
		})
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	return resp.Errors[0]
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_ExtractsIdentity(t *testing.T) {
	handler := NewAuthMiddleware(AuthConfig{}).Handler(identityHandler())

	req := httptest.NewRequest("GET", "/api/v1/test", nil)
	req.Header.Set(auth.HeaderUserID, "user_1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["authenticated"])
	assert.Equal(t, "user_1", resp["user_id"])
}

func TestAuthMiddleware_SharedSecret(t *testing.T) {
	handler := NewAuthMiddleware(AuthConfig{SharedSecret: "s3cret"}).Handler(identityHandler())

	tests := []struct {
		name   string
		secret string
		want   int
	}{
		{"missing", "", http.StatusForbidden},
		{"wrong", "nope", http.StatusForbidden},
		{"valid", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.secret != "" {
				req.Header.Set(auth.HeaderGatewaySecret, tt.secret)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// =============================================================================
// RequireWorkspace Tests
// =============================================================================

func TestRequireWorkspace(t *testing.T) {
	guard := RequireWorkspace(nil, func(r *http.Request) string {
		return r.URL.Query().Get("ws")
	})
	handler := NewAuthMiddleware(AuthConfig{}).Handler(guard(identityHandler()))

	tests := []struct {
		name   string
		user   string
		grants string
		ws     string
		want   int
	}{
		{"unauthenticated", "", "", "ws-1", http.StatusUnauthorized},
		{"granted", "user_1", "ws-1", "ws-1", http.StatusOK},
		{"other workspace", "user_1", "ws-1", "ws-2", http.StatusNotFound},
		{"wildcard", "svc", auth.AnyWorkspace, "ws-2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?ws="+tt.ws, nil)
			if tt.user != "" {
				req.Header.Set(auth.HeaderUserID, tt.user)
			}
			if tt.grants != "" {
				req.Header.Set(auth.HeaderWorkspaceIDs, tt.grants)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				assert.Equal(t, strconv.Itoa(tt.want), decodeError(t, rec).Status)
			}
		})
	}
}
