// Package auth reads the caller identity the upstream gateway attaches to
// each request and decides which workspaces it may act on.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

type contextKey string

const authContextKey contextKey = "auth"

// =============================================================================
// Types
// =============================================================================

// Context is the authenticated caller of one request.
type Context struct {
	// UserID is the gateway user id. It is recorded as triggeredBy.
	UserID string

	// WorkspaceIDs are the workspaces the gateway granted. AnyWorkspace
	// grants all of them.
	WorkspaceIDs []string

	// KeyID is set when an API key was used instead of a session.
	KeyID string

	Authenticated bool
}

// AnyWorkspace is the grant for service accounts that operate on every
// workspace.
const AnyWorkspace = "*"

// =============================================================================
// Header Constants
// =============================================================================

const (
	HeaderUserID       = "X-User-ID"
	HeaderWorkspaceIDs = "X-Workspace-IDs"
	HeaderKeyID        = "X-Key-ID"

	// HeaderGatewaySecret carries the shared secret proving the request came
	// through the gateway.
	HeaderGatewaySecret = "X-Gateway-Secret"
)

// =============================================================================
// Context Extraction
// =============================================================================

// HeaderGetter is satisfied by http.Header and MapHeaderGetter.
type HeaderGetter interface {
	Get(key string) string
}

// ExtractFromRequest extracts the caller from request headers.
func ExtractFromRequest(r *http.Request) Context {
	return ExtractFromHeaders(r.Header)
}

// ExtractFromHeaders reads X-User-ID, falling back to the sub claim of a
// bearer token. The token signature is not checked; the gateway did that.
// A request without either is unauthenticated.
func ExtractFromHeaders(headers HeaderGetter) Context {
	userID := strings.TrimSpace(headers.Get(HeaderUserID))
	if userID == "" {
		claims := parseBearer(headers.Get("Authorization"))
		if claims == nil || claims.Sub == "" {
			return Context{}
		}
		userID = claims.Sub
		if headers.Get(HeaderWorkspaceIDs) == "" {
			return Context{
				UserID:        userID,
				WorkspaceIDs:  claims.Workspaces,
				Authenticated: true,
			}
		}
	}

	return Context{
		UserID:        userID,
		WorkspaceIDs:  ParseWorkspaceIDs(headers.Get(HeaderWorkspaceIDs)),
		KeyID:         headers.Get(HeaderKeyID),
		Authenticated: true,
	}
}

// ParseWorkspaceIDs splits a comma separated grant list, dropping blanks
// and duplicates.
func ParseWorkspaceIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" || slices.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

type jwtClaims struct {
	Sub        string   `json:"sub"`
	Workspaces []string `json:"wks"`
}

func parseBearer(authHeader string) *jwtClaims {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return nil
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil
	}
	return &claims
}

// =============================================================================
// Context Storage
// =============================================================================

// WithContext stores the caller in ctx.
func WithContext(ctx context.Context, authCtx Context) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// FromContext returns the caller stored in ctx, or an unauthenticated one.
func FromContext(ctx context.Context) Context {
	if authCtx, ok := ctx.Value(authContextKey).(Context); ok {
		return authCtx
	}
	return Context{}
}

// MapHeaderGetter lets tests build headers without an http.Request.
type MapHeaderGetter map[string]string

func (m MapHeaderGetter) Get(key string) string {
	return m[key]
}
