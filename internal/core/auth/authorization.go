package auth

import "slices"

// CanAccessWorkspace reports whether the caller was granted workspaceID.
func CanAccessWorkspace(ctx Context, workspaceID string) bool {
	if !ctx.Authenticated || workspaceID == "" {
		return false
	}
	return slices.Contains(ctx.WorkspaceIDs, AnyWorkspace) ||
		slices.Contains(ctx.WorkspaceIDs, workspaceID)
}

// CanStream reports whether the caller may open the event stream of a
// workspace. API keys are for automation and do not stream.
func CanStream(ctx Context, workspaceID string) bool {
	return CanAccessWorkspace(ctx, workspaceID) && ctx.KeyID == ""
}
