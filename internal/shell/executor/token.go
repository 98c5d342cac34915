package executor

import "context"

// TokenSource supplies the provider credential for a workspace. The token is
// only ever placed in the child environment.
type TokenSource interface {
	Token(ctx context.Context, workspaceID string) (string, error)
}

// StaticToken uses one token for every workspace.
type StaticToken string

func (t StaticToken) Token(context.Context, string) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// TokenMap looks tokens up by workspace id.
type TokenMap map[string]string

func (m TokenMap) Token(_ context.Context, workspaceID string) (string, error) {
	if tok, ok := m[workspaceID]; ok && tok != "" {
		return tok, nil
	}
	return "", ErrNoToken
}
