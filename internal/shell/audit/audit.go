// Package audit records who did what to which resource, and raises user
// notifications for outcomes that need attention.
package audit

import (
	"context"
	"log/slog"

	"github.com/artpar/launchpad/internal/core/sanitize"
)

// Actions recorded by the orchestrator.
const (
	ActionServiceProvisioned   = "service.provisioned"
	ActionDeploymentRolledBack = "deployment.rolled_back"
	ActionVariablesUpdated     = "variables.updated"
	ActionBulkCompleted        = "deployment.bulk_completed"
	ActionDomainUpdated        = "domain.updated"
	ActionServiceRestarted     = "service.restarted"
)

// Entry is one audit record.
type Entry struct {
	WorkspaceID  string
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]string
}

// Level of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a message shown to a user.
type Notification struct {
	WorkspaceID string
	UserID      string
	Level       Level
	Title       string
	Message     string
}

// Logger writes audit entries. Failures are the implementation's concern:
// auditing never fails the operation being audited.
type Logger interface {
	Log(ctx context.Context, entry Entry)
}

// Notifier creates user notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// =============================================================================
// SlogSink
// =============================================================================

// SlogSink implements Logger and Notifier by writing structured log records.
// Metadata and messages are sanitized again at this boundary.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink. A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "audit")}
}

func (s *SlogSink) Log(ctx context.Context, e Entry) {
	attrs := []any{
		"workspace_id", e.WorkspaceID,
		"user_id", e.UserID,
		"action", e.Action,
		"resource_type", e.ResourceType,
		"resource_id", e.ResourceID,
	}
	if md := sanitize.Map(e.Metadata); len(md) > 0 {
		group := make([]any, 0, len(md)*2)
		for k, v := range md {
			group = append(group, k, v)
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
}

func (s *SlogSink) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "notification",
		"workspace_id", n.WorkspaceID,
		"user_id", n.UserID,
		"title", sanitize.Line(n.Title),
		"message", sanitize.Text(n.Message),
	)
}
