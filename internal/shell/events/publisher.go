// Package events publishes deployment events onto the shared pub/sub channel.
//
// Publishing is best effort: a broker failure is logged and counted, never
// returned, so the deployment flow is never blocked or failed by the event
// path. Each publish is synchronous with a short deadline, which keeps the
// events of one caller in order.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/artpar/launchpad/internal/core/command"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/core/sanitize"
	"github.com/artpar/launchpad/internal/shell/metrics"
)

// DefaultPublishTimeout bounds a single broker call.
const DefaultPublishTimeout = 2 * time.Second

// Config configures the publisher.
type Config struct {
	Channel        string
	PublishTimeout time.Duration
}

// Publisher builds, sanitizes and publishes event envelopes.
type Publisher struct {
	broker  Broker
	channel string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector
	seq     *Sequencer
	now     func() time.Time
}

// NewPublisher creates a publisher. A nil broker is tolerated: every event is
// dropped with a log line.
func NewPublisher(broker Broker, config Config, m *metrics.Collector, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Channel == "" {
		config.Channel = coreevents.Channel
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultPublishTimeout
	}
	return &Publisher{
		broker:  broker,
		channel: config.Channel,
		timeout: config.PublishTimeout,
		logger:  logger.With("component", "event_publisher"),
		metrics: m,
		seq:     NewSequencer(),
		now:     time.Now,
	}
}

// Publish stamps the payload with workspaceID and the current time, then
// hands the envelope to the broker. It never returns an error and never
// panics; failures are logged.
func (p *Publisher) Publish(ctx context.Context, workspaceID string, env coreevents.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while publishing event", "type", env.Type, "panic", r)
			p.metrics.PublishFailed(string(env.Type))
		}
	}()

	if env.Payload == nil {
		p.logger.Warn("dropping event without payload", "type", env.Type)
		return
	}
	coreevents.Stamp(env.Payload, workspaceID, p.now())

	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("failed to encode event", "type", env.Type, "workspace_id", workspaceID, "error", err)
		p.metrics.PublishFailed(string(env.Type))
		return
	}

	if p.broker == nil {
		p.logger.Debug("no broker configured, dropping event", "type", env.Type)
		p.metrics.PublishFailed(string(env.Type))
		return
	}

	// A cancelled run still reports its final events.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.broker.Publish(pubCtx, p.channel, data); err != nil {
		p.logger.Warn("failed to publish event",
			"type", env.Type,
			"workspace_id", workspaceID,
			"error", sanitize.Error(err),
		)
		p.metrics.PublishFailed(string(env.Type))
		return
	}
	p.metrics.EventPublished(string(env.Type))
}

// =============================================================================
// Typed Events
// =============================================================================

// DeploymentStarted announces a run before its first CLI call.
func (p *Publisher) DeploymentStarted(ctx context.Context, workspaceID string, payload coreevents.Started) {
	p.Publish(ctx, workspaceID, coreevents.Envelope{Type: coreevents.TypeStarted, Payload: &payload})
}

// DeploymentStatus reports a service state change. Progress is clamped to
// [0, 100] and the error text is sanitized.
func (p *Publisher) DeploymentStatus(ctx context.Context, workspaceID string, payload coreevents.Status) {
	if payload.Progress != nil {
		payload.Progress = coreevents.Progress(*payload.Progress)
	}
	payload.Error = sanitize.Text(payload.Error)
	p.Publish(ctx, workspaceID, coreevents.Envelope{Type: coreevents.TypeStatus, Payload: &payload})
}

// DeploymentCompleted reports the settled run.
func (p *Publisher) DeploymentCompleted(ctx context.Context, workspaceID string, payload coreevents.Completed) {
	services := make([]coreevents.ServiceOutcome, len(payload.Services))
	for i, s := range payload.Services {
		s.Error = sanitize.Text(s.Error)
		services[i] = s
	}
	payload.Services = services
	p.Publish(ctx, workspaceID, coreevents.Envelope{Type: coreevents.TypeCompleted, Payload: &payload})
}

// DeploymentLog publishes one output line. The line is sanitized and given
// the next sequence number of its deployment.
func (p *Publisher) DeploymentLog(ctx context.Context, workspaceID string, payload coreevents.Log) {
	payload.Line = sanitize.Line(payload.Line)
	if payload.Stream == "" {
		payload.Stream = coreevents.StreamStdout
	}
	if payload.LogType == "" {
		payload.LogType = coreevents.LogDeploy
	}
	run := payload.RunID
	if run == "" {
		run = payload.DeploymentID
	}
	payload.Sequence = p.seq.Next(run)
	p.Publish(ctx, workspaceID, coreevents.Envelope{Type: coreevents.TypeLog, Payload: &payload})
}

// EndRun releases the log sequence of a finished deployment.
func (p *Publisher) EndRun(deploymentID string) {
	p.seq.Release(deploymentID)
}

// EnvChanged reports variable changes. Only the names of vars are published.
func (p *Publisher) EnvChanged(ctx context.Context, workspaceID, projectID, serviceID string, action coreevents.EnvAction, vars []command.Variable, autoRedeploy bool) {
	payload := coreevents.EnvChanged{
		Base:          coreevents.Base{ProjectID: projectID},
		ServiceID:     serviceID,
		Action:        action,
		VariableNames: coreevents.VariableNames(vars),
		AutoRedeploy:  autoRedeploy,
	}
	p.Publish(ctx, workspaceID, coreevents.Envelope{Type: coreevents.TypeEnvChanged, Payload: &payload})
}

// ServiceProvisioned reports the outcome of creating a service.
func (p *Publisher) ServiceProvisioned(ctx context.Context, workspaceID string, payload coreevents.ServiceProvisioned) {
	p.Publish(ctx, workspaceID, coreevents.Envelope{Type: coreevents.TypeServiceProvisioned, Payload: &payload})
}

// DomainUpdated reports a domain change.
func (p *Publisher) DomainUpdated(ctx context.Context, workspaceID string, payload coreevents.DomainUpdated) {
	p.Publish(ctx, workspaceID, coreevents.Envelope{Type: coreevents.TypeDomainUpdated, Payload: &payload})
}
