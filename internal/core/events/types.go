// Package events defines the deployment event envelope published to the
// shared pub/sub channel, and the payload of each of the seven event types.
//
// Every payload embeds Base, so a publisher can stamp the workspace and
// timestamp without knowing the concrete type. Subscribers route events to
// workspace audiences using Base.WorkspaceID.
package events

import (
	"time"

	"github.com/artpar/launchpad/internal/core/command"
)

// Channel is the single pub/sub channel shared by all workspaces.
const Channel = "deployment:events"

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// =============================================================================
// Event Types
// =============================================================================

type EventType string

const (
	TypeStarted            EventType = "deployment:started"
	TypeStatus             EventType = "deployment:status"
	TypeCompleted          EventType = "deployment:completed"
	TypeLog                EventType = "deployment:log"
	TypeEnvChanged         EventType = "deployment:env_changed"
	TypeServiceProvisioned EventType = "deployment:service_provisioned"
	TypeDomainUpdated      EventType = "deployment:domain_updated"
)

// =============================================================================
// Enumerations
// =============================================================================

type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

type LogType string

const (
	LogBuild   LogType = "build"
	LogDeploy  LogType = "deploy"
	LogRuntime LogType = "runtime"
)

type EnvAction string

const (
	EnvSet        EnvAction = "set"
	EnvDelete     EnvAction = "delete"
	EnvBulkUpdate EnvAction = "bulk_update"
)

type ProvisionStatus string

const (
	ProvisionProvisioning ProvisionStatus = "provisioning"
	ProvisionActive       ProvisionStatus = "active"
	ProvisionFailed       ProvisionStatus = "failed"
)

type DomainAction string

const (
	DomainAdded    DomainAction = "added"
	DomainRemoved  DomainAction = "removed"
	DomainVerified DomainAction = "verified"
)

type DomainStatus string

const (
	DomainActive     DomainStatus = "active"
	DomainPendingDNS DomainStatus = "pending_dns"
	DomainPendingSSL DomainStatus = "pending_ssl"
	DomainError      DomainStatus = "error"
)

// RunStatus is the aggregate outcome reported by deployment:completed.
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
)

// =============================================================================
// Envelope
// =============================================================================

// Payload is implemented by every payload type through the embedded Base.
type Payload interface {
	base() *Base
}

// Envelope is the JSON document published for one lifecycle occurrence.
type Envelope struct {
	Type    EventType `json:"type"`
	Payload Payload   `json:"payload"`
}

// Base carries the fields present in every payload.
type Base struct {
	WorkspaceID string `json:"workspaceId"`
	ProjectID   string `json:"projectId"`
	Timestamp   string `json:"timestamp"`
}

func (b *Base) base() *Base { return b }

// Stamp overwrites the workspace id and timestamp of a payload.
func Stamp(p Payload, workspaceID string, at time.Time) {
	b := p.base()
	b.WorkspaceID = workspaceID
	b.Timestamp = FormatTimestamp(at)
}

// WorkspaceOf returns the workspace id carried by a payload.
func WorkspaceOf(p Payload) string {
	return p.base().WorkspaceID
}

// FormatTimestamp renders t as ISO-8601 UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// =============================================================================
// Payloads
// =============================================================================

// Started is emitted once before the first CLI call of a run.
type Started struct {
	Base
	DeploymentID string   `json:"deploymentId"`
	Services     []string `json:"services"`
	TriggeredBy  string   `json:"triggeredBy"`
	Environment  string   `json:"environment"`
}

// Status is emitted whenever a service changes state during a run.
type Status struct {
	Base
	ServiceID     string `json:"serviceId"`
	ServiceName   string `json:"serviceName"`
	DeploymentID  string `json:"deploymentId,omitempty"`
	Status        string `json:"status"`
	DeploymentURL string `json:"deploymentUrl,omitempty"`
	Error         string `json:"error,omitempty"`
	Progress      *int   `json:"progress,omitempty"`
}

// ServiceOutcome is the per-service entry of Completed.
type ServiceOutcome struct {
	ServiceID    string `json:"serviceId"`
	ServiceName  string `json:"serviceName"`
	Status       string `json:"status"`
	DeploymentID string `json:"deploymentId,omitempty"`
	URL          string `json:"url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Completed is emitted once after a run settles, whatever the outcome.
type Completed struct {
	Base
	DeploymentID         string           `json:"deploymentId"`
	Status               RunStatus        `json:"status"`
	Services             []ServiceOutcome `json:"services"`
	TotalDurationSeconds int              `json:"totalDurationSeconds"`
}

// Log carries one sanitized line of CLI output.
type Log struct {
	Base
	ServiceID    string    `json:"serviceId"`
	DeploymentID string    `json:"deploymentId,omitempty"`
	Line         string    `json:"line"`
	Stream       LogStream `json:"stream"`
	LogType      LogType   `json:"logType"`
	Sequence     uint64    `json:"sequence"`

	// RunID keys the sequence. Empty uses DeploymentID. Not serialized.
	RunID string `json:"-"`
}

// EnvChanged reports variable changes by name only.
type EnvChanged struct {
	Base
	ServiceID     string    `json:"serviceId"`
	Action        EnvAction `json:"action"`
	VariableNames []string  `json:"variableNames"`
	AutoRedeploy  bool      `json:"autoRedeploy"`
}

// ServiceProvisioned reports the outcome of creating a service.
type ServiceProvisioned struct {
	Base
	ServiceID   string          `json:"serviceId"`
	ServiceName string          `json:"serviceName,omitempty"`
	ServiceType string          `json:"serviceType"`
	Status      ProvisionStatus `json:"status"`
}

// DomainUpdated reports a change to a service domain.
type DomainUpdated struct {
	Base
	ServiceID string       `json:"serviceId"`
	Domain    string       `json:"domain"`
	Action    DomainAction `json:"action"`
	Status    DomainStatus `json:"status"`
}

// =============================================================================
// Helpers
// =============================================================================

// ClampProgress bounds a progress percentage to [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Progress returns a pointer to a clamped progress value.
func Progress(p int) *int {
	v := ClampProgress(p)
	return &v
}

// VariableNames returns the names of vars in order. Values are dropped.
func VariableNames(vars []command.Variable) []string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return names
}
