package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrRollbackTargetInvalid = errors.New("rollback target is not a successful deployment of this service")
)

// =============================================================================
// Deployment Status
// =============================================================================

type DeploymentStatus string

const (
	StatusQueued     DeploymentStatus = "queued"
	StatusBuilding   DeploymentStatus = "building"
	StatusDeploying  DeploymentStatus = "deploying"
	StatusSuccess    DeploymentStatus = "success"
	StatusFailed     DeploymentStatus = "failed"
	StatusCrashed    DeploymentStatus = "crashed"
	StatusCancelled  DeploymentStatus = "cancelled"
	StatusRolledBack DeploymentStatus = "rolled_back"
)

// =============================================================================
// Trigger Type
// =============================================================================

type TriggerType string

const (
	TriggerManual         TriggerType = "manual"
	TriggerBulk           TriggerType = "bulk"
	TriggerRollback       TriggerType = "rollback"
	TriggerGitPush        TriggerType = "git_push"
	TriggerVariableChange TriggerType = "variable_change"
)

// =============================================================================
// Deployment
// =============================================================================

// Deployment is one attempt to bring a service to a running state.
// Records are append-only history: once terminal they are never edited, except
// that a success is marked rolled_back when a rollback supersedes it.
type Deployment struct {
	ID                       string            `json:"id"`
	ServiceID                string            `json:"service_id"`
	WorkspaceID              string            `json:"workspace_id"`
	ProjectID                string            `json:"project_id"`
	ProviderDeploymentID     string            `json:"provider_deployment_id,omitempty"`
	Status                   DeploymentStatus  `json:"status"`
	URL                      string            `json:"url,omitempty"`
	CommitSHA                string            `json:"commit_sha,omitempty"`
	Branch                   string            `json:"branch,omitempty"`
	TriggerType              TriggerType       `json:"trigger_type"`
	TriggeredBy              string            `json:"triggered_by,omitempty"`
	Environment              string            `json:"environment"`
	BuildDurationSeconds     *int              `json:"build_duration_seconds,omitempty"`
	DeployDurationSeconds    *int              `json:"deploy_duration_seconds,omitempty"`
	ErrorMessage             string            `json:"error_message,omitempty"`
	Metadata                 map[string]string `json:"metadata,omitempty"`
	RollbackFromDeploymentID string            `json:"rollback_from_deployment_id,omitempty"`
	RollbackToDeploymentID   string            `json:"rollback_to_deployment_id,omitempty"`
	BulkRunID                string            `json:"bulk_run_id,omitempty"`
	StartedAt                *time.Time        `json:"started_at,omitempty"`
	CompletedAt              *time.Time        `json:"completed_at,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// NewDeployment creates a queued deployment attempt for a service.
func NewDeployment(svc Service, trigger TriggerType, triggeredBy string) *Deployment {
	env := svc.Environment
	if env == "" {
		env = DefaultEnvironment
	}
	now := time.Now().UTC()
	return &Deployment{
		ID:          uuid.New().String(),
		ServiceID:   svc.ID,
		WorkspaceID: svc.WorkspaceID,
		ProjectID:   svc.ProjectID,
		Status:      StatusQueued,
		TriggerType: trigger,
		TriggeredBy: triggeredBy,
		Environment: env,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewRollbackDeployment creates a queued attempt that redeploys the artifact of
// target, superseding from.
func NewRollbackDeployment(svc Service, from *Deployment, target Deployment, triggeredBy string) (*Deployment, error) {
	if target.ServiceID != svc.ID || target.WorkspaceID != svc.WorkspaceID {
		return nil, ErrRollbackTargetInvalid
	}
	if target.Status != StatusSuccess && target.Status != StatusRolledBack {
		return nil, ErrRollbackTargetInvalid
	}
	if target.ProviderDeploymentID == "" {
		return nil, ErrRollbackTargetInvalid
	}

	d := NewDeployment(svc, TriggerRollback, triggeredBy)
	d.CommitSHA = target.CommitSHA
	d.Branch = target.Branch
	d.RollbackToDeploymentID = target.ID
	if from != nil {
		d.RollbackFromDeploymentID = from.ID
	}
	d.Metadata["target_provider_deployment_id"] = target.ProviderDeploymentID
	return d, nil
}

// Transition attempts to move the deployment to a new status.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.Status = to
	d.UpdatedAt = now

	if to == StatusBuilding {
		d.ErrorMessage = ""
		d.StartedAt = &now
	}
	if isTerminal(to) {
		d.CompletedAt = &now
	}
	return nil
}

// Fail transitions to failed with an error message. The message must already
// be sanitized by the caller.
func (d *Deployment) Fail(message string) error {
	if err := d.Transition(StatusFailed); err != nil {
		return err
	}
	d.ErrorMessage = message
	return nil
}

// IsTerminal reports whether the deployment reached a final state.
func (d *Deployment) IsTerminal() bool {
	return isTerminal(d.Status)
}

func isTerminal(s DeploymentStatus) bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCrashed, StatusCancelled, StatusRolledBack:
		return true
	}
	return false
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions.
var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusQueued:     {StatusBuilding, StatusFailed, StatusCancelled},
	StatusBuilding:   {StatusDeploying, StatusFailed, StatusCancelled},
	StatusDeploying:  {StatusSuccess, StatusFailed, StatusCrashed, StatusCancelled},
	StatusSuccess:    {StatusRolledBack},
	StatusFailed:     {},
	StatusCrashed:    {},
	StatusCancelled:  {},
	StatusRolledBack: {},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}
