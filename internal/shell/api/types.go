package api

import (
	"github.com/artpar/launchpad/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// BulkDeployRequest is the body of a project deployment. Both fields are
// optional.
type BulkDeployRequest struct {
	ServiceIDs  []string `json:"service_ids,omitempty"`
	Environment string   `json:"environment,omitempty"`
}

// DeployServiceRequest is the optional body of a single service deployment.
type DeployServiceRequest struct {
	Environment string `json:"environment,omitempty"`
}

// ProvisionServiceRequest creates a service in a project.
type ProvisionServiceRequest struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Engine      string   `json:"engine,omitempty"`
	DeployOrder *int     `json:"deploy_order,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Environment string   `json:"environment,omitempty"`
}

// RollbackRequest names the deployment to return to.
type RollbackRequest struct {
	TargetDeploymentID string `json:"target_deployment_id"`
}

// VariableInput is one variable to set.
type VariableInput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SetVariablesRequest sets variables on a service.
type SetVariablesRequest struct {
	Variables    []VariableInput `json:"variables"`
	AutoRedeploy bool            `json:"auto_redeploy,omitempty"`
}

// AddDomainRequest adds a custom domain, or a generated one when Hostname
// is empty.
type AddDomainRequest struct {
	Hostname string `json:"hostname,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// RunAcceptedResponse is returned when a run was started.
type RunAcceptedResponse struct {
	RunID    string   `json:"run_id"`
	Status   string   `json:"status"`
	Services []string `json:"services"`
}

// DeploymentListResponse is one page of a service's deployment history.
type DeploymentListResponse struct {
	Deployments []domain.Deployment `json:"deployments"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// ServiceListResponse lists the services of a project.
type ServiceListResponse struct {
	Services []domain.Service `json:"services"`
}

// VariablesResponse carries variable names. Values are never returned.
type VariablesResponse struct {
	VariableNames []string `json:"variable_names"`
	RunID         string   `json:"run_id,omitempty"`
}

// LogsResponse carries sanitized log lines.
type LogsResponse struct {
	DeploymentID string   `json:"deployment_id,omitempty"`
	Type         string   `json:"type"`
	Lines        []string `json:"lines"`
}

// StatusResponse acknowledges an operation without a richer result.
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
