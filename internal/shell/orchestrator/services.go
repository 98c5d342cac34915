package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/core/sanitize"
	"github.com/artpar/launchpad/internal/core/validation"
	"github.com/artpar/launchpad/internal/shell/audit"
	"github.com/artpar/launchpad/internal/shell/store"
)

// =============================================================================
// Provisioning
// =============================================================================

// ProvisionRequest creates a service in a project.
type ProvisionRequest struct {
	WorkspaceID string
	ProjectID   string
	Name        string
	Type        domain.ServiceType
	// Engine selects the provider template of databases and caches.
	Engine string
	// DeployOrder overrides the tier derived from Type.
	DeployOrder *int
	DependsOn   []string
	Environment string
	TriggeredBy string
}

// ProvisionService creates the service record and provisions it with the
// provider, blocking until the provider answered.
func (o *Orchestrator) ProvisionService(ctx context.Context, req ProvisionRequest) (*domain.Service, error) {
	svc, err := o.newService(ctx, req)
	if err != nil {
		return nil, err
	}
	o.provision(ctx, svc, req)
	return svc, nil
}

// StartProvisionService creates the service record and provisions it in the
// background. The returned service is in the provisioning state.
func (o *Orchestrator) StartProvisionService(ctx context.Context, req ProvisionRequest) (*domain.Service, error) {
	svc, err := o.newService(ctx, req)
	if err != nil {
		return nil, err
	}
	created := *svc
	if err := o.track(func(ctx context.Context) { o.provision(ctx, svc, req) }); err != nil {
		o.setServiceStatus(ctx, svc, domain.ServiceStatusFailed)
		return nil, err
	}
	return &created, nil
}

func (o *Orchestrator) newService(ctx context.Context, req ProvisionRequest) (*domain.Service, error) {
	if err := validation.ServiceName(req.Name); err != nil {
		return nil, err
	}
	for _, dep := range req.DependsOn {
		if err := validation.ServiceName(dep); err != nil {
			return nil, err
		}
	}
	svc, err := domain.NewService(req.WorkspaceID, req.ProjectID, req.Name, req.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", validation.ErrInvalid, err)
	}
	if req.DeployOrder != nil {
		svc.DeployOrder = *req.DeployOrder
	}
	svc.DependsOn = req.DependsOn
	if req.Environment != "" {
		svc.Environment = req.Environment
	}
	if err := o.services.CreateService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

func (o *Orchestrator) provision(ctx context.Context, svc *domain.Service, req ProvisionRequest) {
	o.events.ServiceProvisioned(ctx, svc.WorkspaceID, coreevents.ServiceProvisioned{
		Base:        coreevents.Base{ProjectID: svc.ProjectID},
		ServiceID:   svc.ID,
		ServiceName: svc.Name,
		ServiceType: string(svc.Type),
		Status:      coreevents.ProvisionProvisioning,
	})

	args := command.AddServiceArgs(svc.Name, string(svc.Type), req.Engine)
	_, err := o.runOnce(ctx, svc.WorkspaceID, command.Add, args)

	status := coreevents.ProvisionActive
	n := audit.Notification{
		WorkspaceID: svc.WorkspaceID,
		UserID:      req.TriggeredBy,
		Level:       audit.LevelInfo,
		Title:       "Service provisioned",
		Message:     fmt.Sprintf("%s is ready to deploy", svc.Name),
	}
	if err != nil {
		status = coreevents.ProvisionFailed
		n.Level = audit.LevelError
		n.Title = "Service provisioning failed"
		n.Message = fmt.Sprintf("%s could not be provisioned: %s", svc.Name, sanitize.Error(err))
		o.setServiceStatus(ctx, svc, domain.ServiceStatusFailed)
		o.logger.Warn("service provisioning failed", "service_id", svc.ID, "error", sanitize.Error(err))
	} else {
		o.setServiceStatus(ctx, svc, domain.ServiceStatusActive)
		o.logger.Info("service provisioned", "service_id", svc.ID, "service", svc.Name, "type", svc.Type)
	}

	o.events.ServiceProvisioned(ctx, svc.WorkspaceID, coreevents.ServiceProvisioned{
		Base:        coreevents.Base{ProjectID: svc.ProjectID},
		ServiceID:   svc.ID,
		ServiceName: svc.Name,
		ServiceType: string(svc.Type),
		Status:      status,
	})
	o.record(ctx, audit.Entry{
		WorkspaceID:  svc.WorkspaceID,
		UserID:       req.TriggeredBy,
		Action:       audit.ActionServiceProvisioned,
		ResourceType: "service",
		ResourceID:   svc.ID,
		Metadata: map[string]string{
			"name":   svc.Name,
			"type":   string(svc.Type),
			"status": string(status),
		},
	})
	o.notify(ctx, n)
}

// =============================================================================
// Restart
// =============================================================================

// RestartService restarts the running deployment of a service without a
// rebuild.
func (o *Orchestrator) RestartService(ctx context.Context, workspaceID, serviceID, triggeredBy string) error {
	svc, err := o.loadService(ctx, workspaceID, serviceID)
	if err != nil {
		return err
	}
	lease, err := o.acquire(ctx, *svc)
	if err != nil {
		return err
	}
	defer o.release(ctx, lease)

	previous := svc.Status
	o.status(ctx, *svc, "", string(domain.ServiceStatusDeploying), "", "", deployment.ProgressDeploying)

	_, runErr := o.runOnce(ctx, svc.WorkspaceID, command.Restart, command.RestartArgs(svc.Name))
	result := "success"
	if runErr != nil {
		result = "failed"
		o.setServiceStatus(ctx, svc, domain.ServiceStatusFailed)
		o.status(ctx, *svc, "", string(domain.StatusFailed), "", sanitize.Error(runErr), deployment.ProgressSettled)
	} else {
		if previous != domain.ServiceStatusActive {
			o.setServiceStatus(ctx, svc, domain.ServiceStatusActive)
		}
		o.status(ctx, *svc, "", string(domain.ServiceStatusActive), "", "", deployment.ProgressSettled)
	}

	o.record(ctx, audit.Entry{
		WorkspaceID:  svc.WorkspaceID,
		UserID:       triggeredBy,
		Action:       audit.ActionServiceRestarted,
		ResourceType: "service",
		ResourceID:   svc.ID,
		Metadata:     map[string]string{"result": result},
	})
	return runErr
}

// =============================================================================
// Logs and History
// =============================================================================

// LogsRequest fetches provider logs of one deployment.
type LogsRequest struct {
	WorkspaceID  string
	ServiceID    string
	DeploymentID string
	// Build selects build logs instead of runtime logs.
	Build bool
}

// FetchLogs reads the provider logs of a deployment, publishes every line as
// a log event and returns the sanitized lines, stdout before stderr. Each
// fetch numbers its lines from 1 independently of concurrent fetches.
func (o *Orchestrator) FetchLogs(ctx context.Context, req LogsRequest) ([]string, error) {
	svc, err := o.loadService(ctx, req.WorkspaceID, req.ServiceID)
	if err != nil {
		return nil, err
	}

	var d *domain.Deployment
	if req.DeploymentID == "" {
		d, err = o.deployments.LatestSuccessfulDeployment(ctx, svc.WorkspaceID, svc.ID)
	} else {
		if err := validation.DeploymentRef(req.DeploymentID); err != nil {
			return nil, err
		}
		d, err = o.deployments.GetDeployment(ctx, svc.WorkspaceID, req.DeploymentID)
	}
	if err != nil {
		return nil, err
	}
	if d.ServiceID != svc.ID {
		return nil, store.NewStoreError("GetDeployment", "deployment", d.ID, "deployment not found", store.ErrNotFound)
	}
	if d.ProviderDeploymentID == "" {
		return nil, ErrNoDeploymentArtifact
	}

	res, err := o.runOnce(ctx, svc.WorkspaceID, command.Logs, command.LogsArgs(d.ProviderDeploymentID, req.Build))
	if err != nil {
		return nil, err
	}

	logType := coreevents.LogRuntime
	if req.Build {
		logType = coreevents.LogBuild
	}
	runID := d.ID + ":logs:" + uuid.NewString()
	defer o.events.EndRun(runID)
	o.publishOutput(ctx, *svc, d.ID, runID, res, logType)

	lines := append(res.StdoutLines(), res.StderrLines()...)
	return sanitize.Lines(lines), nil
}

// History lists the deployments of a service, oldest first.
func (o *Orchestrator) History(ctx context.Context, workspaceID, serviceID string, opts store.ListOptions) ([]domain.Deployment, error) {
	if _, err := o.loadService(ctx, workspaceID, serviceID); err != nil {
		return nil, err
	}
	return o.deployments.ListDeployments(ctx, workspaceID, serviceID, opts)
}

// GetDeployment reads one deployment of a service.
func (o *Orchestrator) GetDeployment(ctx context.Context, workspaceID, serviceID, deploymentID string) (*domain.Deployment, error) {
	if err := validation.DeploymentRef(deploymentID); err != nil {
		return nil, err
	}
	d, err := o.deployments.GetDeployment(ctx, workspaceID, deploymentID)
	if err != nil {
		return nil, err
	}
	if d.WorkspaceID != workspaceID || d.ServiceID != serviceID {
		return nil, store.NewStoreError("GetDeployment", "deployment", deploymentID, "deployment not found", store.ErrNotFound)
	}
	return d, nil
}

// Services lists the services of a project.
func (o *Orchestrator) Services(ctx context.Context, workspaceID, projectID string) ([]domain.Service, error) {
	return o.services.ListServices(ctx, workspaceID, projectID)
}
