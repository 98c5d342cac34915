package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/core/sanitize"
	"github.com/artpar/launchpad/internal/core/validation"
	"github.com/artpar/launchpad/internal/shell/audit"
	"github.com/artpar/launchpad/internal/shell/store"
)

// ErrAlreadyCurrent is returned when the rollback target is the live deployment.
var ErrAlreadyCurrent = errors.New("target deployment is already current")

// RollbackRequest redeploys a previous artifact of a service.
type RollbackRequest struct {
	WorkspaceID        string
	ServiceID          string
	TargetDeploymentID string
	TriggeredBy        string
}

// RollbackResult is the settled rollback.
type RollbackResult struct {
	Deployment *domain.Deployment   `json:"deployment"`
	Status     coreevents.RunStatus `json:"status"`
}

// rollbackPlan is a validated rollback ready to execute.
type rollbackPlan struct {
	svc         domain.Service
	target      *domain.Deployment
	current     *domain.Deployment
	triggeredBy string
}

// Rollback redeploys the artifact of the target deployment and blocks until
// it settled. The new attempt is appended to history with trigger rollback;
// on success the superseded deployment is marked rolled_back.
func (o *Orchestrator) Rollback(ctx context.Context, req RollbackRequest) (*RollbackResult, error) {
	rp, err := o.prepareRollback(ctx, req)
	if err != nil {
		return nil, err
	}
	d, err := o.newRollbackRecord(ctx, rp)
	if err != nil {
		return nil, err
	}
	return o.runRollback(ctx, rp, d), nil
}

// StartRollback validates the request, records the queued attempt and runs
// it in the background.
func (o *Orchestrator) StartRollback(ctx context.Context, req RollbackRequest) (*domain.Deployment, error) {
	rp, err := o.prepareRollback(ctx, req)
	if err != nil {
		return nil, err
	}
	d, err := o.newRollbackRecord(ctx, rp)
	if err != nil {
		return nil, err
	}
	queued := *d
	queued.Metadata = maps.Clone(d.Metadata)
	if err := o.track(func(ctx context.Context) { o.runRollback(ctx, rp, d) }); err != nil {
		_ = d.Fail(err.Error())
		o.saveDeployment(ctx, d)
		return nil, err
	}
	return &queued, nil
}

func (o *Orchestrator) prepareRollback(ctx context.Context, req RollbackRequest) (*rollbackPlan, error) {
	if err := validation.DeploymentRef(req.TargetDeploymentID); err != nil {
		return nil, err
	}
	svc, err := o.loadService(ctx, req.WorkspaceID, req.ServiceID)
	if err != nil {
		return nil, err
	}

	target, err := o.deployments.GetDeployment(ctx, req.WorkspaceID, req.TargetDeploymentID)
	if err != nil {
		return nil, err
	}
	if target.WorkspaceID != req.WorkspaceID || target.ServiceID != svc.ID {
		return nil, domain.ErrRollbackTargetInvalid
	}

	current, err := o.deployments.LatestSuccessfulDeployment(ctx, req.WorkspaceID, svc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find current deployment: %w", err)
	}
	if current != nil && current.ID == target.ID {
		return nil, ErrAlreadyCurrent
	}

	return &rollbackPlan{svc: *svc, target: target, current: current, triggeredBy: req.TriggeredBy}, nil
}

func (o *Orchestrator) newRollbackRecord(ctx context.Context, rp *rollbackPlan) (*domain.Deployment, error) {
	d, err := domain.NewRollbackDeployment(rp.svc, rp.current, *rp.target, rp.triggeredBy)
	if err != nil {
		return nil, err
	}
	if err := o.deployments.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("record rollback: %w", err)
	}
	return d, nil
}

func (o *Orchestrator) runRollback(ctx context.Context, rp *rollbackPlan, d *domain.Deployment) *RollbackResult {
	start := o.clock.Now()
	svc := rp.svc
	defer o.events.EndRun(d.ID)

	o.events.DeploymentStarted(ctx, svc.WorkspaceID, coreevents.Started{
		Base:         coreevents.Base{ProjectID: svc.ProjectID},
		DeploymentID: d.ID,
		Services:     []string{svc.Name},
		TriggeredBy:  rp.triggeredBy,
		Environment:  d.Environment,
	})

	out := deployment.Outcome{ServiceID: svc.ID, ServiceName: svc.Name, DeploymentID: d.ID}

	settle := func(deploymentID, msg string, attempts int) deployment.Outcome {
		out.Status = deployment.OutcomeFailed
		out.Error = sanitize.Text(msg)
		out.Attempts = attempts
		o.metrics.ServiceDeployed(string(deployment.OutcomeFailed))
		o.status(ctx, svc, deploymentID, string(domain.StatusFailed), "", out.Error, deployment.ProgressSettled)
		return out
	}

	lease, err := o.acquire(ctx, svc)
	if err != nil {
		_ = d.Fail(sanitize.Error(err))
		o.saveDeployment(ctx, d)
		out = settle(d.ID, err.Error(), 0)
		return o.finishRollback(ctx, rp, d, out, start)
	}
	defer o.release(ctx, lease)

	o.setServiceStatus(ctx, &svc, domain.ServiceStatusDeploying)
	_ = d.Transition(domain.StatusBuilding)
	o.saveDeployment(ctx, d)
	o.status(ctx, svc, d.ID, string(domain.StatusBuilding), "", "", deployment.ProgressBuilding)

	spec, err := o.spec(ctx, svc.WorkspaceID, command.Redeploy,
		command.RedeployArgs(svc.Name, rp.target.ProviderDeploymentID), o.config.DeployTimeout)
	if err != nil {
		out = o.failDeployment(ctx, &svc, d, err.Error(), 0, settle)
		return o.finishRollback(ctx, rp, d, out, start)
	}

	att := o.runWithRetry(ctx, svc, d.ID, spec)
	if att.err != nil {
		out = o.failDeployment(ctx, &svc, d, att.message(), att.attempts, settle)
		return o.finishRollback(ctx, rp, d, out, start)
	}

	_ = d.Transition(domain.StatusDeploying)
	o.saveDeployment(ctx, d)
	o.status(ctx, svc, d.ID, string(domain.StatusDeploying), "", "", deployment.ProgressDeploying)

	parsed := command.ParseDeployOutput(att.result.Stdout)
	d.ProviderDeploymentID = parsed.ProviderDeploymentID
	if d.ProviderDeploymentID == "" {
		d.ProviderDeploymentID = rp.target.ProviderDeploymentID
	}
	d.URL = parsed.URL
	if d.URL == "" {
		d.URL = rp.target.URL
	}
	seconds := o.seconds(start)
	d.DeployDurationSeconds = &seconds
	d.Metadata["attempts"] = strconv.Itoa(att.attempts)

	// The superseded deployment and the new one change together.
	txCtx := context.WithoutCancel(ctx)
	err = o.inTx(txCtx, func(repo store.DeploymentRepository) error {
		if rp.current != nil {
			cur, err := repo.GetDeployment(txCtx, svc.WorkspaceID, rp.current.ID)
			if err != nil {
				return err
			}
			if cur.Status == domain.StatusSuccess {
				if err := cur.Transition(domain.StatusRolledBack); err != nil {
					return err
				}
				if err := repo.UpdateDeployment(txCtx, cur); err != nil {
					return err
				}
			}
		}
		if err := d.Transition(domain.StatusSuccess); err != nil {
			return err
		}
		return repo.UpdateDeployment(txCtx, d)
	})
	if err != nil {
		o.logger.Error("failed to record rollback outcome",
			"deployment_id", d.ID,
			"error", sanitize.Error(err),
		)
	}
	o.setServiceStatus(ctx, &svc, domain.ServiceStatusActive)

	o.metrics.ServiceDeployed(string(deployment.OutcomeSuccess))
	o.status(ctx, svc, d.ID, string(domain.StatusSuccess), d.URL, "", deployment.ProgressSettled)

	out.Status = deployment.OutcomeSuccess
	out.URL = d.URL
	out.Attempts = att.attempts
	return o.finishRollback(ctx, rp, d, out, start)
}

func (o *Orchestrator) finishRollback(ctx context.Context, rp *rollbackPlan, d *domain.Deployment, out deployment.Outcome, start time.Time) *RollbackResult {
	svc := rp.svc
	out.DurationSeconds = o.seconds(start)
	outcomes := []deployment.Outcome{out}
	status := deployment.Aggregate(outcomes)

	o.events.DeploymentCompleted(ctx, svc.WorkspaceID, coreevents.Completed{
		Base:                 coreevents.Base{ProjectID: svc.ProjectID},
		DeploymentID:         d.ID,
		Status:               status,
		Services:             deployment.Summaries(outcomes),
		TotalDurationSeconds: out.DurationSeconds,
	})

	o.record(ctx, audit.Entry{
		WorkspaceID:  svc.WorkspaceID,
		UserID:       rp.triggeredBy,
		Action:       audit.ActionDeploymentRolledBack,
		ResourceType: "deployment",
		ResourceID:   d.ID,
		Metadata: map[string]string{
			"serviceId":                svc.ID,
			"rollbackToDeploymentId":   d.RollbackToDeploymentID,
			"rollbackFromDeploymentId": d.RollbackFromDeploymentID,
			"status":                   string(d.Status),
		},
	})

	n := audit.Notification{
		WorkspaceID: svc.WorkspaceID,
		UserID:      rp.triggeredBy,
		Level:       audit.LevelInfo,
		Title:       "Rollback completed",
		Message:     fmt.Sprintf("%s rolled back to deployment %s", svc.Name, d.RollbackToDeploymentID),
	}
	if out.Status != deployment.OutcomeSuccess {
		n.Level = audit.LevelError
		n.Title = "Rollback failed"
		n.Message = fmt.Sprintf("%s could not be rolled back: %s", svc.Name, out.Error)
	}
	o.notify(ctx, n)

	o.logger.Info("rollback finished",
		"service_id", svc.ID,
		"deployment_id", d.ID,
		"target_deployment_id", d.RollbackToDeploymentID,
		"status", d.Status,
	)
	return &RollbackResult{Deployment: d, Status: status}
}

// transactor is implemented by repositories that support transactions.
type transactor interface {
	WithTx(ctx context.Context, fn func(store.Store) error) error
}

// inTx runs fn in a transaction when the deployment repository supports one.
func (o *Orchestrator) inTx(ctx context.Context, fn func(store.DeploymentRepository) error) error {
	if t, ok := o.deployments.(transactor); ok {
		return t.WithTx(ctx, func(tx store.Store) error { return fn(tx) })
	}
	return fn(o.deployments)
}
