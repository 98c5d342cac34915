package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/retry"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/core/sanitize"
	"github.com/artpar/launchpad/internal/shell/audit"
)

// =============================================================================
// Requests and Results
// =============================================================================

// BulkRequest deploys the services of one project.
type BulkRequest struct {
	WorkspaceID string
	ProjectID   string
	// ServiceIDs restricts the run to a subset. Empty deploys every service.
	ServiceIDs  []string
	TriggeredBy string
	// Environment overrides the provider environment of every service.
	Environment string
}

// ServiceRequest deploys a single service.
type ServiceRequest struct {
	WorkspaceID string
	ServiceID   string
	TriggeredBy string
	Trigger     domain.TriggerType
	Environment string
}

// BulkResult is the settled outcome of a run.
type BulkResult struct {
	RunID           string               `json:"run_id"`
	Status          coreevents.RunStatus `json:"status"`
	Services        []deployment.Outcome `json:"services"`
	DurationSeconds int                  `json:"duration_seconds"`
}

// BulkRun is a run started in the background.
type BulkRun struct {
	ID       string   `json:"run_id"`
	Services []string `json:"services"`

	done   chan struct{}
	result *BulkResult
}

// Done is closed when the run settled.
func (r *BulkRun) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run settled or ctx ends.
func (r *BulkRun) Wait(ctx context.Context) (*BulkResult, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// plan is a validated run ready to execute.
type plan struct {
	runID       string
	workspaceID string
	projectID   string
	triggeredBy string
	trigger     domain.TriggerType
	environment string
	tiers       []deployment.Tier
	deps        map[string][]string
}

func (p *plan) serviceNames() []string {
	services := deployment.Flatten(p.tiers)
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	return names
}

// =============================================================================
// Bulk Deploy
// =============================================================================

// BulkDeploy deploys the selected services of a project tier by tier and
// blocks until the run settled. Per-service failures are reported in the
// result, not as an error.
func (o *Orchestrator) BulkDeploy(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	p, err := o.prepareBulk(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.runPlan(ctx, p), nil
}

// StartBulkDeploy validates the request and runs it in the background.
func (o *Orchestrator) StartBulkDeploy(ctx context.Context, req BulkRequest) (*BulkRun, error) {
	p, err := o.prepareBulk(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.start(p)
}

// DeployService deploys one service and blocks until it settled.
func (o *Orchestrator) DeployService(ctx context.Context, req ServiceRequest) (*BulkResult, error) {
	p, err := o.prepareService(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.runPlan(ctx, p), nil
}

// StartDeployService validates the request and deploys in the background.
func (o *Orchestrator) StartDeployService(ctx context.Context, req ServiceRequest) (*BulkRun, error) {
	p, err := o.prepareService(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.start(p)
}

func (o *Orchestrator) start(p *plan) (*BulkRun, error) {
	run := &BulkRun{
		ID:       p.runID,
		Services: p.serviceNames(),
		done:     make(chan struct{}),
	}
	err := o.track(func(ctx context.Context) {
		defer close(run.done)
		run.result = o.runPlan(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) prepareBulk(ctx context.Context, req BulkRequest) (*plan, error) {
	services, err := o.services.ListServices(ctx, req.WorkspaceID, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	owned := services[:0:0]
	for _, s := range services {
		if s.WorkspaceID == req.WorkspaceID {
			owned = append(owned, s)
		}
	}

	selected, unknown := deployment.FilterServices(owned, req.ServiceIDs)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, strings.Join(unknown, ", "))
	}
	if len(selected) == 0 {
		return nil, ErrNoServices
	}

	tiers := deployment.Tiers(selected)
	return &plan{
		runID:       uuid.New().String(),
		workspaceID: req.WorkspaceID,
		projectID:   req.ProjectID,
		triggeredBy: req.TriggeredBy,
		trigger:     domain.TriggerBulk,
		environment: req.Environment,
		tiers:       tiers,
		deps:        deployment.Dependencies(tiers),
	}, nil
}

func (o *Orchestrator) prepareService(ctx context.Context, req ServiceRequest) (*plan, error) {
	svc, err := o.loadService(ctx, req.WorkspaceID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	tiers := deployment.Tiers([]domain.Service{*svc})
	return &plan{
		runID:       uuid.New().String(),
		workspaceID: svc.WorkspaceID,
		projectID:   svc.ProjectID,
		triggeredBy: req.TriggeredBy,
		trigger:     trigger,
		environment: req.Environment,
		tiers:       tiers,
		deps:        deployment.Dependencies(tiers),
	}, nil
}

// runPlan executes the tiers in order. Tier N+1 starts only after every
// service of tier N settled.
func (o *Orchestrator) runPlan(ctx context.Context, p *plan) *BulkResult {
	start := o.clock.Now()
	o.metrics.RunStarted()

	environment := p.environment
	if environment == "" {
		environment = o.config.Environment
	}

	o.logger.Info("deployment run started",
		"run_id", p.runID,
		"workspace_id", p.workspaceID,
		"project_id", p.projectID,
		"tiers", len(p.tiers),
	)

	o.events.DeploymentStarted(ctx, p.workspaceID, coreevents.Started{
		Base:         coreevents.Base{ProjectID: p.projectID},
		DeploymentID: p.runID,
		Services:     p.serviceNames(),
		TriggeredBy:  p.triggeredBy,
		Environment:  environment,
	})

	var mu sync.Mutex
	outcomes := make(map[string]deployment.Outcome)

	for _, tier := range p.tiers {
		g := new(errgroup.Group)
		g.SetLimit(o.config.MaxParallel)

		for _, svc := range tier.Services {
			g.Go(func() error {
				mu.Lock()
				skip, reason := deployment.ShouldSkip(svc.ID, p.deps, outcomes)
				mu.Unlock()

				if !skip && ctx.Err() != nil {
					skip, reason = true, "run cancelled"
				}

				var out deployment.Outcome
				if skip {
					out = o.skip(ctx, svc, reason)
				} else {
					out = o.deployOne(ctx, p, svc)
				}

				mu.Lock()
				outcomes[svc.ID] = out
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	ordered := make([]deployment.Outcome, 0, len(outcomes))
	for _, svc := range deployment.Flatten(p.tiers) {
		ordered = append(ordered, outcomes[svc.ID])
	}

	result := &BulkResult{
		RunID:           p.runID,
		Status:          deployment.Aggregate(ordered),
		Services:        ordered,
		DurationSeconds: o.seconds(start),
	}

	o.events.DeploymentCompleted(ctx, p.workspaceID, coreevents.Completed{
		Base:                 coreevents.Base{ProjectID: p.projectID},
		DeploymentID:         p.runID,
		Status:               result.Status,
		Services:             deployment.Summaries(ordered),
		TotalDurationSeconds: result.DurationSeconds,
	})

	o.finishRun(ctx, p, result)
	return result
}

func (o *Orchestrator) finishRun(ctx context.Context, p *plan, result *BulkResult) {
	o.metrics.RunCompleted(string(result.Status))

	counts := map[deployment.OutcomeStatus]int{}
	for _, out := range result.Services {
		counts[out.Status]++
	}

	o.logger.Info("deployment run completed",
		"run_id", p.runID,
		"workspace_id", p.workspaceID,
		"status", result.Status,
		"succeeded", counts[deployment.OutcomeSuccess],
		"failed", counts[deployment.OutcomeFailed],
		"skipped", counts[deployment.OutcomeSkipped],
		"duration_seconds", result.DurationSeconds,
	)

	o.record(ctx, audit.Entry{
		WorkspaceID:  p.workspaceID,
		UserID:       p.triggeredBy,
		Action:       audit.ActionBulkCompleted,
		ResourceType: "project",
		ResourceID:   p.projectID,
		Metadata: map[string]string{
			"runId":     p.runID,
			"status":    string(result.Status),
			"trigger":   string(p.trigger),
			"succeeded": strconv.Itoa(counts[deployment.OutcomeSuccess]),
			"failed":    strconv.Itoa(counts[deployment.OutcomeFailed]),
			"skipped":   strconv.Itoa(counts[deployment.OutcomeSkipped]),
		},
	})

	if result.Status == coreevents.RunSuccess {
		return
	}
	level := audit.LevelWarning
	if result.Status == coreevents.RunFailed {
		level = audit.LevelError
	}
	o.notify(ctx, audit.Notification{
		WorkspaceID: p.workspaceID,
		UserID:      p.triggeredBy,
		Level:       level,
		Title:       "Deployment " + strings.ReplaceAll(string(result.Status), "_", " "),
		Message: fmt.Sprintf("%d of %d services deployed",
			counts[deployment.OutcomeSuccess], len(result.Services)),
	})
}

// skip settles svc without touching the provider.
func (o *Orchestrator) skip(ctx context.Context, svc domain.Service, reason string) deployment.Outcome {
	o.logger.Info("skipping service", "service_id", svc.ID, "service", svc.Name, "reason", reason)
	o.status(ctx, svc, "", string(deployment.OutcomeSkipped), "", reason, deployment.ProgressSettled)
	return deployment.Outcome{
		ServiceID:   svc.ID,
		ServiceName: svc.Name,
		Status:      deployment.OutcomeSkipped,
		Error:       reason,
	}
}

// =============================================================================
// Single Service Attempt
// =============================================================================

// deployOne drives one service through queued, building, deploying and a
// terminal state.
func (o *Orchestrator) deployOne(ctx context.Context, p *plan, svc domain.Service) deployment.Outcome {
	start := o.clock.Now()
	out := deployment.Outcome{ServiceID: svc.ID, ServiceName: svc.Name}

	settleFailed := func(deploymentID, msg string, attempts int) deployment.Outcome {
		out.Status = deployment.OutcomeFailed
		out.DeploymentID = deploymentID
		out.Error = sanitize.Text(msg)
		out.Attempts = attempts
		out.DurationSeconds = o.seconds(start)
		o.metrics.ServiceDeployed(string(deployment.OutcomeFailed))
		o.status(ctx, svc, deploymentID, string(domain.StatusFailed), "", out.Error, deployment.ProgressSettled)
		return out
	}

	lease, err := o.acquire(ctx, svc)
	if err != nil {
		return settleFailed("", err.Error(), 0)
	}
	defer o.release(ctx, lease)

	d := domain.NewDeployment(svc, p.trigger, p.triggeredBy)
	d.BulkRunID = p.runID
	if p.environment != "" {
		d.Environment = p.environment
	}
	if err := o.deployments.CreateDeployment(ctx, d); err != nil {
		o.logger.Error("failed to record deployment", "service_id", svc.ID, "error", sanitize.Error(err))
		return settleFailed("", "failed to record deployment", 0)
	}
	defer o.events.EndRun(d.ID)

	o.setServiceStatus(ctx, &svc, domain.ServiceStatusDeploying)
	_ = d.Transition(domain.StatusBuilding)
	o.saveDeployment(ctx, d)
	o.status(ctx, svc, d.ID, string(domain.StatusBuilding), "", "", deployment.ProgressBuilding)

	spec, err := o.spec(ctx, svc.WorkspaceID, command.Up, command.DeployArgs(svc.Name, d.Environment), o.config.DeployTimeout)
	if err != nil {
		return o.failDeployment(ctx, &svc, d, err.Error(), 0, settleFailed)
	}

	att := o.runWithRetry(ctx, svc, d.ID, spec)
	if att.err != nil {
		return o.failDeployment(ctx, &svc, d, att.message(), att.attempts, settleFailed)
	}

	buildSeconds := o.seconds(start)
	_ = d.Transition(domain.StatusDeploying)
	d.BuildDurationSeconds = &buildSeconds
	o.saveDeployment(ctx, d)
	o.status(ctx, svc, d.ID, string(domain.StatusDeploying), "", "", deployment.ProgressDeploying)

	parsed := command.ParseDeployOutput(att.result.Stdout)
	deploySeconds := o.seconds(start) - buildSeconds
	d.ProviderDeploymentID = parsed.ProviderDeploymentID
	d.URL = parsed.URL
	d.DeployDurationSeconds = &deploySeconds
	d.Metadata["attempts"] = strconv.Itoa(att.attempts)
	_ = d.Transition(domain.StatusSuccess)
	o.saveDeployment(ctx, d)
	o.setServiceStatus(ctx, &svc, domain.ServiceStatusActive)

	o.metrics.ServiceDeployed(string(deployment.OutcomeSuccess))
	o.status(ctx, svc, d.ID, string(domain.StatusSuccess), d.URL, "", deployment.ProgressSettled)

	o.logger.Info("service deployed",
		"service_id", svc.ID,
		"service", svc.Name,
		"deployment_id", d.ID,
		"attempts", att.attempts,
	)

	out.Status = deployment.OutcomeSuccess
	out.DeploymentID = d.ID
	out.URL = d.URL
	out.Attempts = att.attempts
	out.DurationSeconds = o.seconds(start)
	return out
}

func (o *Orchestrator) failDeployment(
	ctx context.Context,
	svc *domain.Service,
	d *domain.Deployment,
	msg string,
	attempts int,
	settle func(string, string, int) deployment.Outcome,
) deployment.Outcome {
	msg = sanitize.Text(msg)
	if attempts > 0 {
		d.Metadata["attempts"] = strconv.Itoa(attempts)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		_ = d.Transition(domain.StatusCancelled)
		d.ErrorMessage = msg
	} else {
		_ = d.Fail(msg)
	}
	o.saveDeployment(ctx, d)
	o.setServiceStatus(ctx, svc, domain.ServiceStatusFailed)

	o.logger.Warn("service deployment failed",
		"service_id", svc.ID,
		"service", svc.Name,
		"deployment_id", d.ID,
		"attempts", attempts,
		"error", msg,
	)
	return settle(d.ID, msg, attempts)
}

// =============================================================================
// Retry
// =============================================================================

// attempt is the last executor call of a retried invocation.
type attempt struct {
	result   *command.Result
	err      error
	class    deployment.FailureClass
	attempts int
}

func (a attempt) message() string {
	switch {
	case a.result != nil && a.result.LastError() != "" && !a.result.Succeeded():
		return a.result.LastError()
	case a.err != nil:
		return sanitize.Error(a.err)
	}
	return "deployment failed"
}

// errUnsuccessful marks a completed invocation with a non-zero exit.
var errUnsuccessful = errors.New("command exited with non-zero status")

// runWithRetry runs spec until it succeeds, fails permanently, or
// deployment.MaxAttempts were made. Each attempt's output is published.
func (o *Orchestrator) runWithRetry(ctx context.Context, svc domain.Service, deploymentID string, spec command.Spec) attempt {
	var last attempt

	if err := spec.Validate(); err != nil {
		last.err = err
		last.class = deployment.FailureValidation
		return last
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			last.attempts++
			if last.attempts > 1 {
				o.metrics.DeployRetried()
			}
			res, err := o.runner.Run(ctx, spec)
			o.publishOutput(ctx, svc, deploymentID, "", res, coreevents.LogBuild)

			last.result, last.err = res, err
			last.class = deployment.Classify(err, res)
			if last.class == deployment.FailureNone {
				return nil
			}
			if err == nil {
				return errUnsuccessful
			}
			return err
		},
		IsFatalError: func(error) bool {
			return !last.class.Retryable()
		},
		NotifyFunc: func(lastError error, attempt int) {
			o.logger.Warn("deploy attempt failed, retrying",
				"service_id", svc.ID,
				"deployment_id", deploymentID,
				"attempt", attempt,
				"class", last.class.String(),
				"error", sanitize.Error(lastError),
			)
		},
		Attempts:    deployment.MaxAttempts,
		Delay:       o.config.RetryDelay,
		MaxDelay:    o.config.MaxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       o.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		last.err = nil
		return last
	}
	if last.err == nil {
		last.err = errUnsuccessful
		if ctxErr := ctx.Err(); ctxErr != nil {
			last.err = ctxErr
		}
	}
	return last
}
