// Package orchestrator drives service deployments through the provider CLI.
//
// It sequences bulk deploys by dependency tier, retries transient failures,
// records every attempt as an append-only Deployment, and reports progress
// through the event publisher. All reads and writes are scoped to the
// caller's workspace.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/domain"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/core/sanitize"
	"github.com/artpar/launchpad/internal/shell/audit"
	"github.com/artpar/launchpad/internal/shell/executor"
	"github.com/artpar/launchpad/internal/shell/lock"
	"github.com/artpar/launchpad/internal/shell/metrics"
	"github.com/artpar/launchpad/internal/shell/store"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNoServices is returned when a run selects nothing to deploy.
	ErrNoServices = errors.New("no services to deploy")

	// ErrUnknownService is returned when a requested service is not part of the project.
	ErrUnknownService = errors.New("service not found in project")

	// ErrServiceBusy is returned when another operation holds the service lock.
	ErrServiceBusy = errors.New("service has an operation in progress")

	// ErrCommandFailed is returned when a single-shot CLI call fails.
	ErrCommandFailed = errors.New("provider command failed")

	// ErrNoDeploymentArtifact is returned when a deployment has no provider id.
	ErrNoDeploymentArtifact = errors.New("deployment has no provider artifact")

	// ErrShuttingDown is returned for new work after Shutdown started.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// =============================================================================
// Collaborators
// =============================================================================

// EventSink receives lifecycle events. Implementations must not block for
// long and must not fail the caller.
type EventSink interface {
	DeploymentStarted(ctx context.Context, workspaceID string, p coreevents.Started)
	DeploymentStatus(ctx context.Context, workspaceID string, p coreevents.Status)
	DeploymentCompleted(ctx context.Context, workspaceID string, p coreevents.Completed)
	DeploymentLog(ctx context.Context, workspaceID string, p coreevents.Log)
	EndRun(deploymentID string)
	EnvChanged(ctx context.Context, workspaceID, projectID, serviceID string, action coreevents.EnvAction, vars []command.Variable, autoRedeploy bool)
	ServiceProvisioned(ctx context.Context, workspaceID string, p coreevents.ServiceProvisioned)
	DomainUpdated(ctx context.Context, workspaceID string, p coreevents.DomainUpdated)
}

// Deps are the collaborators of the orchestrator. Services, Deployments,
// Runner, Tokens and Events are required.
type Deps struct {
	Services    store.ServiceRepository
	Deployments store.DeploymentRepository
	Runner      executor.Runner
	Tokens      executor.TokenSource
	Events      EventSink
	Locker      lock.Locker
	Audit       audit.Logger
	Notifier    audit.Notifier
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	Clock       clock.Clock
}

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the orchestrator.
type Config struct {
	// MaxParallel bounds concurrent deploys within one tier.
	MaxParallel int
	// RetryDelay is the first backoff delay; it doubles per retry.
	RetryDelay time.Duration
	// MaxRetryDelay caps the backoff.
	MaxRetryDelay time.Duration
	// DeployTimeout bounds up/redeploy invocations.
	DeployTimeout time.Duration
	// CommandTimeout bounds every other invocation.
	CommandTimeout time.Duration
	// TokenEnv names the environment variable carrying the provider token.
	TokenEnv string
	// Environment is the provider environment used when a service has none.
	Environment string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel:    4,
		RetryDelay:     2 * time.Second,
		MaxRetryDelay:  30 * time.Second,
		DeployTimeout:  command.DefaultTimeout,
		CommandTimeout: 60 * time.Second,
		TokenEnv:       "RAILWAY_TOKEN",
		Environment:    domain.DefaultEnvironment,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.DeployTimeout <= 0 {
		c.DeployTimeout = d.DeployTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.TokenEnv == "" {
		c.TokenEnv = d.TokenEnv
	}
	if c.Environment == "" {
		c.Environment = d.Environment
	}
	return c
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator coordinates deployments. It is safe for concurrent use.
type Orchestrator struct {
	services    store.ServiceRepository
	deployments store.DeploymentRepository
	runner      executor.Runner
	tokens      executor.TokenSource
	events      EventSink
	locker      lock.Locker
	audit       audit.Logger
	notifier    audit.Notifier
	metrics     *metrics.Collector
	logger      *slog.Logger
	clock       clock.Clock
	config      Config

	// Lifecycle management for background runs
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopping bool
}

// New creates an orchestrator.
func New(deps Deps, config Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	sink := audit.NewSlogSink(logger)
	var auditLog audit.Logger = sink
	if deps.Audit != nil {
		auditLog = deps.Audit
	}
	var notifier audit.Notifier = sink
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		services:    deps.Services,
		deployments: deps.Deployments,
		runner:      deps.Runner,
		tokens:      deps.Tokens,
		events:      deps.Events,
		locker:      locker,
		audit:       auditLog,
		notifier:    notifier,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "orchestrator"),
		clock:       clk,
		config:      config.withDefaults(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// track runs fn in a background goroutine that Shutdown waits for. The
// context passed to fn outlives the request that started the work.
func (o *Orchestrator) track(fn func(ctx context.Context)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopping {
		return ErrShuttingDown
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
	return nil
}

// Wait blocks until all background runs finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting background work and waits for running work. When
// ctx expires first, running work is cancelled: remaining services are
// skipped and every run still reports its completion.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.stopping = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.logger.Warn("shutdown deadline reached, cancelling running deployments")
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// =============================================================================
// Helpers
// =============================================================================

// environment returns the provider environment for svc.
func (o *Orchestrator) environment(svc domain.Service, override string) string {
	switch {
	case override != "":
		return override
	case svc.Environment != "":
		return svc.Environment
	}
	return o.config.Environment
}

// spec builds an invocation carrying the workspace token.
func (o *Orchestrator) spec(ctx context.Context, workspaceID string, cmd command.Command, args []string, timeout time.Duration) (command.Spec, error) {
	token, err := o.tokens.Token(ctx, workspaceID)
	if err != nil {
		return command.Spec{}, fmt.Errorf("resolve provider token: %w", err)
	}
	return command.Spec{
		Command: cmd,
		Args:    args,
		Env:     map[string]string{o.config.TokenEnv: token},
		Timeout: timeout,
	}, nil
}

// runOnce executes a single-shot command. Failures, including a non-zero
// exit, are returned as sanitized errors.
func (o *Orchestrator) runOnce(ctx context.Context, workspaceID string, cmd command.Command, args []string) (*command.Result, error) {
	spec, err := o.spec(ctx, workspaceID, cmd, args, o.config.CommandTimeout)
	if err != nil {
		return nil, err
	}
	// Allow-list is checked here as well as in the runner.
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	res, err := o.runner.Run(ctx, spec)
	if err != nil {
		return res, fmt.Errorf("%w: %s", ErrCommandFailed, sanitize.Error(err))
	}
	if !res.Succeeded() {
		return res, fmt.Errorf("%w: %s", ErrCommandFailed, sanitize.Line(res.LastError()))
	}
	return res, nil
}

// loadService reads a service in the caller's workspace.
func (o *Orchestrator) loadService(ctx context.Context, workspaceID, serviceID string) (*domain.Service, error) {
	svc, err := o.services.GetService(ctx, workspaceID, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.WorkspaceID != workspaceID {
		return nil, store.NewStoreError("GetService", "service", serviceID, "service not found", store.ErrNotFound)
	}
	return svc, nil
}

// acquire takes the per-service lock.
func (o *Orchestrator) acquire(ctx context.Context, svc domain.Service) (lock.Lease, error) {
	lease, err := o.locker.Acquire(ctx, lock.ServiceKey(svc.WorkspaceID, svc.ID))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrServiceBusy, svc.Name)
		}
		return nil, fmt.Errorf("acquire service lock: %w", err)
	}
	return lease, nil
}

func (o *Orchestrator) release(ctx context.Context, lease lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("failed to release service lock", "error", err)
	}
}

// setServiceStatus persists a service status change. Failures are logged.
func (o *Orchestrator) setServiceStatus(ctx context.Context, svc *domain.Service, status domain.ServiceStatus) {
	svc.SetStatus(status)
	if err := o.services.UpdateService(context.WithoutCancel(ctx), svc); err != nil {
		o.logger.Error("failed to update service status",
			"service_id", svc.ID,
			"status", status,
			"error", sanitize.Error(err),
		)
	}
}

// saveDeployment persists a deployment record. Failures are logged.
func (o *Orchestrator) saveDeployment(ctx context.Context, d *domain.Deployment) {
	if err := o.deployments.UpdateDeployment(context.WithoutCancel(ctx), d); err != nil {
		o.logger.Error("failed to update deployment",
			"deployment_id", d.ID,
			"status", d.Status,
			"error", sanitize.Error(err),
		)
	}
}

// publishOutput publishes each output line of res as a log event.
// publishOutput publishes every output line. runID keys the log sequence;
// empty uses deploymentID.
func (o *Orchestrator) publishOutput(ctx context.Context, svc domain.Service, deploymentID, runID string, res *command.Result, logType coreevents.LogType) {
	if res == nil {
		return
	}
	for _, line := range res.StdoutLines() {
		o.events.DeploymentLog(ctx, svc.WorkspaceID, coreevents.Log{
			Base:         coreevents.Base{ProjectID: svc.ProjectID},
			ServiceID:    svc.ID,
			DeploymentID: deploymentID,
			Line:         line,
			Stream:       coreevents.StreamStdout,
			LogType:      logType,
			RunID:        runID,
		})
	}
	for _, line := range res.StderrLines() {
		o.events.DeploymentLog(ctx, svc.WorkspaceID, coreevents.Log{
			Base:         coreevents.Base{ProjectID: svc.ProjectID},
			ServiceID:    svc.ID,
			DeploymentID: deploymentID,
			Line:         line,
			Stream:       coreevents.StreamStderr,
			LogType:      logType,
			RunID:        runID,
		})
	}
}

// status publishes a status event for svc.
func (o *Orchestrator) status(ctx context.Context, svc domain.Service, deploymentID, status, url, errMsg string, progress int) {
	o.events.DeploymentStatus(ctx, svc.WorkspaceID, coreevents.Status{
		Base:          coreevents.Base{ProjectID: svc.ProjectID},
		ServiceID:     svc.ID,
		ServiceName:   svc.Name,
		DeploymentID:  deploymentID,
		Status:        status,
		DeploymentURL: url,
		Error:         errMsg,
		Progress:      coreevents.Progress(progress),
	})
}

func (o *Orchestrator) notify(ctx context.Context, n audit.Notification) {
	n.Message = sanitize.Text(n.Message)
	o.notifier.Notify(context.WithoutCancel(ctx), n)
}

func (o *Orchestrator) record(ctx context.Context, e audit.Entry) {
	e.Metadata = sanitize.Map(e.Metadata)
	o.audit.Log(context.WithoutCancel(ctx), e)
}

func (o *Orchestrator) seconds(since time.Time) int {
	return int(o.clock.Now().Sub(since).Round(time.Second) / time.Second)
}
