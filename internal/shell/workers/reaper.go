// Package workers contains background workers of launchpad.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/launchpad/internal/core/domain"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/shell/lock"
)

// ReaperStore is the persistence the reaper needs.
type ReaperStore interface {
	ListStaleDeployments(ctx context.Context, cutoff time.Time, limit int) ([]domain.Deployment, error)
	GetService(ctx context.Context, workspaceID, id string) (*domain.Service, error)
	UpdateDeployment(ctx context.Context, d *domain.Deployment) error
}

// StatusSink receives the final status of reaped deployments.
type StatusSink interface {
	DeploymentStatus(ctx context.Context, workspaceID string, p coreevents.Status)
}

// ReaperConfig configures the reaper worker.
type ReaperConfig struct {
	// Interval is the time between cycles. Default: 60 seconds.
	Interval time.Duration

	// StaleAfter is how long a deployment may go without an update before
	// it is considered abandoned. It must exceed the longest retried deploy.
	// Default: 30 minutes.
	StaleAfter time.Duration

	// BatchSize bounds the deployments handled per cycle. Default: 100.
	BatchSize int

	// MaxConcurrent bounds concurrent reaps. Default: 5.
	MaxConcurrent int
}

// DefaultReaperConfig returns the default configuration.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:      60 * time.Second,
		StaleAfter:    30 * time.Minute,
		BatchSize:     100,
		MaxConcurrent: 5,
	}
}

// Reaper settles deployments left non-terminal by a process that died
// mid-run. Building and queued attempts become failed; attempts that reached
// the provider become crashed. A deployment whose service lock is held is
// still owned by a live operation and is left alone.
type Reaper struct {
	store  ReaperStore
	locker lock.Locker
	events StatusSink
	config ReaperConfig
	clock  clock.Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper. events may be nil.
func NewReaper(s ReaperStore, locker lock.Locker, events StatusSink, config ReaperConfig, logger *slog.Logger) *Reaper {
	defaults := DefaultReaperConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reaper{
		store:  s,
		locker: locker,
		events: events,
		config: config,
		clock:  clock.WallClock,
		logger: logger.With("component", "reaper"),
	}
}

// Start begins the reaper background goroutine.
func (r *Reaper) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("reaper started",
		"interval", r.config.Interval,
		"stale_after", r.config.StaleAfter,
	)
}

// Stop cancels the loop and waits for an in-progress cycle.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

func (r *Reaper) run() {
	defer r.wg.Done()

	r.cycle()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.cycle()
		}
	}
}

func (r *Reaper) cycle() {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.Interval)
	defer cancel()

	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reaper cycle failed", "error", err)
	}
}

// RunOnce reaps one batch and returns how many deployments it settled.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.config.StaleAfter)
	stale, err := r.store.ListStaleDeployments(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale deployments: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	r.logger.Debug("reaping stale deployments", "count", len(stale))

	var (
		mu     sync.Mutex
		reaped int
	)
	g := new(errgroup.Group)
	g.SetLimit(r.config.MaxConcurrent)
	for i := range stale {
		d := &stale[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if r.reap(ctx, d) {
				mu.Lock()
				reaped++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return reaped, nil
}

// reap settles one deployment and reports whether it did.
func (r *Reaper) reap(ctx context.Context, d *domain.Deployment) bool {
	logger := r.logger.With("deployment_id", d.ID, "service_id", d.ServiceID, "workspace_id", d.WorkspaceID)

	lease, err := r.locker.Acquire(ctx, lock.ServiceKey(d.WorkspaceID, d.ServiceID))
	if err != nil {
		if !errors.Is(err, lock.ErrLocked) {
			logger.Warn("failed to lock service", "error", err)
		}
		return false
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release service lock", "error", err)
		}
	}()

	msg := fmt.Sprintf("deployment abandoned in %s: no progress since %s",
		d.Status, d.UpdatedAt.UTC().Format(time.RFC3339))
	if d.Status == domain.StatusDeploying {
		err = d.Transition(domain.StatusCrashed)
		d.ErrorMessage = msg
	} else {
		err = d.Fail(msg)
	}
	if err != nil {
		logger.Error("cannot settle deployment", "status", d.Status, "error", err)
		return false
	}

	if err := r.store.UpdateDeployment(ctx, d); err != nil {
		logger.Error("failed to update deployment", "error", err)
		return false
	}
	logger.Warn("reaped abandoned deployment", "status", d.Status)

	if r.events != nil {
		var name string
		if svc, err := r.store.GetService(ctx, d.WorkspaceID, d.ServiceID); err == nil {
			name = svc.Name
		}
		r.events.DeploymentStatus(ctx, d.WorkspaceID, coreevents.Status{
			Base:         coreevents.Base{ProjectID: d.ProjectID},
			ServiceID:    d.ServiceID,
			ServiceName:  name,
			DeploymentID: d.ID,
			Status:       string(d.Status),
			Error:        msg,
		})
	}
	return true
}
