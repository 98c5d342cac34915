package store

import (
	"context"
	"time"

	"github.com/artpar/launchpad/internal/core/domain"
)

// =============================================================================
// Repository Interfaces
// =============================================================================

// Every read and write is keyed by workspace. A record that exists in another
// workspace is reported as ErrNotFound.

// ServiceRepository persists services.
type ServiceRepository interface {
	CreateService(ctx context.Context, svc *domain.Service) error
	GetService(ctx context.Context, workspaceID, id string) (*domain.Service, error)
	UpdateService(ctx context.Context, svc *domain.Service) error
	ListServices(ctx context.Context, workspaceID, projectID string) ([]domain.Service, error)
}

// DeploymentRepository persists the append-only deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, d *domain.Deployment) error
	GetDeployment(ctx context.Context, workspaceID, id string) (*domain.Deployment, error)
	UpdateDeployment(ctx context.Context, d *domain.Deployment) error
	ListDeployments(ctx context.Context, workspaceID, serviceID string, opts ListOptions) ([]domain.Deployment, error)
	// LatestSuccessfulDeployment returns the most recent deployment of the
	// service whose status is success.
	LatestSuccessfulDeployment(ctx context.Context, workspaceID, serviceID string) (*domain.Deployment, error)
}

// Store is the full persistence interface.
type Store interface {
	ServiceRepository
	DeploymentRepository

	// ListStaleDeployments returns deployments of every workspace that are
	// not terminal and were last updated before cutoff, oldest first. It is
	// for recovery after a crash and must not serve tenant requests.
	ListStaleDeployments(ctx context.Context, cutoff time.Time, limit int) ([]domain.Deployment, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
