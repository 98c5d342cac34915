package domain

import (
	"errors"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Service Errors
// =============================================================================

var (
	ErrInvalidServiceType = errors.New("invalid service type")
	ErrInvalidServiceName = errors.New("invalid service name")
)

// =============================================================================
// Service Type
// =============================================================================

type ServiceType string

const (
	ServiceTypeWeb      ServiceType = "web"
	ServiceTypeAPI      ServiceType = "api"
	ServiceTypeWorker   ServiceType = "worker"
	ServiceTypeDatabase ServiceType = "database"
	ServiceTypeCache    ServiceType = "cache"
	ServiceTypeCron     ServiceType = "cron"
)

// IsValid reports whether t is a known service type.
func (t ServiceType) IsValid() bool {
	switch t {
	case ServiceTypeWeb, ServiceTypeAPI, ServiceTypeWorker,
		ServiceTypeDatabase, ServiceTypeCache, ServiceTypeCron:
		return true
	}
	return false
}

// DefaultDeployOrder returns the conventional dependency tier for a service type.
// Stateful backends deploy first, consumers after them, edge-facing units last.
func DefaultDeployOrder(t ServiceType) int {
	switch t {
	case ServiceTypeDatabase, ServiceTypeCache:
		return 0
	case ServiceTypeAPI, ServiceTypeWorker:
		return 1
	default:
		return 2
	}
}

// =============================================================================
// Service Status
// =============================================================================

type ServiceStatus string

const (
	ServiceStatusProvisioning ServiceStatus = "provisioning"
	ServiceStatusActive       ServiceStatus = "active"
	ServiceStatusDeploying    ServiceStatus = "deploying"
	ServiceStatusFailed       ServiceStatus = "failed"
	ServiceStatusStopped      ServiceStatus = "stopped"
	ServiceStatusRemoved      ServiceStatus = "removed"
)

// =============================================================================
// Service
// =============================================================================

// DefaultEnvironment is the provider environment used when none is given.
const DefaultEnvironment = "production"

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// Service is one deployable unit of a project.
type Service struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	ProjectID   string        `json:"project_id"`
	Name        string        `json:"name"`
	Type        ServiceType   `json:"type"`
	Status      ServiceStatus `json:"status"`
	DeployOrder int           `json:"deploy_order"`
	DependsOn   []string      `json:"depends_on,omitempty"` // service names
	Environment string        `json:"environment"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewService creates a service in the provisioning state.
func NewService(workspaceID, projectID, name string, typ ServiceType) (*Service, error) {
	if !serviceNamePattern.MatchString(name) {
		return nil, ErrInvalidServiceName
	}
	if !typ.IsValid() {
		return nil, ErrInvalidServiceType
	}

	now := time.Now().UTC()
	return &Service{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		Name:        name,
		Type:        typ,
		Status:      ServiceStatusProvisioning,
		DeployOrder: DefaultDeployOrder(typ),
		Environment: DefaultEnvironment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SetStatus updates the service status.
func (s *Service) SetStatus(status ServiceStatus) {
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
}

// SortByDeployOrder sorts services by DeployOrder ascending. Ties are broken by
// name and then id so the order is deterministic.
func SortByDeployOrder(services []Service) {
	sort.SliceStable(services, func(i, j int) bool {
		a, b := services[i], services[j]
		if a.DeployOrder != b.DeployOrder {
			return a.DeployOrder < b.DeployOrder
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
