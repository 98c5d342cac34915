package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/launchpad/internal/core/auth"
	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/orchestrator"
	"github.com/artpar/launchpad/internal/shell/store"
)

// maxBodyBytes bounds request bodies. Variable sets are the largest.
const maxBodyBytes = 1 << 20

// =============================================================================
// Collaborators
// =============================================================================

// Orchestrator is the part of *orchestrator.Orchestrator the API drives.
type Orchestrator interface {
	StartBulkDeploy(ctx context.Context, req orchestrator.BulkRequest) (*orchestrator.BulkRun, error)
	StartDeployService(ctx context.Context, req orchestrator.ServiceRequest) (*orchestrator.BulkRun, error)
	StartProvisionService(ctx context.Context, req orchestrator.ProvisionRequest) (*domain.Service, error)
	StartRollback(ctx context.Context, req orchestrator.RollbackRequest) (*domain.Deployment, error)
	RestartService(ctx context.Context, workspaceID, serviceID, triggeredBy string) error
	SetVariables(ctx context.Context, req orchestrator.VariablesRequest) (*orchestrator.VariablesResult, error)
	DeleteVariable(ctx context.Context, workspaceID, serviceID, name, triggeredBy string) error
	ListVariables(ctx context.Context, workspaceID, serviceID string) ([]string, error)
	AddDomain(ctx context.Context, req orchestrator.DomainRequest) (*orchestrator.DomainResult, error)
	RemoveDomain(ctx context.Context, req orchestrator.DomainRequest) error
	FetchLogs(ctx context.Context, req orchestrator.LogsRequest) ([]string, error)
	History(ctx context.Context, workspaceID, serviceID string, opts store.ListOptions) ([]domain.Deployment, error)
	GetDeployment(ctx context.Context, workspaceID, serviceID, deploymentID string) (*domain.Deployment, error)
	Services(ctx context.Context, workspaceID, projectID string) ([]domain.Service, error)
}

// StreamServer upgrades a request to the event stream of a workspace.
type StreamServer interface {
	Serve(w http.ResponseWriter, req *http.Request, workspaceID string)
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides the HTTP handlers of the API.
type Handler struct {
	orch   Orchestrator
	stream StreamServer
	logger *slog.Logger
}

// NewHandler creates a new API handler. stream may be nil, in which case
// the events route answers 503.
func NewHandler(orch Orchestrator, stream StreamServer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:   orch,
		stream: stream,
		logger: logger.With("component", "api"),
	}
}

// Routes registers the workspace routes on r. The caller mounts it under
// /api/v1/workspaces/{workspaceID}.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/events", h.handleEvents)

	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Post("/deployments", h.handleBulkDeploy)
		r.Get("/services", h.handleListServices)
		r.Post("/services", h.handleProvisionService)
	})

	r.Route("/services/{serviceID}", func(r chi.Router) {
		r.Post("/deployments", h.handleDeployService)
		r.Get("/deployments", h.handleListDeployments)
		r.Get("/deployments/{deploymentID}", h.handleGetDeployment)
		r.Post("/rollback", h.handleRollback)
		r.Post("/restart", h.handleRestart)
		r.Get("/variables", h.handleListVariables)
		r.Put("/variables", h.handleSetVariables)
		r.Delete("/variables/{name}", h.handleDeleteVariable)
		r.Post("/domains", h.handleAddDomain)
		r.Delete("/domains/{hostname}", h.handleRemoveDomain)
		r.Get("/logs", h.handleLogs)
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleBulkDeploy(w http.ResponseWriter, r *http.Request) {
	var req BulkDeployRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	run, err := h.orch.StartBulkDeploy(r.Context(), orchestrator.BulkRequest{
		WorkspaceID: workspaceID(r),
		ProjectID:   chi.URLParam(r, "projectID"),
		ServiceIDs:  req.ServiceIDs,
		TriggeredBy: userID(r),
		Environment: req.Environment,
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, runAccepted(run))
}

func (h *Handler) handleDeployService(w http.ResponseWriter, r *http.Request) {
	var req DeployServiceRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	run, err := h.orch.StartDeployService(r.Context(), orchestrator.ServiceRequest{
		WorkspaceID: workspaceID(r),
		ServiceID:   chi.URLParam(r, "serviceID"),
		TriggeredBy: userID(r),
		Trigger:     domain.TriggerManual,
		Environment: req.Environment,
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, runAccepted(run))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}

	deployments, err := h.orch.History(r.Context(), workspaceID(r), chi.URLParam(r, "serviceID"), opts)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	h.writeJSON(w, http.StatusOK, DeploymentListResponse{
		Deployments: deployments,
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	})
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.orch.GetDeployment(r.Context(), workspaceID(r),
		chi.URLParam(r, "serviceID"), chi.URLParam(r, "deploymentID"))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.orch.StartRollback(r.Context(), orchestrator.RollbackRequest{
		WorkspaceID:        workspaceID(r),
		ServiceID:          chi.URLParam(r, "serviceID"),
		TargetDeploymentID: req.TargetDeploymentID,
		TriggeredBy:        userID(r),
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, d)
}

// =============================================================================
// Service Handlers
// =============================================================================

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.orch.Services(r.Context(), workspaceID(r), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if services == nil {
		services = []domain.Service{}
	}
	h.writeJSON(w, http.StatusOK, ServiceListResponse{Services: services})
}

func (h *Handler) handleProvisionService(w http.ResponseWriter, r *http.Request) {
	var req ProvisionServiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	svc, err := h.orch.StartProvisionService(r.Context(), orchestrator.ProvisionRequest{
		WorkspaceID: workspaceID(r),
		ProjectID:   chi.URLParam(r, "projectID"),
		Name:        req.Name,
		Type:        domain.ServiceType(req.Type),
		Engine:      req.Engine,
		DeployOrder: req.DeployOrder,
		DependsOn:   req.DependsOn,
		Environment: req.Environment,
		TriggeredBy: userID(r),
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, svc)
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	err := h.orch.RestartService(r.Context(), workspaceID(r), chi.URLParam(r, "serviceID"), userID(r))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: string(domain.ServiceStatusActive)})
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	logType := r.URL.Query().Get("type")
	switch logType {
	case "":
		logType = "runtime"
	case "build", "runtime":
	default:
		h.writeError(w, http.StatusBadRequest, CodeValidation, "type must be build or runtime")
		return
	}

	deploymentID := r.URL.Query().Get("deployment_id")
	lines, err := h.orch.FetchLogs(r.Context(), orchestrator.LogsRequest{
		WorkspaceID:  workspaceID(r),
		ServiceID:    chi.URLParam(r, "serviceID"),
		DeploymentID: deploymentID,
		Build:        logType == "build",
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	h.writeJSON(w, http.StatusOK, LogsResponse{
		DeploymentID: deploymentID,
		Type:         logType,
		Lines:        lines,
	})
}

// =============================================================================
// Variable Handlers
// =============================================================================

func (h *Handler) handleListVariables(w http.ResponseWriter, r *http.Request) {
	names, err := h.orch.ListVariables(r.Context(), workspaceID(r), chi.URLParam(r, "serviceID"))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	h.writeJSON(w, http.StatusOK, VariablesResponse{VariableNames: names})
}

func (h *Handler) handleSetVariables(w http.ResponseWriter, r *http.Request) {
	var req SetVariablesRequest
	if !h.decode(w, r, &req) {
		return
	}

	vars := make([]command.Variable, 0, len(req.Variables))
	for _, v := range req.Variables {
		vars = append(vars, command.Variable{Name: v.Name, Value: v.Value})
	}

	res, err := h.orch.SetVariables(r.Context(), orchestrator.VariablesRequest{
		WorkspaceID:  workspaceID(r),
		ServiceID:    chi.URLParam(r, "serviceID"),
		Variables:    vars,
		AutoRedeploy: req.AutoRedeploy,
		TriggeredBy:  userID(r),
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.RunID != "" {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, VariablesResponse{VariableNames: res.VariableNames, RunID: res.RunID})
}

func (h *Handler) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	err := h.orch.DeleteVariable(r.Context(), workspaceID(r),
		chi.URLParam(r, "serviceID"), chi.URLParam(r, "name"), userID(r))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Domain Handlers
// =============================================================================

func (h *Handler) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	var req AddDomainRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	res, err := h.orch.AddDomain(r.Context(), orchestrator.DomainRequest{
		WorkspaceID: workspaceID(r),
		ServiceID:   chi.URLParam(r, "serviceID"),
		Hostname:    req.Hostname,
		TriggeredBy: userID(r),
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleRemoveDomain(w http.ResponseWriter, r *http.Request) {
	err := h.orch.RemoveDomain(r.Context(), orchestrator.DomainRequest{
		WorkspaceID: workspaceID(r),
		ServiceID:   chi.URLParam(r, "serviceID"),
		Hostname:    chi.URLParam(r, "hostname"),
		TriggeredBy: userID(r),
	})
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Event Stream
// =============================================================================

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		h.writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "event streaming is disabled")
		return
	}
	ws := workspaceID(r)
	if !auth.CanStream(auth.FromContext(r.Context()), ws) {
		h.writeError(w, http.StatusForbidden, "forbidden", "API keys cannot open event streams")
		return
	}
	h.stream.Serve(w, r, ws)
}

// =============================================================================
// Helpers
// =============================================================================

func workspaceID(r *http.Request) string {
	return chi.URLParam(r, "workspaceID")
}

func userID(r *http.Request) string {
	return auth.FromContext(r.Context()).UserID
}

func runAccepted(run *orchestrator.BulkRun) RunAcceptedResponse {
	return RunAcceptedResponse{
		RunID:    run.ID,
		Status:   string(domain.StatusQueued),
		Services: run.Services,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

// decode reads a required JSON body into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidJSON, "invalid JSON body")
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, CodeInvalidJSON, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) listOptions(w http.ResponseWriter, r *http.Request) (store.ListOptions, bool) {
	opts := store.DefaultListOptions()
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, CodeValidation, p.name+" must be a non-negative integer")
			return opts, false
		}
		*p.dst = n
	}
	return opts.Normalize(), true
}
