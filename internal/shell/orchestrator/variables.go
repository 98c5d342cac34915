package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/domain"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/core/validation"
	"github.com/artpar/launchpad/internal/shell/audit"
)

// ErrNoVariables is returned when a set request carries no variables.
var ErrNoVariables = errors.New("no variables given")

// VariablesRequest sets environment variables on a service.
type VariablesRequest struct {
	WorkspaceID string
	ServiceID   string
	// Variables are applied in order; a later duplicate name wins.
	Variables    []command.Variable
	AutoRedeploy bool
	TriggeredBy  string
}

// VariablesResult reports what changed. It never carries values.
type VariablesResult struct {
	VariableNames []string `json:"variable_names"`
	// RunID is set when an automatic redeploy was started.
	RunID string `json:"run_id,omitempty"`
}

// SetVariables writes variables through the provider CLI without letting the
// provider redeploy, then optionally starts a redeploy of its own.
func (o *Orchestrator) SetVariables(ctx context.Context, req VariablesRequest) (*VariablesResult, error) {
	if len(req.Variables) == 0 {
		return nil, ErrNoVariables
	}
	for _, v := range req.Variables {
		if err := validation.VariableName(v.Name); err != nil {
			return nil, err
		}
	}

	svc, err := o.loadService(ctx, req.WorkspaceID, req.ServiceID)
	if err != nil {
		return nil, err
	}

	args := command.VariableSetArgs(svc.Name, o.environment(*svc, ""), req.Variables, true)
	if _, err := o.runOnce(ctx, svc.WorkspaceID, command.Variables, args); err != nil {
		return nil, err
	}

	action := coreevents.EnvSet
	if len(req.Variables) > 1 {
		action = coreevents.EnvBulkUpdate
	}
	o.events.EnvChanged(ctx, svc.WorkspaceID, svc.ProjectID, svc.ID, action, req.Variables, req.AutoRedeploy)

	names := coreevents.VariableNames(req.Variables)
	o.recordVariables(ctx, *svc, req.TriggeredBy, string(action), names)

	result := &VariablesResult{VariableNames: names}
	if req.AutoRedeploy {
		run, err := o.StartDeployService(ctx, ServiceRequest{
			WorkspaceID: svc.WorkspaceID,
			ServiceID:   svc.ID,
			TriggeredBy: req.TriggeredBy,
			Trigger:     domain.TriggerVariableChange,
		})
		if err != nil {
			return result, fmt.Errorf("variables saved, redeploy not started: %w", err)
		}
		result.RunID = run.ID
	}
	return result, nil
}

// DeleteVariable removes one variable from a service.
func (o *Orchestrator) DeleteVariable(ctx context.Context, workspaceID, serviceID, name, triggeredBy string) error {
	if err := validation.VariableName(name); err != nil {
		return err
	}
	svc, err := o.loadService(ctx, workspaceID, serviceID)
	if err != nil {
		return err
	}

	args := command.VariableDeleteArgs(svc.Name, o.environment(*svc, ""), name)
	if _, err := o.runOnce(ctx, svc.WorkspaceID, command.Variables, args); err != nil {
		return err
	}

	vars := []command.Variable{{Name: name}}
	o.events.EnvChanged(ctx, svc.WorkspaceID, svc.ProjectID, svc.ID, coreevents.EnvDelete, vars, false)
	o.recordVariables(ctx, *svc, triggeredBy, string(coreevents.EnvDelete), []string{name})
	return nil
}

// ListVariables returns the variable names of a service. Values are read from
// the provider and discarded.
func (o *Orchestrator) ListVariables(ctx context.Context, workspaceID, serviceID string) ([]string, error) {
	svc, err := o.loadService(ctx, workspaceID, serviceID)
	if err != nil {
		return nil, err
	}
	args := command.VariableListArgs(svc.Name, o.environment(*svc, ""))
	res, err := o.runOnce(ctx, svc.WorkspaceID, command.Variables, args)
	if err != nil {
		return nil, err
	}
	return command.ParseVariableNames(res.Stdout)
}

func (o *Orchestrator) recordVariables(ctx context.Context, svc domain.Service, userID, action string, names []string) {
	o.record(ctx, audit.Entry{
		WorkspaceID:  svc.WorkspaceID,
		UserID:       userID,
		Action:       audit.ActionVariablesUpdated,
		ResourceType: "service",
		ResourceID:   svc.ID,
		Metadata: map[string]string{
			"action":        action,
			"variableNames": strings.Join(names, ","),
			"count":         strconv.Itoa(len(names)),
		},
	})
}
