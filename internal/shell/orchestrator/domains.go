package orchestrator

import (
	"context"
	"net/url"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/domain"
	coreevents "github.com/artpar/launchpad/internal/core/events"
	"github.com/artpar/launchpad/internal/core/validation"
	"github.com/artpar/launchpad/internal/shell/audit"
)

// DomainRequest adds or removes a domain on a service.
type DomainRequest struct {
	WorkspaceID string
	ServiceID   string
	// Hostname is the custom domain. Empty on add asks the provider to
	// generate one.
	Hostname    string
	TriggeredBy string
}

// DomainResult is the domain state after the change.
type DomainResult struct {
	Domain string                  `json:"domain"`
	Status coreevents.DomainStatus `json:"status"`
}

// AddDomain attaches a custom or generated domain. Custom domains wait for
// DNS; generated ones are active immediately.
func (o *Orchestrator) AddDomain(ctx context.Context, req DomainRequest) (*DomainResult, error) {
	if req.Hostname != "" {
		if err := validation.Hostname(req.Hostname); err != nil {
			return nil, err
		}
	}
	svc, err := o.loadService(ctx, req.WorkspaceID, req.ServiceID)
	if err != nil {
		return nil, err
	}

	res, err := o.runOnce(ctx, svc.WorkspaceID, command.Domain, command.DomainAddArgs(svc.Name, req.Hostname))
	if err != nil {
		o.domainChanged(ctx, *svc, req.TriggeredBy, req.Hostname, coreevents.DomainAdded, coreevents.DomainError)
		return nil, err
	}

	result := &DomainResult{Domain: req.Hostname, Status: coreevents.DomainPendingDNS}
	if req.Hostname == "" {
		result.Domain = generatedHost(res.Stdout)
		result.Status = coreevents.DomainActive
	}
	o.domainChanged(ctx, *svc, req.TriggeredBy, result.Domain, coreevents.DomainAdded, result.Status)
	return result, nil
}

// RemoveDomain detaches a custom domain.
func (o *Orchestrator) RemoveDomain(ctx context.Context, req DomainRequest) error {
	if err := validation.Hostname(req.Hostname); err != nil {
		return err
	}
	svc, err := o.loadService(ctx, req.WorkspaceID, req.ServiceID)
	if err != nil {
		return err
	}

	if _, err := o.runOnce(ctx, svc.WorkspaceID, command.Domain, command.DomainRemoveArgs(svc.Name, req.Hostname)); err != nil {
		o.domainChanged(ctx, *svc, req.TriggeredBy, req.Hostname, coreevents.DomainRemoved, coreevents.DomainError)
		return err
	}
	o.domainChanged(ctx, *svc, req.TriggeredBy, req.Hostname, coreevents.DomainRemoved, coreevents.DomainActive)
	return nil
}

func (o *Orchestrator) domainChanged(ctx context.Context, svc domain.Service, userID, host string, action coreevents.DomainAction, status coreevents.DomainStatus) {
	o.events.DomainUpdated(ctx, svc.WorkspaceID, coreevents.DomainUpdated{
		Base:      coreevents.Base{ProjectID: svc.ProjectID},
		ServiceID: svc.ID,
		Domain:    host,
		Action:    action,
		Status:    status,
	})
	o.record(ctx, audit.Entry{
		WorkspaceID:  svc.WorkspaceID,
		UserID:       userID,
		Action:       audit.ActionDomainUpdated,
		ResourceType: "service",
		ResourceID:   svc.ID,
		Metadata: map[string]string{
			"domain": host,
			"action": string(action),
			"status": string(status),
		},
	})
}

// generatedHost extracts the hostname of the URL the provider printed.
func generatedHost(stdout string) string {
	out := command.ParseDeployOutput(stdout)
	if out.URL == "" {
		return ""
	}
	u, err := url.Parse(out.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
