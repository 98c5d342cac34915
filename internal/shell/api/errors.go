package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/core/sanitize"
	"github.com/artpar/launchpad/internal/core/validation"
	"github.com/artpar/launchpad/internal/shell/api/middleware"
	"github.com/artpar/launchpad/internal/shell/orchestrator"
	"github.com/artpar/launchpad/internal/shell/store"
)

// Error codes in responses.
const (
	CodeValidation  = "validation_error"
	CodeInvalidJSON = "invalid_json"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeBusy        = "service_busy"
	CodeProvider    = "provider_error"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal_error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{validation.ErrInvalid, http.StatusBadRequest, CodeValidation},
	{orchestrator.ErrNoVariables, http.StatusBadRequest, CodeValidation},
	{orchestrator.ErrNoServices, http.StatusBadRequest, CodeValidation},
	{orchestrator.ErrUnknownService, http.StatusBadRequest, CodeValidation},
	{domain.ErrRollbackTargetInvalid, http.StatusBadRequest, CodeValidation},
	{store.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{orchestrator.ErrServiceBusy, http.StatusConflict, CodeBusy},
	{orchestrator.ErrAlreadyCurrent, http.StatusConflict, CodeConflict},
	{orchestrator.ErrNoDeploymentArtifact, http.StatusConflict, CodeConflict},
	{store.ErrDuplicateName, http.StatusConflict, CodeConflict},
	{store.ErrDuplicateID, http.StatusConflict, CodeConflict},
	{domain.ErrInvalidTransition, http.StatusConflict, CodeConflict},
	{orchestrator.ErrCommandFailed, http.StatusBadGateway, CodeProvider},
	{orchestrator.ErrShuttingDown, http.StatusServiceUnavailable, CodeUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeUnavailable},
}

// classify maps an operation error to a status and code.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeOpError writes err as an error response. Internal errors are logged
// and replaced by a generic detail.
func (h *Handler) writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	detail := sanitize.Error(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", detail,
		)
		detail = "An unexpected error occurred"
	}
	middleware.WriteAPIError(w, status, middleware.APIError{
		Code:   code,
		Title:  http.StatusText(status),
		Detail: detail,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, detail string) {
	middleware.WriteAPIError(w, status, middleware.APIError{
		Code:   code,
		Title:  http.StatusText(status),
		Detail: detail,
	})
}
