package deployment

import (
	"context"
	"errors"
	"regexp"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/validation"
)

// MaxAttempts is the total number of tries for one service deploy, first try
// included.
const MaxAttempts = 3

// =============================================================================
// Failure Classification
// =============================================================================

type FailureClass int

const (
	// FailureNone means the attempt succeeded.
	FailureNone FailureClass = iota
	// FailureValidation covers requests that were never attempted.
	FailureValidation
	// FailureTransient covers timeouts and network-class errors. Retryable.
	FailureTransient
	// FailurePermanent covers deterministic build and deploy errors.
	FailurePermanent
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureValidation:
		return "validation"
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	}
	return "unknown"
}

// Retryable reports whether an attempt failing with c may be tried again.
func (c FailureClass) Retryable() bool {
	return c == FailureTransient
}

// timeouter is satisfied by executor errors and net.Error.
type timeouter interface {
	Timeout() bool
}

var transientPattern = regexp.MustCompile(`(?i)(connection reset|connection refused|ECONNRESET|ECONNREFUSED|ETIMEDOUT|EAI_AGAIN|timed out|i/o timeout|temporarily unavailable|network is unreachable|no such host|TLS handshake timeout|unexpected EOF|\b50[234]\b|bad gateway|service unavailable|gateway timeout)`)

// Classify decides the failure class of one executor call. err is the error
// returned by the executor; res is the captured result, if any.
func Classify(err error, res *command.Result) FailureClass {
	if err != nil {
		var t timeouter
		switch {
		case errors.Is(err, command.ErrCommandNotAllowed),
			errors.Is(err, command.ErrInvalidSpec),
			errors.Is(err, validation.ErrInvalid):
			return FailureValidation
		case errors.Is(err, context.Canceled):
			return FailurePermanent
		case errors.Is(err, context.DeadlineExceeded):
			return FailureTransient
		case errors.As(err, &t) && t.Timeout():
			return FailureTransient
		case transientPattern.MatchString(err.Error()):
			return FailureTransient
		}
		return FailurePermanent
	}

	if res == nil || res.Succeeded() {
		return FailureNone
	}
	if transientPattern.MatchString(res.Stderr) || transientPattern.MatchString(res.LastError()) {
		return FailureTransient
	}
	return FailurePermanent
}
