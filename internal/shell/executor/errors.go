package executor

import (
	"errors"
	"fmt"

	"github.com/artpar/launchpad/internal/core/command"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrCommandNotAllowed is returned for commands outside the allow-list.
	// Nothing is spawned.
	ErrCommandNotAllowed = command.ErrCommandNotAllowed

	// ErrTimeout is returned when the invocation exceeded its deadline. The
	// process group has been killed by the time it is returned.
	ErrTimeout = errors.New("command timed out")

	// ErrStartFailed is returned when the binary could not be started.
	ErrStartFailed = errors.New("command failed to start")

	// ErrNoToken is returned when no provider token exists for a workspace.
	ErrNoToken = errors.New("no provider token configured")
)

// ExecutionError wraps errors with additional context.
type ExecutionError struct {
	Op      string // Operation that failed (e.g., "Run")
	Command string // CLI subcommand
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Command, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the invocation was killed at its deadline.
func (e *ExecutionError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(op, cmd, message string, err error) *ExecutionError {
	return &ExecutionError{
		Op:      op,
		Command: cmd,
		Message: message,
		Err:     err,
	}
}
