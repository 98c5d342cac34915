package deployment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/validation"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "deadline" }
func (timeoutErr) Timeout() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		res      *command.Result
		expected FailureClass
	}{
		{"success", nil, &command.Result{ExitCode: 0}, FailureNone},
		{"nil result", nil, nil, FailureNone},
		{"not allowed", fmt.Errorf("run: %w", command.ErrCommandNotAllowed), nil, FailureValidation},
		{"invalid spec", command.ErrInvalidSpec, nil, FailureValidation},
		{"invalid field", &validation.FieldError{Field: "hostname", Message: "bad"}, nil, FailureValidation},
		{"timeout error", fmt.Errorf("up: %w", timeoutErr{}), nil, FailureTransient},
		{"deadline exceeded", context.DeadlineExceeded, nil, FailureTransient},
		{"cancelled", context.Canceled, nil, FailurePermanent},
		{"network text in error", errors.New("read tcp: connection reset by peer"), nil, FailureTransient},
		{"start failure", errors.New("exec: not found"), nil, FailurePermanent},
		{"econnreset in stderr", nil, &command.Result{ExitCode: 1, Stderr: "Error: ECONNRESET\n"}, FailureTransient},
		{"gateway in stderr", nil, &command.Result{ExitCode: 1, Stderr: "request failed with status 503\n"}, FailureTransient},
		{"timed out in stdout", nil, &command.Result{ExitCode: 1, Stdout: "upload timed out\n"}, FailureTransient},
		{"build error", nil, &command.Result{ExitCode: 1, Stderr: "error: npm run build exited with 1\n"}, FailurePermanent},
		{"port number is not a status", nil, &command.Result{ExitCode: 1, Stderr: "listen on 5030 failed\n"}, FailurePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err, tt.res))
		})
	}
}

func TestFailureClass_Retryable(t *testing.T) {
	assert.True(t, FailureTransient.Retryable())
	assert.False(t, FailurePermanent.Retryable())
	assert.False(t, FailureValidation.Retryable())
	assert.False(t, FailureNone.Retryable())
	assert.Equal(t, "transient", FailureTransient.String())
}
