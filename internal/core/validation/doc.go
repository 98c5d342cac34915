// Package validation provides pure validation functions for request fields.
//
// This package contains the functional core logic for rejecting malformed
// input before any external command is attempted. All functions are pure
// (no I/O, no side effects).
//
// # Functions
//
//   - Hostname: Validate a custom domain hostname
//   - VariableName: Validate an environment variable name
//   - DeploymentRef: Validate a deployment identifier
//   - ServiceName: Validate a service name
//
// # Usage
//
// The orchestrator validates every user-supplied field first and surfaces
// the *FieldError to the caller without touching the provider CLI:
//
//	if err := validation.Hostname(req.Domain); err != nil {
//	    return nil, err // errors.Is(err, validation.ErrInvalid)
//	}
package validation
