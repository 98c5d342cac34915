package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is wrapped by every FieldError.
var ErrInvalid = errors.New("validation failed")

// FieldError names the field that failed validation and why.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

func fieldError(field, message string) error {
	return &FieldError{Field: field, Message: message}
}

var (
	hostnameLabel   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	variableName    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)
	deploymentRef   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{5,63}$`)
	serviceNameExpr = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)
)

// =============================================================================
// Field Validation Functions
// =============================================================================

// Hostname validates a fully qualified custom domain such as "app.example.com".
// At least two labels are required and the TLD must not be numeric.
func Hostname(host string) error {
	if host == "" {
		return fieldError("domain", "domain is required")
	}
	if len(host) > 253 {
		return fieldError("domain", "domain is too long")
	}
	if host != strings.ToLower(host) {
		return fieldError("domain", "domain must be lowercase")
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return fieldError("domain", "domain must have at least two labels")
	}
	for _, label := range labels {
		if !hostnameLabel.MatchString(label) {
			return fieldError("domain", fmt.Sprintf("invalid label %q", label))
		}
	}
	tld := labels[len(labels)-1]
	if strings.Trim(tld, "0123456789") == "" {
		return fieldError("domain", "top-level domain must not be numeric")
	}
	return nil
}

// VariableName validates an environment variable name.
func VariableName(name string) error {
	if name == "" {
		return fieldError("name", "variable name is required")
	}
	if !variableName.MatchString(name) {
		return fieldError("name", fmt.Sprintf("invalid variable name %q", name))
	}
	return nil
}

// DeploymentRef validates a deployment identifier (uuid or provider id).
func DeploymentRef(ref string) error {
	if ref == "" {
		return fieldError("deployment_id", "deployment id is required")
	}
	if !deploymentRef.MatchString(ref) {
		return fieldError("deployment_id", "malformed deployment id")
	}
	return nil
}

// ServiceName validates a service name as accepted by the provider CLI.
func ServiceName(name string) error {
	if name == "" {
		return fieldError("name", "service name is required")
	}
	if !serviceNameExpr.MatchString(name) {
		return fieldError("name", "service name must be lowercase alphanumeric with hyphens")
	}
	return nil
}
