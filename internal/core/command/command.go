// Package command defines the closed set of provider CLI operations the
// platform may run, the invocation spec handed to the executor, and pure
// builders for the CLI argument grammar.
//
// This is part of the Functional Core - nothing here spawns a process.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrCommandNotAllowed is returned for any command outside the allow-list.
	ErrCommandNotAllowed = errors.New("command not allowed")

	// ErrInvalidSpec is returned when arguments or environment are out of bounds.
	ErrInvalidSpec = errors.New("invalid command spec")
)

// =============================================================================
// Allow-list
// =============================================================================

// Command is a provider CLI subcommand. Only the constants below are valid.
type Command string

const (
	Status      Command = "status"
	List        Command = "list"
	Up          Command = "up"
	Add         Command = "add"
	Redeploy    Command = "redeploy"
	Restart     Command = "restart"
	Domain      Command = "domain"
	Logs        Command = "logs"
	Variables   Command = "variable"
	Environment Command = "environment"
	Service     Command = "service"
	Connect     Command = "connect"
)

var allowed = map[Command]struct{}{
	Status:      {},
	List:        {},
	Up:          {},
	Add:         {},
	Redeploy:    {},
	Restart:     {},
	Domain:      {},
	Logs:        {},
	Variables:   {},
	Environment: {},
	Service:     {},
	Connect:     {},
}

// Parse converts a string to an allow-listed Command. Anything else, including
// login, delete, ssh, shell and run, fails closed.
func Parse(name string) (Command, error) {
	c := Command(name)
	if !c.Allowed() {
		return "", fmt.Errorf("%w: %q", ErrCommandNotAllowed, name)
	}
	return c, nil
}

// Allowed reports whether c is on the allow-list.
func (c Command) Allowed() bool {
	_, ok := allowed[c]
	return ok
}

// =============================================================================
// Spec
// =============================================================================

// Bounds applied to every invocation.
const (
	MinTimeout     = 5 * time.Second
	MaxTimeout     = 600 * time.Second
	DefaultTimeout = 300 * time.Second

	MaxArgs      = 64
	MaxArgLength = 4096
	MaxEnv       = 16
)

var envKeyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// Spec describes one CLI invocation. Env is the complete environment of the
// child process; nothing is inherited from the host.
type Spec struct {
	Command Command
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// Validate checks the command against the allow-list and the argument and
// environment bounds.
func (s Spec) Validate() error {
	if !s.Command.Allowed() {
		return fmt.Errorf("%w: %q", ErrCommandNotAllowed, string(s.Command))
	}
	if len(s.Args) > MaxArgs {
		return fmt.Errorf("%w: too many arguments (%d)", ErrInvalidSpec, len(s.Args))
	}
	for i, a := range s.Args {
		if len(a) > MaxArgLength {
			return fmt.Errorf("%w: argument %d exceeds %d bytes", ErrInvalidSpec, i, MaxArgLength)
		}
		if strings.ContainsRune(a, 0) {
			return fmt.Errorf("%w: argument %d contains NUL", ErrInvalidSpec, i)
		}
	}
	if len(s.Env) > MaxEnv {
		return fmt.Errorf("%w: too many environment entries (%d)", ErrInvalidSpec, len(s.Env))
	}
	for k, v := range s.Env {
		if !envKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: invalid environment key %q", ErrInvalidSpec, k)
		}
		if strings.ContainsRune(v, 0) {
			return fmt.Errorf("%w: environment value for %s contains NUL", ErrInvalidSpec, k)
		}
	}
	return nil
}

// Argv returns the full argument vector passed to the binary.
func (s Spec) Argv() []string {
	argv := make([]string, 0, len(s.Args)+1)
	argv = append(argv, string(s.Command))
	return append(argv, s.Args...)
}

// ClampTimeout bounds d to [MinTimeout, MaxTimeout]; zero selects DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// =============================================================================
// Result
// =============================================================================

// Result is the captured outcome of a process that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Succeeded reports a zero exit code.
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// StdoutLines splits stdout into non-empty lines.
func (r *Result) StdoutLines() []string {
	if r == nil {
		return nil
	}
	return splitLines(r.Stdout)
}

// StderrLines splits stderr into non-empty lines.
func (r *Result) StderrLines() []string {
	if r == nil {
		return nil
	}
	return splitLines(r.Stderr)
}

// LastError returns the last non-empty stderr line, falling back to stdout.
// Used as the human-readable failure reason.
func (r *Result) LastError() string {
	if r == nil {
		return ""
	}
	if lines := splitLines(r.Stderr); len(lines) > 0 {
		return lines[len(lines)-1]
	}
	if lines := splitLines(r.Stdout); len(lines) > 0 {
		return lines[len(lines)-1]
	}
	return fmt.Sprintf("exit code %d", r.ExitCode)
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
