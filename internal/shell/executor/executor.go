// Package executor runs allow-listed provider CLI commands as child processes.
//
// The child environment is built only from the invocation spec and explicit
// configuration; the host environment is never inherited. Every invocation has
// a hard deadline, and on expiry the whole process group is killed before Run
// returns.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/artpar/launchpad/internal/core/sanitize"
	"github.com/artpar/launchpad/internal/shell/metrics"
)

// Runner is what the orchestrator depends on.
type Runner interface {
	Run(ctx context.Context, spec command.Spec) (*command.Result, error)
}

// =============================================================================
// Configuration
// =============================================================================

const (
	DefaultBinary         = "railway"
	DefaultPath           = "/usr/local/bin:/usr/bin:/bin"
	DefaultMaxOutputBytes = 1 << 20
	DefaultWaitDelay      = 2 * time.Second
)

// Config configures the executor.
type Config struct {
	// Binary is the provider CLI, as a path or a name looked up on the host PATH.
	Binary string
	// Path is the PATH given to the child. It is not taken from the host.
	Path string
	// Home is the HOME given to the child. Empty omits HOME.
	Home string
	// WorkDir is the working directory of the child. Empty uses the current one.
	WorkDir string
	// MaxOutputBytes bounds each of stdout and stderr.
	MaxOutputBytes int
	// WaitDelay bounds how long output pipes are drained after the process
	// is killed.
	WaitDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = DefaultWaitDelay
	}
	return c
}

// =============================================================================
// Executor
// =============================================================================

// Executor implements Runner with os/exec.
type Executor struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates an executor. A nil logger uses slog.Default(); nil metrics
// record nothing.
func New(config Config, m *metrics.Collector, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config:  config.withDefaults(),
		logger:  logger.With("component", "executor"),
		metrics: m,
	}
}

// Run executes one CLI invocation. A non-zero exit code is reported in the
// Result, not as an error. Errors are ErrCommandNotAllowed or ErrInvalidSpec
// (nothing spawned), ErrStartFailed, ErrTimeout (a partial Result is returned
// alongside), or the context error when ctx was cancelled.
func (e *Executor) Run(ctx context.Context, spec command.Spec) (*command.Result, error) {
	name := string(spec.Command)

	if err := spec.Validate(); err != nil {
		e.metrics.ObserveCommand(name, metrics.CommandRejected, 0)
		e.logger.Warn("rejected command", "command", sanitize.Line(name), "error", err)
		return nil, NewExecutionError("Run", name, "rejected", err)
	}

	timeout := command.ClampTimeout(spec.Timeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newBoundedBuffer(e.config.MaxOutputBytes)
	stderr := newBoundedBuffer(e.config.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, e.config.Binary, spec.Argv()...)
	cmd.Env = e.environ(spec.Env)
	cmd.Dir = e.config.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.config.WaitDelay
	configureProcess(cmd)

	e.logger.Debug("running command",
		"command", name,
		"argv", sanitize.Line(strings.Join(spec.Argv(), " ")),
		"timeout", timeout,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		e.metrics.ObserveCommand(name, metrics.CommandStartFailed, time.Since(start))
		e.logger.Error("failed to start command", "command", name, "error", sanitize.Error(err))
		return nil, NewExecutionError("Run", name, sanitize.Error(err), ErrStartFailed)
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	result := &command.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			e.metrics.ObserveCommand(name, metrics.CommandTimeout, duration)
			e.logger.Warn("command timed out", "command", name, "timeout", timeout, "duration", duration)
			return result, NewExecutionError("Run", name, fmt.Sprintf("timed out after %s", timeout), ErrTimeout)
		}
		e.metrics.ObserveCommand(name, metrics.CommandExitError, duration)
		return result, NewExecutionError("Run", name, "cancelled", ctxErr)
	}

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			e.metrics.ObserveCommand(name, metrics.CommandExitError, duration)
			return result, NewExecutionError("Run", name, sanitize.Error(waitErr), waitErr)
		}
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	outcome := metrics.CommandOK
	if result.ExitCode != 0 {
		outcome = metrics.CommandExitError
	}
	e.metrics.ObserveCommand(name, outcome, duration)
	e.logger.Info("command finished",
		"command", name,
		"exit_code", result.ExitCode,
		"duration", duration,
	)

	return result, nil
}

// environ builds the child environment from configuration and the command env.
func (e *Executor) environ(env map[string]string) []string {
	out := make([]string, 0, len(env)+2)
	out = append(out, "PATH="+e.config.Path)
	if e.config.Home != "" {
		out = append(out, "HOME="+e.config.Home)
	}
	for k, v := range env {
		if k == "PATH" || (k == "HOME" && e.config.Home != "") {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}

// =============================================================================
// Bounded Output
// =============================================================================

// TruncationMarker is appended to output that exceeded the byte limit.
const TruncationMarker = "\n[output truncated]\n"

// boundedBuffer keeps the first limit bytes written to it and discards the
// rest, so a runaway process cannot exhaust memory. Writes never fail.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}
