// Package runner executes the commands configured in serialrund.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	kclock "k8s.io/utils/clock"
)

// DefaultMaxOutput is the default maximum number of bytes of output kept for each run.
const DefaultMaxOutput = 1 << 20

// ErrTimeout is returned when a command doesn't complete within its timeout.
var ErrTimeout = errors.New("command timed out")

// Command is a command that can be executed.
type Command struct {
	Name    string
	Exec    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Request contains the per-invocation input.
type Request struct {
	// Appended to the command's arguments
	Args []string `json:"args"`
	// Passed to the process on stdin
	Stdin string `json:"stdin"`
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	// Combined stdout and stderr
	Output    string
	Truncated bool
	Duration  time.Duration
}

// Success returns true if the command exited with code 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Options for New.
type Options struct {
	// Maximum number of bytes of output to keep.
	// Defaults to DefaultMaxOutput.
	MaxOutput int
	// Grace period after the timeout before the process's pipes are forcibly closed.
	// Defaults to 2s.
	WaitDelay time.Duration
	Log       *slog.Logger

	// Internal clock property, used for testing
	clock kclock.PassiveClock
}

// Runner executes commands.
type Runner struct {
	maxOutput int
	waitDelay time.Duration
	log       *slog.Logger
	clock     kclock.PassiveClock
}

// New returns a new Runner.
func New(opts Options) *Runner {
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = 2 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.clock == nil {
		opts.clock = kclock.RealClock{}
	}

	return &Runner{
		maxOutput: opts.MaxOutput,
		waitDelay: opts.WaitDelay,
		log:       opts.Log.With(slog.String("scope", "runner")),
		clock:     opts.clock,
	}
}

// Run executes cmd and waits for it to exit.
// A command that exits with a non-zero code is not an error: the code is reported in the Result.
// Errors are returned when the process can't be started, when it exceeds the command's timeout (ErrTimeout), or when ctx is done.
func (r *Runner) Run(ctx context.Context, cmd Command, req Request) (*Result, error) {
	if len(cmd.Exec) == 0 {
		return nil, fmt.Errorf("command '%s' has no executable", cmd.Name)
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	args := make([]string, 0, len(cmd.Exec)-1+len(req.Args))
	args = append(args, cmd.Exec[1:]...)
	args = append(args, req.Args...)

	out := &limitedBuffer{max: r.maxOutput}
	c := exec.CommandContext(runCtx, cmd.Exec[0], args...) //nolint:gosec
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = out
	c.Stderr = out
	c.WaitDelay = r.waitDelay
	if req.Stdin != "" {
		c.Stdin = strings.NewReader(req.Stdin)
	}

	start := r.clock.Now()
	err := c.Run()
	duration := r.clock.Since(start)

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case runCtx.Err() != nil:
		r.log.WarnContext(ctx, "Command timed out",
			slog.String("command", cmd.Name),
			slog.Duration("timeout", cmd.Timeout),
		)
		return nil, fmt.Errorf("%w after %v", ErrTimeout, cmd.Timeout)
	case errors.As(err, &exitErr):
		// Process ran and exited with a non-zero code
	case err != nil:
		return nil, fmt.Errorf("failed to run command '%s': %w", cmd.Name, err)
	}

	res := &Result{
		ExitCode:  c.ProcessState.ExitCode(),
		Output:    out.String(),
		Truncated: out.truncated,
		Duration:  duration,
	}
	r.log.DebugContext(ctx, "Command completed",
		slog.String("command", cmd.Name),
		slog.Int("exitCode", res.ExitCode),
		slog.Duration("duration", duration),
	)

	return res, nil
}

// limitedBuffer keeps the first max bytes written to it and discards the rest.
// Writes never fail, so the process is not killed by a broken pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	free := b.max - b.buf.Len()
	if free < len(p) {
		b.truncated = true
		p = p[:max(free, 0)]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
