// Package command runs shell commands on the controller.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Result holds the outcome of executing a command.
type Result struct {
	Stdout string
	Stderr string
	// ExitCode is -1 when the command could not be started or was killed.
	ExitCode int
}

// Runner executes command lines through a shell.
type Runner interface {
	// Run executes cmdline with "sh -c". A non-zero exit status is reported
	// in the Result with a nil error; the error is reserved for failures to
	// start the command, timeouts and cancellation.
	Run(ctx context.Context, cmdline string) (*Result, error)
}

type shellRunner struct {
	shell      string
	workingDir string
	timeout    time.Duration
}

// Option configures the runner returned by NewRunner.
type Option func(*shellRunner)

// WithShell overrides the shell binary (default "/bin/sh").
func WithShell(shell string) Option {
	return func(r *shellRunner) { r.shell = shell }
}

// WithWorkingDir sets the directory commands run in.
func WithWorkingDir(dir string) Option {
	return func(r *shellRunner) { r.workingDir = dir }
}

// WithTimeout bounds every command. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *shellRunner) { r.timeout = d }
}

// NewRunner creates a Runner backed by os/exec.
func NewRunner(opts ...Option) Runner {
	r := &shellRunner{shell: "/bin/sh"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ErrTimeout is returned when a command exceeds the runner's timeout.
var ErrTimeout = errors.New("command timed out")

func (r *shellRunner) Run(ctx context.Context, cmdline string) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", cmdline)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if r.workingDir != "" {
		cmd.Dir = r.workingDir
	}

	err := cmd.Run()
	result := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: -1,
	}
	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, fmt.Errorf("%w after %v: %s", ErrTimeout, r.timeout, cmdline)
		}
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, err
}
