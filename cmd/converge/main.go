package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/gxo-labs/converge/internal/engine"
)

const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitUsageError = 2
	ExitTimeout    = 124
	ExitSigIntBase = 128
	ExitSigInt     = ExitSigIntBase + int(syscall.SIGINT)
	ExitSigTerm    = ExitSigIntBase + int(syscall.SIGTERM)

	DefaultLogLevel     = "info"
	DefaultLogFmt       = "text"
	DefaultEventBusSize = 256
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// usageError marks a failure caused by how the command was invoked.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI with args and returns the process exit status.
func run(args []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var receivedSignal os.Signal
	var sigMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "Received signal: %v. Stopping...\n", sig)
			sigMu.Lock()
			receivedSignal = sig
			sigMu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	root := newRootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	cancel()
	wg.Wait()

	sigMu.Lock()
	sig := receivedSignal
	sigMu.Unlock()
	code := exitCode(err, sig)
	if err != nil && !errors.Is(err, engine.ErrTasksFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}

// exitCode maps the outcome of a command to a process exit status.
func exitCode(err error, sig os.Signal) int {
	if err == nil {
		return ExitSuccess
	}
	var ue *usageError
	switch {
	case errors.As(err, &ue):
		return ExitUsageError
	case errors.Is(err, context.Canceled) && sig != nil:
		if s, ok := sig.(syscall.Signal); ok {
			return ExitSigIntBase + int(s)
		}
		return ExitSigInt
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	}
	return ExitFailure
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s %s/%s)", version, commit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
