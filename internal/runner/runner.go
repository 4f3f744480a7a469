// Package runner is the execution boundary. Released commands run as
// child processes in their own process group so cancellation terminates
// the whole group and never orphans descendants.
package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result is the structured outcome of one command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Options control one execution.
type Options struct {
	// Timeout overrides the runner default. Ignored when Streaming is set.
	Timeout time.Duration
	// Streaming disables timeout truncation; the command runs until its
	// own completion or an explicit cancel.
	Streaming bool
	// Stream receives output incrementally when Streaming is set.
	Stream io.Writer
}

// Runner executes shell commands with timeout and group-kill semantics.
type Runner struct {
	log            *zap.Logger
	shell          string
	defaultTimeout time.Duration
}

func New(log *zap.Logger, shell string, defaultTimeout time.Duration) *Runner {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Runner{log: log, shell: shell, defaultTimeout: defaultTimeout}
}

// Run executes the command and returns its structured result. A timeout or
// cancellation kills the whole process group; the partial output captured
// up to that point is returned with TimedOut set. A non-zero exit is not
// an error here; it is data for the caller to log and surface.
func (r *Runner) Run(ctx context.Context, command string, opts Options) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	if !opts.Streaming {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.Command(r.shell, "-c", command)
	setProcGroup(cmd)

	var stdout, stderr bytes.Buffer
	if opts.Streaming && opts.Stream != nil {
		cmd.Stdout = io.MultiWriter(&stdout, opts.Stream)
		cmd.Stderr = io.MultiWriter(&stderr, opts.Stream)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, err
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		killGroup(cmd)
		waitErr = <-waitDone
	}

	res := Result{
		Stdout:   toValidUTF8(stdout.String()),
		Stderr:   toValidUTF8(stderr.String()),
		Duration: time.Since(start),
		TimedOut: timedOut,
	}

	switch {
	case waitErr == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
	}
	if timedOut {
		res.ExitCode = -1
	}

	r.log.Debug("command finished",
		zap.String("command", command),
		zap.Int("exit", res.ExitCode),
		zap.Duration("duration", res.Duration),
		zap.Bool("timed_out", res.TimedOut))

	if !timedOut && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}
