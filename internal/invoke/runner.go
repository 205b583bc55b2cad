package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mattjoyce/hbrun/internal/locator"
	"github.com/mattjoyce/hbrun/internal/log"
	"github.com/mattjoyce/hbrun/internal/subcommand"
)

// DefaultTerminationGrace is the time we wait after SIGTERM before sending SIGKILL.
const DefaultTerminationGrace = 5 * time.Second

// Result is the captured outcome of one invocation. ExitCode is advisory;
// callers decide what counts as failure.
type Result struct {
	Argv        []string      `json:"argv"`
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	ExitCode    int           `json:"exit_code"`
	NotFound    bool          `json:"not_found"`
	Interrupted bool          `json:"interrupted"`
	Lossy       bool          `json:"lossy"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Failed reports whether the child did not run to a clean exit.
func (r Result) Failed() bool {
	return r.NotFound || r.Interrupted || r.ExitCode != 0
}

// Config controls process execution.
type Config struct {
	// Encoding is a WHATWG label; empty means utf-8.
	Encoding string
	// TerminationGrace is the wait between SIGTERM and SIGKILL; zero means 5s.
	TerminationGrace time.Duration
	// Dir is the child's working directory; empty inherits ours.
	Dir string
}

// Runner spawns invocations. It holds no per-call state and is safe for
// concurrent use.
type Runner struct {
	decoder *Decoder
	grace   time.Duration
	dir     string
	logger  *slog.Logger
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	dec, err := NewDecoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	grace := cfg.TerminationGrace
	if grace <= 0 {
		grace = DefaultTerminationGrace
	}
	return &Runner{
		decoder: dec,
		grace:   grace,
		dir:     cfg.Dir,
		logger:  log.WithComponent("invoke"),
	}, nil
}

// Run executes path with inv.Argv() and blocks until the child exits and both
// streams are drained. A populated Result is returned in every case.
func (r *Runner) Run(ctx context.Context, path string, inv subcommand.Invocation) (Result, error) {
	argv := inv.Argv()
	res := Result{Argv: argv, ExitCode: -1}
	logger := r.logger.With("subcommand", string(inv.Subcommand()))

	if err := ctx.Err(); err != nil {
		res.Interrupted = true
		return res, fmt.Errorf("%s not started: %w", inv.Subcommand(), err)
	}

	cmd := exec.Command(path, argv...)
	cmd.Dir = r.dir
	// A grandchild that inherits stdout must not keep Wait blocked forever
	// once the child itself has exited.
	cmd.WaitDelay = r.grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning", "path", path, "argv", argv)

	res.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		res.Duration = time.Since(res.StartedAt)
		res.Stderr = err.Error()
		if isNotFound(err) {
			res.NotFound = true
			return res, fmt.Errorf("%w: %v", locator.ErrExecutableNotFound, err)
		}
		return res, fmt.Errorf("%w: %v", locator.ErrExecutableNotRunnable, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Warn("invocation cancelled, terminating child", "cause", ctx.Err())
		if err := terminate(cmd.Process); err != nil {
			logger.Error("failed to signal child", "error", err)
		}

		grace := time.NewTimer(r.grace)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("child exited after termination signal")
		case <-grace.C:
			logger.Warn("child did not exit after termination signal, killing")
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to kill child", "error", err)
			}
			<-waitErr
		}
		res.Interrupted = true
		runErr = fmt.Errorf("%s interrupted: %w", inv.Subcommand(), ctx.Err())

	case err := <-waitErr:
		var exitErr *exec.ExitError
		if errors.Is(err, exec.ErrWaitDelay) {
			logger.Warn("output pipes still held after child exit, closed", "wait_delay", r.grace)
			err = nil
		}
		if err != nil && !errors.As(err, &exitErr) {
			runErr = fmt.Errorf("wait for %s: %w", inv.Subcommand(), err)
		}
	}

	res.Duration = time.Since(res.StartedAt)
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var lossyOut, lossyErr bool
	res.Stdout, lossyOut = r.decoder.Decode(stdout.Bytes())
	res.Stderr, lossyErr = r.decoder.Decode(stderr.Bytes())
	res.Lossy = lossyOut || lossyErr
	if res.Lossy {
		logger.Debug("undecodable output bytes substituted", "encoding", r.decoder.Name())
	}

	if res.ExitCode != 0 && !res.Interrupted {
		logger.Warn("child exited with non-zero status", "exit_code", res.ExitCode)
	}
	logger.Debug("invocation finished",
		"exit_code", res.ExitCode,
		"duration_ms", res.Duration.Milliseconds(),
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)

	return res, runErr
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
