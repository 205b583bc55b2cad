// Package session runs requests through the dispatcher and takes care of
// everything around the call: the run directory, artifacts, the history
// ledger, metrics and interrupt handling.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hbrun/internal/events"
	"github.com/mattjoyce/hbrun/internal/history"
	"github.com/mattjoyce/hbrun/internal/invoke"
	"github.com/mattjoyce/hbrun/internal/log"
	"github.com/mattjoyce/hbrun/internal/metrics"
	"github.com/mattjoyce/hbrun/internal/persist"
	"github.com/mattjoyce/hbrun/internal/subcommand"
	"github.com/mattjoyce/hbrun/internal/workspace"
)

// Dispatcher runs one named subcommand.
type Dispatcher interface {
	Run(ctx context.Context, name string, p subcommand.Params) (invoke.Result, error)
}

// Ledger records finished invocations.
type Ledger interface {
	Record(ctx context.Context, e history.Entry) (string, error)
}

// Request is one caller request.
type Request struct {
	Subcommand string            `json:"subcommand"`
	Params     subcommand.Params `json:"params"`
	// Persist writes stdout to an artifact.
	Persist bool `json:"persist"`
	// OutputDir overrides the session run directory for the artifact.
	OutputDir string `json:"output_dir,omitempty"`
}

// Report is the outcome of one Execute call.
type Report struct {
	RunID      string            `json:"run_id"`
	Subcommand string            `json:"subcommand"`
	Outcome    history.Outcome   `json:"outcome"`
	Result     invoke.Result     `json:"result"`
	Artifact   *persist.Artifact `json:"artifact,omitempty"`
}

// Option customizes a Session.
type Option func(*Session)

// WithLedger records every Execute call.
func WithLedger(l Ledger) Option {
	return func(s *Session) { s.ledger = l }
}

// WithMetrics reports invocations to rec.
func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Session) { s.metrics = rec }
}

// WithConfigHash stamps history rows with the active config fingerprint.
func WithConfigHash(hash string) Option {
	return func(s *Session) { s.configHash = hash }
}

// WithEvents publishes run lifecycle events to pub.
func WithEvents(pub events.Publisher) Option {
	return func(s *Session) { s.events = pub }
}

// WithSearchKeyword sets the keyword the batch sweep searches for.
func WithSearchKeyword(keyword string) Option {
	return func(s *Session) { s.searchKeyword = keyword }
}

// Session groups invocations that share one run directory.
type Session struct {
	id            string
	dispatcher    Dispatcher
	persister     *persist.Persister
	workspace     workspace.Manager
	ledger        Ledger
	metrics       metrics.Recorder
	events        events.Publisher
	configHash    string
	searchKeyword string
	logger        *slog.Logger

	mu  sync.Mutex
	run *workspace.Run
}

// New creates a Session. The run directory is created on first use.
func New(d Dispatcher, p *persist.Persister, ws workspace.Manager, opts ...Option) *Session {
	s := &Session{
		id:            uuid.NewString(),
		dispatcher:    d,
		persister:     p,
		workspace:     ws,
		metrics:       metrics.Noop(),
		searchKeyword: DefaultSearchKeyword,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithComponent("session").With("session_id", s.id)
	return s
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM. Cancelling
// it terminates any in-flight child.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (s *Session) ID() string { return s.id }

// RunDir returns the session's run directory, creating it on first call.
func (s *Session) RunDir(ctx context.Context) (workspace.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return *s.run, nil
	}
	run, err := s.workspace.Create(ctx)
	if err != nil {
		return workspace.Run{}, fmt.Errorf("%w: %v", persist.ErrPersistence, err)
	}
	s.run = &run
	s.logger.Info("run directory created", "dir", run.Dir)
	return run, nil
}

// Execute dispatches req, persists stdout when asked, and records the call.
// The returned error is the dispatcher's error, or a persistence error when
// the process ran but its artifact could not be written. A non-zero exit is
// reported in the Report only.
func (s *Session) Execute(ctx context.Context, req Request) (Report, error) {
	return s.execute(ctx, req, s.persister)
}

func (s *Session) execute(ctx context.Context, req Request, p *persist.Persister) (Report, error) {
	name := req.Subcommand
	if spec, err := subcommand.Lookup(name); err == nil {
		name = string(spec.Name)
	}

	report := Report{RunID: uuid.NewString(), Subcommand: name}
	logger := s.logger.With("run_id", report.RunID, "subcommand", name)

	s.publish(events.RunStarted, events.RunStartedData{
		RunID:      report.RunID,
		SessionID:  s.id,
		Subcommand: name,
		Input:      req.Params.Input,
	})

	start := time.Now()
	s.metrics.InvocationStart(name)
	res, err := s.dispatcher.Run(ctx, req.Subcommand, req.Params)
	report.Result = res
	report.Outcome = history.OutcomeOf(res, err)
	s.metrics.InvocationEnd(name, report.Outcome, time.Since(start))

	if res.Lossy {
		logger.Debug("output contained undecodable bytes")
	}

	runErr := err
	if req.Persist && report.Outcome != history.OutcomeRejected && report.Outcome != history.OutcomeInterrupted {
		art, perr := s.persist(ctx, req, name, res, p)
		s.metrics.ArtifactWritten(perr)
		if perr != nil {
			logger.Error("failed to persist output", "error", perr)
			if runErr == nil {
				runErr = perr
			}
		} else {
			report.Artifact = &art
			logger.Info("output persisted", "path", art.Path)
		}
	}

	s.record(ctx, report, req, runErr, logger)
	s.publishFinished(report, runErr)
	return report, runErr
}

func (s *Session) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

func (s *Session) publishFinished(report Report, runErr error) {
	data := events.RunFinishedData{
		RunID:      report.RunID,
		SessionID:  s.id,
		Subcommand: report.Subcommand,
		Outcome:    string(report.Outcome),
		ExitCode:   report.Result.ExitCode,
		DurationMS: report.Result.Duration.Milliseconds(),
	}
	if report.Artifact != nil {
		data.ArtifactPath = report.Artifact.Path
	}
	if runErr != nil {
		data.Error = runErr.Error()
	}
	s.publish(events.RunFinished, data)
}

func (s *Session) persist(ctx context.Context, req Request, name string, res invoke.Result, p *persist.Persister) (persist.Artifact, error) {
	dir := req.OutputDir
	if dir == "" {
		run, err := s.RunDir(ctx)
		if err != nil {
			return persist.Artifact{}, err
		}
		dir = run.Dir
	}
	return p.WriteFor(dir, subcommand.Name(name), req.Params.Input, res.Stdout)
}

func (s *Session) record(ctx context.Context, report Report, req Request, runErr error, logger *slog.Logger) {
	if s.ledger == nil {
		return
	}

	entry := history.Entry{
		ID:          report.RunID,
		SessionID:   s.id,
		Subcommand:  report.Subcommand,
		Argv:        report.Result.Argv,
		Input:       req.Params.Input,
		Outcome:     report.Outcome,
		ExitCode:    report.Result.ExitCode,
		Lossy:       report.Result.Lossy,
		StartedAt:   report.Result.StartedAt,
		Duration:    report.Result.Duration,
		StdoutBytes: len(report.Result.Stdout),
		Stderr:      report.Result.Stderr,
		ConfigHash:  s.configHash,
	}
	if report.Artifact != nil {
		entry.ArtifactPath = report.Artifact.Path
		entry.ArtifactDigest = report.Artifact.Digest
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}

	// The ledger must outlive an interrupt so the interrupted row lands.
	rctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if _, err := s.ledger.Record(rctx, entry); err != nil {
		logger.Error("failed to record run", "error", err)
	}
}
