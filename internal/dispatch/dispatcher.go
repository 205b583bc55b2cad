package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/mattjoyce/hbrun/internal/invoke"
	"github.com/mattjoyce/hbrun/internal/locator"
	"github.com/mattjoyce/hbrun/internal/log"
	"github.com/mattjoyce/hbrun/internal/subcommand"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/hbrun/internal/dispatch Runner

// Runner executes a built invocation against an executable path.
type Runner interface {
	Run(ctx context.Context, path string, inv subcommand.Invocation) (invoke.Result, error)
}

// ErrNotReady is returned by a zero-value Dispatcher.
var ErrNotReady = errors.New("dispatcher not initialized")

// State is the Dispatcher lifecycle state. There is no closed state.
type State int

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

// Config is the injected configuration for a Dispatcher.
type Config struct {
	ExecutablePath string
	// Platform overrides runtime.GOOS for executable preparation.
	Platform string
	Invoke   invoke.Config
	// Timeouts bounds individual subcommands. Absent or zero means no limit.
	Timeouts map[subcommand.Name]time.Duration
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(d *Dispatcher) { d.runner = r }
}

// WithFs sets the filesystem used to resolve input kinds.
func WithFs(fs afero.Fs) Option {
	return func(d *Dispatcher) { d.fs = fs }
}

// Dispatcher maps subcommand requests to supervised process executions.
type Dispatcher struct {
	exe      locator.Executable
	runner   Runner
	fs       afero.Fs
	timeouts map[subcommand.Name]time.Duration
	state    State
	logger   *slog.Logger
}

// New prepares the executable and returns a Ready Dispatcher. Preparation
// failures are logged, not returned. An error is returned only when the
// invoke configuration itself is unusable.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		timeouts: make(map[subcommand.Name]time.Duration, len(cfg.Timeouts)),
		logger:   log.WithComponent("dispatch"),
	}
	for name, timeout := range cfg.Timeouts {
		d.timeouts[name] = timeout
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.runner == nil {
		r, err := invoke.New(cfg.Invoke)
		if err != nil {
			return nil, fmt.Errorf("create runner: %w", err)
		}
		d.runner = r
	}
	if d.fs == nil {
		d.fs = afero.NewOsFs()
	}

	exe, err := locator.Prepare(cfg.Platform, cfg.ExecutablePath)
	if err != nil {
		d.logger.Warn("executable preparation failed", "path", cfg.ExecutablePath, "error", err)
		exe = locator.Executable{Path: cfg.ExecutablePath, Platform: cfg.Platform}
	} else {
		d.logger.Debug("executable prepared", "path", exe.Path, "platform", exe.Platform)
	}
	d.exe = exe
	d.state = StateReady
	return d, nil
}

// State reports the lifecycle state.
func (d *Dispatcher) State() State {
	return d.state
}

// Executable returns the prepared executable.
func (d *Dispatcher) Executable() locator.Executable {
	return d.exe
}

// Run executes the named subcommand with p.
func (d *Dispatcher) Run(ctx context.Context, name string, p subcommand.Params) (invoke.Result, error) {
	if d.state != StateReady {
		return invoke.Result{}, ErrNotReady
	}

	spec, err := subcommand.Lookup(name)
	if err != nil {
		return invoke.Result{}, err
	}

	p = d.resolveInputKind(spec, p)
	inv, err := subcommand.Build(spec.Name, p)
	if err != nil {
		return invoke.Result{}, err
	}

	if timeout := d.timeouts[spec.Name]; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := log.WithSubcommand(string(spec.Name))
	logger.Info("invoking", "argv", inv.String())

	res, err := d.runner.Run(ctx, d.exe.Path, inv)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("invocation timed out", "timeout", d.timeouts[spec.Name])
		}
		return res, err
	}
	logger.Info("invocation finished", "exit_code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

// resolveInputKind turns an auto input kind into file or dir. Stat failures
// leave it as a file so the tool reports the missing path itself.
func (d *Dispatcher) resolveInputKind(spec subcommand.Spec, p subcommand.Params) subcommand.Params {
	if p.InputKind != subcommand.InputAuto || !spec.TakesInput() || p.Input == "" {
		return p
	}
	p.InputKind = subcommand.InputFile
	if info, err := d.fs.Stat(p.Input); err == nil && info.IsDir() {
		p.InputKind = subcommand.InputDir
	}
	return p
}

// CSVTimeline produces a CSV timeline of input into output.
func (d *Dispatcher) CSVTimeline(ctx context.Context, input, output string, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.CSVTimeline), subcommand.Params{Input: input, Output: output, Extra: extra})
}

// JSONTimeline produces a JSON timeline of input into output.
func (d *Dispatcher) JSONTimeline(ctx context.Context, input, output string, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.JSONTimeline), subcommand.Params{Input: input, Output: output, Extra: extra})
}

func (d *Dispatcher) LevelTuning(ctx context.Context, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.LevelTuning), subcommand.Params{Extra: extra})
}

func (d *Dispatcher) ListProfiles(ctx context.Context, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.ListProfiles), subcommand.Params{Extra: extra})
}

func (d *Dispatcher) SetDefaultProfile(ctx context.Context, profile string, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.SetDefaultProfile), subcommand.Params{Profile: profile, Extra: extra})
}

func (d *Dispatcher) UpdateRules(ctx context.Context, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.UpdateRules), subcommand.Params{Extra: extra})
}

func (d *Dispatcher) ComputerMetrics(ctx context.Context, input string, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.ComputerMetrics), subcommand.Params{Input: input, Extra: extra})
}

func (d *Dispatcher) EIDMetrics(ctx context.Context, input string, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.EIDMetrics), subcommand.Params{Input: input, Extra: extra})
}

func (d *Dispatcher) LogonSummary(ctx context.Context, input string, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.LogonSummary), subcommand.Params{Input: input, Extra: extra})
}

func (d *Dispatcher) PivotKeywordsList(ctx context.Context, input string, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.PivotKeywordsList), subcommand.Params{Input: input, Extra: extra})
}

// Search looks for pattern in input. regex selects a regular expression
// match instead of a keyword match.
func (d *Dispatcher) Search(ctx context.Context, input, pattern string, regex bool, extra ...string) (invoke.Result, error) {
	return d.Run(ctx, string(subcommand.Search), subcommand.Params{Input: input, Pattern: pattern, Regex: regex, Extra: extra})
}
