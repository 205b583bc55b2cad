package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/mattjoyce/hbrun/internal/config"
	"github.com/mattjoyce/hbrun/internal/dispatch"
	"github.com/mattjoyce/hbrun/internal/events"
	"github.com/mattjoyce/hbrun/internal/history"
	"github.com/mattjoyce/hbrun/internal/invoke"
	"github.com/mattjoyce/hbrun/internal/log"
	"github.com/mattjoyce/hbrun/internal/metrics"
	"github.com/mattjoyce/hbrun/internal/persist"
	"github.com/mattjoyce/hbrun/internal/session"
	"github.com/mattjoyce/hbrun/internal/storage"
	"github.com/mattjoyce/hbrun/internal/tui"
	"github.com/mattjoyce/hbrun/internal/workspace"
)

// eventBuffer is how many run events late API subscribers can replay.
const eventBuffer = 256

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
}

// app is the wired object graph behind one CLI invocation.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	fs         afero.Fs
	dispatcher *dispatch.Dispatcher
	persister  *persist.Persister
	workspace  workspace.Manager
	db         *sql.DB
	// runs is nil when history is disabled.
	runs     *history.Store
	registry *prometheus.Registry
	events   *events.Hub
	session  *session.Session
	theme    tui.Theme
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.History.Path = opts.dbPath
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	return cfg, nil
}

// openHistory opens the run ledger, or returns nil when history is disabled.
func openHistory(ctx context.Context, cfg *config.Config) (*sql.DB, *history.Store, error) {
	if !cfg.History.IsEnabled() {
		return nil, nil, nil
	}
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open history %s: %w", cfg.History.Path, err)
	}
	return db, history.New(db), nil
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   log.WithComponent("main"),
		fs:       afero.NewOsFs(),
		registry: prometheus.NewRegistry(),
		events:   events.NewHub(eventBuffer),
		theme:    tui.NewDefaultTheme(),
	}
	a.logger.Debug("configuration loaded", "source", cfg.SourcePath, "hash", cfg.Hash)

	a.dispatcher, err = dispatch.New(dispatch.Config{
		ExecutablePath: cfg.Executable.Path,
		Platform:       cfg.Executable.Platform,
		Invoke: invoke.Config{
			Encoding:         cfg.Invoke.Encoding,
			TerminationGrace: cfg.Invoke.TerminationGrace,
		},
		Timeouts: cfg.SubcommandTimeouts(),
	}, dispatch.WithFs(a.fs))
	if err != nil {
		return nil, err
	}

	a.persister = persist.New(a.fs, persist.Options{
		Suffix:        cfg.Output.Suffix,
		PerSubcommand: cfg.Output.PerSubcommand,
		Header:        cfg.Output.Header,
	})

	a.workspace, err = workspace.NewFSManager(a.fs, cfg.Output.BaseDir, cfg.Output.DirPrefix)
	if err != nil {
		return nil, fmt.Errorf("initialize workspace: %w", err)
	}

	a.db, a.runs, err = openHistory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sessOpts := []session.Option{
		session.WithMetrics(metrics.NewPrometheusRecorder(a.registry)),
		session.WithConfigHash(cfg.Hash),
		session.WithSearchKeyword(cfg.Batch.SearchKeyword),
		session.WithEvents(a.events),
	}
	if a.runs != nil {
		sessOpts = append(sessOpts, session.WithLedger(a.runs))
	}
	a.session = session.New(a.dispatcher, a.persister, a.workspace, sessOpts...)
	return a, nil
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
