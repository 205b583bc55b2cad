package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hbrun/internal/api"
	"github.com/mattjoyce/hbrun/internal/auth"
	"github.com/mattjoyce/hbrun/internal/config"
	"github.com/mattjoyce/hbrun/internal/doctor"
	"github.com/mattjoyce/hbrun/internal/history"
	"github.com/mattjoyce/hbrun/internal/inspect"
	"github.com/mattjoyce/hbrun/internal/lock"
	"github.com/mattjoyce/hbrun/internal/log"
	"github.com/mattjoyce/hbrun/internal/metrics"
	"github.com/mattjoyce/hbrun/internal/persist"
	"github.com/mattjoyce/hbrun/internal/session"
	"github.com/mattjoyce/hbrun/internal/subcommand"
	"github.com/mattjoyce/hbrun/internal/tui"
	"github.com/mattjoyce/hbrun/internal/tui/menu"
	"github.com/mattjoyce/hbrun/internal/workspace"
)

func runCommand(opts *rootOptions) *cobra.Command {
	var (
		params     subcommand.Params
		inputKind  string
		persistOut bool
		outputDir  string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "run <subcommand> [flags] [-- extra...]",
		Short: "Run one Hayabusa subcommand",
		Example: `  hbrun run csv-timeline --input logs/ --output timeline.csv --persist
  hbrun run search --input dc01.evtx --pattern mimikatz -- --no-color`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.InputKind = subcommand.InputKind(inputKind)
			params.Extra = args[1:]

			ctx, stop := session.NotifyContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.executeAndReport(ctx, cmd, session.Request{
				Subcommand: args[0],
				Params:     params,
				Persist:    persistOut,
				OutputDir:  outputDir,
			}, jsonOut)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&params.Input, "input", "i", "", "evidence file or directory")
	f.StringVar(&inputKind, "input-kind", "", "force input kind: file or dir (default: detect)")
	f.StringVarP(&params.Output, "output", "o", "", "timeline output path")
	f.StringVarP(&params.Profile, "profile", "p", "", "output profile name")
	f.StringVarP(&params.Pattern, "pattern", "k", "", "search keyword or regex")
	f.BoolVar(&params.Regex, "regex", false, "treat --pattern as a regular expression")
	f.BoolVar(&persistOut, "persist", false, "write stdout to an artifact in the run directory")
	f.StringVar(&outputDir, "output-dir", "", "write the artifact here instead of a new run directory")
	f.BoolVar(&jsonOut, "json", false, "print the run report as JSON")
	return cmd
}

func batchCommand(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "batch <evidence.evtx>",
		Short: "Run every analysis subcommand against one evidence file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := session.NotifyContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			br, err := a.session.Batch(ctx, args[0])
			if jsonOut {
				if encErr := writeJSON(cmd.OutOrStdout(), br); encErr != nil {
					return encErr
				}
			} else if len(br.Reports) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderReports(br.Reports))
			}
			if err != nil {
				return err
			}
			if !jsonOut {
				fmt.Fprintln(cmd.ErrOrStderr(), a.theme.CompletionBanner(br.Run.Dir))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the batch report as JSON")
	return cmd
}

func menuCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Pick an operation interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := session.NotifyContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := menu.Run(ctx, a.fs,
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			if errors.Is(err, menu.ErrCancelled) {
				return nil
			}
			if err != nil {
				return err
			}
			return a.executeAndReport(ctx, cmd, req, false)
		},
	}
}

func serveCommand(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := session.NotifyContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			lockPath := lockPathFor(a.cfg)
			pidLock, err := lock.AcquirePIDLock(lockPath)
			if err != nil {
				a.logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
				return err
			}
			defer pidLock.Release()
			a.logger.Info("acquired PID lock", "path", lockPath)

			tokens := apiTokens(a.cfg.API.Tokens)
			if !auth.NewAuthenticator(a.cfg.API.APIKey, tokens).Configured() {
				a.logger.Warn("no api.api_key or api.tokens configured; protected endpoints will reject every request")
			}
			if listen == "" {
				listen = a.cfg.API.Listen
			}

			var runs api.RunStore
			if a.runs != nil {
				runs = a.runs
			}
			srv := api.New(api.Config{
				Listen:        listen,
				APIKey:        a.cfg.API.APIKey,
				Tokens:        tokens,
				MaxConcurrent: a.cfg.API.MaxConcurrent,
			}, a.session, runs, metrics.Handler(a.registry), log.WithComponent("api"), api.WithEvents(a.events))

			err = srv.Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides api.listen)")
	return cmd
}

const redacted = "********"

// apiTokens converts configured tokens. Scopes were checked when the config
// loaded, so unknown ones are simply dropped.
func apiTokens(tokens []config.APITokenConfig) []auth.Token {
	return lo.Map(tokens, func(t config.APITokenConfig, _ int) auth.Token {
		return auth.Token{
			Secret: t.Token,
			Scopes: lo.FilterMap(t.Scopes, func(s string, _ int) (auth.Scope, bool) {
				sc, err := auth.ParseScope(s)
				return sc, err == nil
			}),
		}
	})
}

func historyCommand(opts *rootOptions) *cobra.Command {
	var (
		filter  history.Filter
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openLedger(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOut {
				if entries == nil {
					entries = []history.Entry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries))
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&filter.Limit, "limit", "n", 0, "maximum rows (default 50)")
	f.StringVar(&filter.Subcommand, "subcommand", "", "only runs of this subcommand")
	f.StringVar(&filter.SessionID, "session", "", "only runs of this session")
	f.BoolVar(&jsonOut, "json", false, "print entries as JSON")
	return cmd
}

func verifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <run-id>",
		Short: "Check a run's artifact against its recorded digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openLedger(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			entry, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entry.ArtifactPath == "" {
				return fmt.Errorf("run %s has no artifact", entry.ID)
			}
			if err := persist.New(afero.NewOsFs(), persist.Options{}).Verify(entry.ArtifactPath, entry.ArtifactDigest); err != nil {
				log.WithRun(entry.ID).Warn("artifact verification failed", "path", entry.ArtifactPath, "error", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK %s %s\n", entry.ArtifactPath, entry.ArtifactDigest)
			return nil
		},
	}
}

func inspectCommand(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "inspect <run-id>",
		Short: "Show one recorded run, its artifact and its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openLedger(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeFn()

			build := inspect.BuildReport
			if jsonOut {
				build = inspect.BuildJSONReport
			}
			out, err := build(cmd.Context(), store, afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), strings.TrimRight(out, "\n")+"\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the report as JSON")
	return cmd
}

func pruneCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old run directories and history rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.Output.Retention
			}
			if olderThan <= 0 {
				return errors.New("--older-than is required when output.retention is not set")
			}

			ws, err := workspace.NewFSManager(afero.NewOsFs(), cfg.Output.BaseDir, cfg.Output.DirPrefix)
			if err != nil {
				return err
			}
			report, err := ws.Cleanup(ctx, olderThan)
			if err != nil {
				return err
			}

			var rows int64
			db, store, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer db.Close()
				if rows, err = store.Prune(ctx, olderThan); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run directories and %d history rows older than %s\n",
				report.DeletedDirs, rows, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold, e.g. 720h (default: output.retention)")
	return cmd
}

func subcommandsCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "subcommands",
		Short: "List the supported Hayabusa subcommands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := subcommand.All()
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), specs)
			}
			t := newTable("#", "Name", "Description", "Input", "Output", "Profile", "Pattern")
			for i, s := range specs {
				t.Row(strconv.Itoa(i+1), string(s.Name), s.Description,
					s.Input.String(), s.Output.String(), s.Profile.String(), s.Pattern.String())
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the vocabulary as JSON")
	return cmd
}

func configCommand(opts *rootOptions) *cobra.Command {
	var expectHash string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if expectHash != "" {
				if cfg.SourcePath == "" {
					return errors.New("--expect-hash needs a config file; none was found")
				}
				if err := config.CheckFingerprint(cfg.SourcePath, expectHash); err != nil {
					return err
				}
			}

			source := cfg.SourcePath
			if source == "" {
				source = "(defaults)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# source: %s\n", source)
			if cfg.Hash != "" {
				fmt.Fprintf(out, "# blake3: %s\n", cfg.Hash)
			}

			shown := *cfg
			if shown.API.APIKey != "" {
				shown.API.APIKey = redacted
			}
			shown.API.Tokens = lo.Map(cfg.API.Tokens, func(t config.APITokenConfig, _ int) config.APITokenConfig {
				return config.APITokenConfig{Token: redacted, Scopes: t.Scopes}
			})
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(shown); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&expectHash, "expect-hash", "", "fail unless the config file has this BLAKE3 digest")
	return cmd
}

func doctorCommand(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration against this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			result := doctor.New(cfg, afero.NewOsFs()).Validate()
			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), doctor.FormatHuman(result))
			}
			if !result.Valid {
				return &exitError{code: 1, msg: "configuration invalid"}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the report as JSON")
	return cmd
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func versionCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hbrun %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output version metadata as JSON")
	return cmd
}

// executeAndReport runs req and prints the outcome. Captured stdout goes to
// the command's stdout unless it was persisted; banners go to stderr.
func (a *app) executeAndReport(ctx context.Context, cmd *cobra.Command, req session.Request, jsonOut bool) error {
	report, err := a.session.Execute(ctx, req)
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	if jsonOut {
		resp := api.RunResponse{Report: report}
		if err != nil {
			resp.Error = err.Error()
		}
		if encErr := writeJSON(out, resp); encErr != nil {
			return encErr
		}
	} else {
		if report.Artifact == nil && report.Result.Stdout != "" {
			fmt.Fprint(out, report.Result.Stdout)
		}
		if report.Result.Stderr != "" {
			fmt.Fprint(errOut, report.Result.Stderr)
		}
	}

	if err != nil {
		return err
	}
	if code := report.Result.ExitCode; code != 0 {
		msg := fmt.Sprintf("%s exited with code %d", report.Subcommand, code)
		if !jsonOut {
			fmt.Fprintln(errOut, a.theme.FailureBanner(report.Subcommand, fmt.Sprintf("exit code %d", code)))
		}
		return &exitError{code: code, msg: msg}
	}
	if !jsonOut {
		dir := ""
		if report.Artifact != nil {
			dir = report.Artifact.Dir
		}
		fmt.Fprintln(errOut, a.theme.CompletionBanner(dir))
	}
	return nil
}

// openLedger opens the history store for read-only commands.
func openLedger(ctx context.Context, opts *rootOptions) (*history.Store, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.History.IsEnabled() {
		return nil, nil, errors.New("run history is disabled (history.enabled: false)")
	}
	db, store, err := openHistory(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}

// lockPathFor places the server lock next to the history database, or in
// the output base dir when history is off.
func lockPathFor(cfg *config.Config) string {
	if cfg.History.IsEnabled() {
		return filepath.Join(filepath.Dir(cfg.History.Path), "hbrun.lock")
	}
	return filepath.Join(cfg.Output.BaseDir, "hbrun.lock")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	theme := tui.NewDefaultTheme()
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(theme.Dim).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func renderReports(reports []session.Report) string {
	t := newTable("Subcommand", "Outcome", "Exit", "Artifact")
	for _, r := range reports {
		artifact := "-"
		if r.Artifact != nil {
			artifact = r.Artifact.Name
		}
		t.Row(r.Subcommand, string(r.Outcome), strconv.Itoa(r.Result.ExitCode), artifact)
	}
	return t.Render()
}

func renderHistory(entries []history.Entry) string {
	t := newTable("ID", "Started", "Subcommand", "Outcome", "Exit", "Duration", "Artifact")
	for _, e := range entries {
		artifact := "-"
		if e.ArtifactPath != "" {
			artifact = e.ArtifactPath
		}
		t.Row(e.ID, e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.Subcommand, string(e.Outcome),
			strconv.Itoa(e.ExitCode), e.Duration.Round(time.Millisecond).String(), artifact)
	}
	return t.Render()
}
