// Package inspect renders a detailed report for one recorded run.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/mattjoyce/hbrun/internal/history"
	"github.com/mattjoyce/hbrun/internal/persist"
)

// sessionLimit caps how many sibling runs are listed.
const sessionLimit = 500

// Store is the read side of the run ledger.
type Store interface {
	Get(ctx context.Context, id string) (*history.Entry, error)
	List(ctx context.Context, f history.Filter) ([]history.Entry, error)
}

// Report is the structured JSON representation of a run report.
type Report struct {
	Run      history.Entry  `json:"run"`
	Artifact *ArtifactCheck `json:"artifact,omitempty"`
	RunDir   string         `json:"run_dir,omitempty"`
	Files    []string       `json:"files,omitempty"`
	Session  []Sibling      `json:"session"`
}

// ArtifactCheck is the result of re-hashing the persisted artifact.
type ArtifactCheck struct {
	Path     string `json:"path"`
	Digest   string `json:"digest"`
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// Sibling is one run of the same session, oldest first.
type Sibling struct {
	ID         string          `json:"id"`
	Subcommand string          `json:"subcommand"`
	Outcome    history.Outcome `json:"outcome"`
	Current    bool            `json:"current"`
}

// BuildReport renders a terminal-friendly report for a run.
func BuildReport(ctx context.Context, store Store, fs afero.Fs, runID string) (string, error) {
	report, err := gatherReportData(ctx, store, fs, runID)
	if err != nil {
		return "", err
	}
	run := report.Run

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", run.ID)
	fmt.Fprintf(&out, "Session     : %s\n", orNone(run.SessionID))
	fmt.Fprintf(&out, "Subcommand  : %s\n", run.Subcommand)
	fmt.Fprintf(&out, "Argv        : %s\n", strings.Join(run.Argv, " "))
	fmt.Fprintf(&out, "Outcome     : %s (exit %d)\n", run.Outcome, run.ExitCode)
	fmt.Fprintf(&out, "Started     : %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&out, "Duration    : %s\n", run.Duration)
	fmt.Fprintf(&out, "Stdout      : %d bytes\n", run.StdoutBytes)
	if run.Lossy {
		fmt.Fprintf(&out, "Decoding    : lossy\n")
	}
	if run.ConfigHash != "" {
		fmt.Fprintf(&out, "Config      : %s\n", run.ConfigHash)
	}
	if run.Error != "" {
		fmt.Fprintf(&out, "Error       : %s\n", run.Error)
	}
	fmt.Fprintf(&out, "\n")

	if a := report.Artifact; a != nil {
		status := "verified"
		if !a.Verified {
			status = "FAILED: " + a.Error
		}
		fmt.Fprintf(&out, "Artifact\n")
		fmt.Fprintf(&out, "    path       : %s\n", a.Path)
		fmt.Fprintf(&out, "    digest     : %s\n", a.Digest)
		fmt.Fprintf(&out, "    integrity  : %s\n", status)
		fmt.Fprintf(&out, "    run dir    : %s\n", report.RunDir)
		if len(report.Files) == 0 {
			fmt.Fprintf(&out, "    files      : <none>\n")
		} else {
			fmt.Fprintf(&out, "    files      :\n")
			for _, f := range report.Files {
				fmt.Fprintf(&out, "      - %s\n", f)
			}
		}
	} else {
		fmt.Fprintf(&out, "Artifact    : <none>\n")
	}
	fmt.Fprintf(&out, "\n")

	if run.Stderr != "" {
		fmt.Fprintf(&out, "Stderr\n")
		for _, line := range strings.Split(strings.TrimRight(run.Stderr, "\n"), "\n") {
			fmt.Fprintf(&out, "    %s\n", line)
		}
		fmt.Fprintf(&out, "\n")
	}

	if len(report.Session) > 1 {
		fmt.Fprintf(&out, "Session Runs\n")
		for i, s := range report.Session {
			marker := " "
			if s.Current {
				marker = "*"
			}
			fmt.Fprintf(&out, "%s [%d] %s %s (%s)\n", marker, i+1, s.ID, s.Subcommand, s.Outcome)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, store Store, fs afero.Fs, runID string) (string, error) {
	report, err := gatherReportData(ctx, store, fs, runID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store Store, fs afero.Fs, runID string) (*Report, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	entry, err := store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	report := &Report{Run: *entry}

	if entry.ArtifactPath != "" {
		check := &ArtifactCheck{Path: entry.ArtifactPath, Digest: entry.ArtifactDigest, Verified: true}
		if err := persist.New(fs, persist.Options{}).Verify(entry.ArtifactPath, entry.ArtifactDigest); err != nil {
			check.Verified = false
			check.Error = err.Error()
		}
		report.Artifact = check
		report.RunDir = filepath.Dir(entry.ArtifactPath)
		report.Files = listFiles(fs, report.RunDir)
	}

	report.Session = []Sibling{{ID: entry.ID, Subcommand: entry.Subcommand, Outcome: entry.Outcome, Current: true}}
	if entry.SessionID != "" {
		siblings, err := store.List(ctx, history.Filter{SessionID: entry.SessionID, Limit: sessionLimit})
		if err != nil {
			return nil, fmt.Errorf("list session runs: %w", err)
		}
		// List is newest first.
		slices.Reverse(siblings)
		report.Session = lo.Map(siblings, func(e history.Entry, _ int) Sibling {
			return Sibling{ID: e.ID, Subcommand: e.Subcommand, Outcome: e.Outcome, Current: e.ID == entry.ID}
		})
	}

	return report, nil
}

func listFiles(fs afero.Fs, dir string) []string {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		files = append(files, info.Name())
	}
	sort.Strings(files)
	return files
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
