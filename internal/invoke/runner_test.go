package invoke

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/hbrun/internal/locator"
	"github.com/mattjoyce/hbrun/internal/log"
	"github.com/mattjoyce/hbrun/internal/subcommand"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fakes need a unix shell")
	}
	path := filepath.Join(t.TempDir(), "hayabusa")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func newRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func mustBuild(t *testing.T, name subcommand.Name, p subcommand.Params) subcommand.Invocation {
	t.Helper()
	inv, err := subcommand.Build(name, p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return inv
}

func TestRunEchoesArgv(t *testing.T) {
	bin := writeScript(t, `printf '%s' "$*"`+"\n")
	r := newRunner(t, Config{})

	inv := mustBuild(t, subcommand.CSVTimeline, subcommand.Params{
		Input:  "evidence.evtx",
		Output: "out.csv",
		Extra:  []string{"--no-wizard", "a;rm -rf /"},
	})

	res, err := r.Run(context.Background(), bin, inv)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := strings.Join(inv.Argv(), " ")
	if res.Stdout != want {
		t.Fatalf("stdout = %q, want %q", res.Stdout, want)
	}
	if res.ExitCode != 0 || res.Failed() {
		t.Fatalf("unexpected failure: %+v", res)
	}
	if len(res.Argv) != len(inv.Argv()) {
		t.Fatalf("argv = %v, want %v", res.Argv, inv.Argv())
	}
}

func TestRunSeparatesStreamsAndKeepsExitCode(t *testing.T) {
	bin := writeScript(t, "echo to-stdout\necho to-stderr >&2\nexit 3\n")
	r := newRunner(t, Config{})

	res, err := r.Run(context.Background(), bin, mustBuild(t, subcommand.ListProfiles, subcommand.Params{}))
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for non-zero exit", err)
	}
	if res.Stdout != "to-stdout\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.Stderr != "to-stderr\n" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !res.Failed() {
		t.Errorf("Failed() = false for exit code 3")
	}
}

func TestRunSubstitutesUndecodableBytes(t *testing.T) {
	bin := writeScript(t, `printf 'ab\377cd'`+"\n")
	r := newRunner(t, Config{Encoding: "utf-8"})

	res, err := r.Run(context.Background(), bin, mustBuild(t, subcommand.ListProfiles, subcommand.Params{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "ab�cd" {
		t.Fatalf("stdout = %q, want replacement at offset 2", res.Stdout)
	}
	if idx := strings.IndexRune(res.Stdout, '�'); idx != 2 {
		t.Fatalf("replacement offset = %d, want 2", idx)
	}
	if !res.Lossy {
		t.Fatalf("Lossy = false, want true")
	}
}

func TestRunExecutableNotFound(t *testing.T) {
	r := newRunner(t, Config{})
	missing := filepath.Join(t.TempDir(), "missing-hayabusa")

	res, err := r.Run(context.Background(), missing, mustBuild(t, subcommand.UpdateRules, subcommand.Params{}))
	if !errors.Is(err, locator.ErrExecutableNotFound) {
		t.Fatalf("Run() error = %v, want ErrExecutableNotFound", err)
	}
	if !res.NotFound {
		t.Fatalf("NotFound = false")
	}
	if res.Stdout != "" {
		t.Fatalf("stdout = %q, want empty", res.Stdout)
	}
	if res.Stderr == "" {
		t.Fatalf("stderr should carry the launch error")
	}
}

func TestRunExecutableNotRunnable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	path := filepath.Join(t.TempDir(), "hayabusa")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := newRunner(t, Config{})

	res, err := r.Run(context.Background(), path, mustBuild(t, subcommand.UpdateRules, subcommand.Params{}))
	if !errors.Is(err, locator.ErrExecutableNotRunnable) {
		t.Fatalf("Run() error = %v, want ErrExecutableNotRunnable", err)
	}
	if res.NotFound {
		t.Fatalf("NotFound = true for an existing file")
	}
}

func TestRunCancelTerminatesChild(t *testing.T) {
	bin := writeScript(t, "exec sleep 30\n")
	r := newRunner(t, Config{TerminationGrace: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	res, err := r.Run(ctx, bin, mustBuild(t, subcommand.UpdateRules, subcommand.Params{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if !res.Interrupted {
		t.Fatalf("Interrupted = false")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Run() took %v, child was not terminated", elapsed)
	}
}

func TestRunKillsAfterGrace(t *testing.T) {
	bin := writeScript(t, "trap '' TERM\nexec sleep 30\n")
	r := newRunner(t, Config{TerminationGrace: 200 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := r.Run(ctx, bin, mustBuild(t, subcommand.UpdateRules, subcommand.Params{}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if !res.Interrupted || !res.Failed() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Run() took %v, child was not killed", elapsed)
	}
}

func TestRunReturnsWhenGrandchildHoldsOutput(t *testing.T) {
	bin := writeScript(t, "sleep 5 &\necho done\n")
	r := newRunner(t, Config{TerminationGrace: 200 * time.Millisecond})

	start := time.Now()
	res, err := r.Run(context.Background(), bin, mustBuild(t, subcommand.UpdateRules, subcommand.Params{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Run() took %v, blocked on inherited pipes", elapsed)
	}
	if res.ExitCode != 0 || res.Interrupted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Stdout, "done") {
		t.Fatalf("stdout = %q, want it to contain %q", res.Stdout, "done")
	}
}

func TestRunCancelledBeforeStartDoesNotSpawn(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	bin := writeScript(t, "touch "+marker+"\n")
	r := newRunner(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx, bin, mustBuild(t, subcommand.UpdateRules, subcommand.Params{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if !res.Interrupted {
		t.Fatalf("Interrupted = false")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("child was spawned for a cancelled context")
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, "pwd\n")
	r := newRunner(t, Config{Dir: dir})

	res, err := r.Run(context.Background(), bin, mustBuild(t, subcommand.ListProfiles, subcommand.Params{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Fatalf("pwd = %q, want %q", got, want)
	}
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	if _, err := New(Config{Encoding: "klingon-8"}); err == nil {
		t.Fatal("New() error = nil, want unknown encoding error")
	}
}
