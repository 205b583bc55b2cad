package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFSManagerCreateAndOpen(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "cases")
	mgr, err := NewFSManager(nil, baseDir, "")
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	mgr.now = fixedClock(time.Date(2024, 3, 9, 14, 5, 7, 123, time.Local))

	run, err := mgr.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantName := "hayabusa_output_20240309_140507"
	if run.Name != wantName {
		t.Fatalf("Create() name = %q, want %q", run.Name, wantName)
	}
	if run.Dir != filepath.Join(baseDir, wantName) {
		t.Fatalf("Create() dir = %q", run.Dir)
	}

	info, err := os.Stat(run.Dir)
	if err != nil {
		t.Fatalf("Stat(run) error = %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("run path is not a directory")
	}

	opened, err := mgr.Open(context.Background(), wantName)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened.Dir != run.Dir || !opened.CreatedAt.Equal(run.CreatedAt) {
		t.Fatalf("Open() run = %+v, want %+v", opened, run)
	}
}

func TestFSManagerCreateIsIdempotentWithinASecond(t *testing.T) {
	fs := afero.NewMemMapFs()
	mgr, err := NewFSManager(fs, "/out", "triage")
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	mgr.now = fixedClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))

	first, err := mgr.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(first.Dir, "a_output.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	second, err := mgr.Create(context.Background())
	if err != nil {
		t.Fatalf("second Create() error = %v", err)
	}
	if second.Dir != first.Dir {
		t.Fatalf("second Create() dir = %q, want %q", second.Dir, first.Dir)
	}
	if ok, _ := afero.Exists(fs, filepath.Join(first.Dir, "a_output.txt")); !ok {
		t.Fatalf("existing artifact removed by second Create()")
	}
}

func TestFSManagerOpenRejectsBadNames(t *testing.T) {
	mgr, err := NewFSManager(afero.NewMemMapFs(), "/out", "")
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	for _, name := range []string{"", "..", "../etc", "other_20240101_000000", "hayabusa_output_yesterday", "hayabusa_output_20240101_000000"} {
		if _, err := mgr.Open(context.Background(), name); err == nil {
			t.Fatalf("Open(%q) expected error", name)
		}
	}
}

func TestNewFSManagerValidation(t *testing.T) {
	if _, err := NewFSManager(nil, "  ", ""); err == nil {
		t.Fatal("expected error for empty base dir")
	}
	if _, err := NewFSManager(nil, "/out", "a/b"); err == nil {
		t.Fatal("expected error for prefix with separator")
	}
}

func TestFSManagerListAndCleanup(t *testing.T) {
	fs := afero.NewMemMapFs()
	mgr, err := NewFSManager(fs, "/out", "")
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)
	for _, at := range []time.Time{now.Add(-72 * time.Hour), now.Add(-48 * time.Hour), now.Add(-time.Hour)} {
		mgr.now = fixedClock(at)
		if _, err := mgr.Create(context.Background()); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	// Not a run: must survive cleanup.
	if err := fs.MkdirAll("/out/evidence", 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	mgr.now = fixedClock(now)

	runs, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("List() = %d runs, want 3", len(runs))
	}
	if !runs[0].CreatedAt.Before(runs[2].CreatedAt) {
		t.Fatalf("List() not ordered oldest first: %+v", runs)
	}

	report, err := mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 2 {
		t.Fatalf("Cleanup() deleted = %d, want 2", report.DeletedDirs)
	}

	runs, err = mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Name != "hayabusa_output_20240601_110000" {
		t.Fatalf("List() after cleanup = %+v", runs)
	}
	if ok, _ := afero.DirExists(fs, "/out/evidence"); !ok {
		t.Fatalf("non-run directory was removed")
	}

	if _, err := mgr.Cleanup(context.Background(), 0); err == nil {
		t.Fatal("expected error for non-positive olderThan")
	}
}

func TestFSManagerListMissingBase(t *testing.T) {
	mgr, err := NewFSManager(afero.NewMemMapFs(), "/nowhere", "")
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	runs, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("List() = %+v, want empty", runs)
	}
}

func TestFSManagerHonoursCancelledContext(t *testing.T) {
	mgr, err := NewFSManager(afero.NewMemMapFs(), "/out", "")
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mgr.Create(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
