package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/hbrun/internal/invoke"
	"github.com/mattjoyce/hbrun/internal/locator"
	"github.com/mattjoyce/hbrun/internal/storage"
	"github.com/mattjoyce/hbrun/internal/subcommand"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestStoreRecordAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id, err := s.Record(ctx, Entry{
		SessionID:      "sess-1",
		Subcommand:     "csv-timeline",
		Argv:           []string{"csv-timeline", "-f", "evidence.evtx", "-o", "t.csv"},
		Input:          "evidence.evtx",
		Outcome:        OutcomeSucceeded,
		Lossy:          true,
		StartedAt:      started,
		Duration:       1500 * time.Millisecond,
		StdoutBytes:    42,
		ArtifactPath:   "out/evidence_output.txt",
		ArtifactDigest: "blake3:abc",
		ConfigHash:     "cfg",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == "" {
		t.Fatal("Record returned empty id")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Subcommand != "csv-timeline" || got.Outcome != OutcomeSucceeded || !got.Lossy {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if strings.Join(got.Argv, " ") != "csv-timeline -f evidence.evtx -o t.csv" {
		t.Fatalf("argv = %v", got.Argv)
	}
	if !got.StartedAt.Equal(started) || got.Duration != 1500*time.Millisecond {
		t.Fatalf("timing = %v %v", got.StartedAt, got.Duration)
	}
	if got.SessionID != "sess-1" || got.ArtifactPath != "out/evidence_output.txt" || got.Error != "" {
		t.Fatalf("unexpected entry: %#v", got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Get error = %v, want ErrRunNotFound", err)
	}
}

func TestStoreRecordValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if _, err := s.Record(context.Background(), Entry{Outcome: OutcomeFailed}); err == nil {
		t.Fatal("expected error for empty subcommand")
	}
	if _, err := s.Record(context.Background(), Entry{Subcommand: "search"}); err == nil {
		t.Fatal("expected error for empty outcome")
	}
}

func TestStoreTruncatesStderr(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id, err := s.Record(context.Background(), Entry{
		Subcommand: "update-rules",
		Outcome:    OutcomeFailed,
		ExitCode:   1,
		Stderr:     strings.Repeat("e", maxStderrBytes+100),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Stderr) != maxStderrBytes {
		t.Fatalf("stderr length = %d, want %d", len(got.Stderr), maxStderrBytes)
	}
}

func TestStoreListFiltersAndOrders(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, sub := range []string{"eid-metrics", "search", "eid-metrics", "logon-summary"} {
		_, err := s.Record(ctx, Entry{
			SessionID:  fmt.Sprintf("sess-%d", i%2),
			Subcommand: sub,
			Outcome:    OutcomeSucceeded,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 || all[0].Subcommand != "logon-summary" {
		t.Fatalf("List() = %+v, want newest first", all)
	}

	eid, err := s.List(ctx, Filter{Subcommand: "eid-metrics"})
	if err != nil {
		t.Fatalf("List(subcommand): %v", err)
	}
	if len(eid) != 2 {
		t.Fatalf("List(subcommand) = %d entries, want 2", len(eid))
	}

	sess, err := s.List(ctx, Filter{SessionID: "sess-1", Limit: 1})
	if err != nil {
		t.Fatalf("List(session): %v", err)
	}
	if len(sess) != 1 || sess[0].Subcommand != "logon-summary" {
		t.Fatalf("List(session) = %+v", sess)
	}
}

func TestStorePrune(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if _, err := s.Record(ctx, Entry{Subcommand: "list-profiles", Outcome: OutcomeSucceeded, StartedAt: old}); err != nil {
		t.Fatalf("Record old: %v", err)
	}
	keepID, err := s.Record(ctx, Entry{Subcommand: "list-profiles", Outcome: OutcomeSucceeded})
	if err != nil {
		t.Fatalf("Record new: %v", err)
	}

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("Prune deleted %d, want 1", n)
	}
	if _, err := s.Get(ctx, keepID); err != nil {
		t.Fatalf("recent entry pruned: %v", err)
	}
	if _, err := s.Prune(ctx, 0); err == nil {
		t.Fatal("expected error for non-positive olderThan")
	}
}

func TestOutcomeOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		res  invoke.Result
		err  error
		want Outcome
	}{
		{"clean exit", invoke.Result{}, nil, OutcomeSucceeded},
		{"non-zero exit", invoke.Result{ExitCode: 2}, nil, OutcomeFailed},
		{"invalid", invoke.Result{}, fmt.Errorf("x: %w", subcommand.ErrInvalidInvocation), OutcomeRejected},
		{"unsupported", invoke.Result{}, subcommand.ErrUnsupportedOperation, OutcomeRejected},
		{"not found", invoke.Result{NotFound: true}, locator.ErrExecutableNotFound, OutcomeNotFound},
		{"not runnable", invoke.Result{}, locator.ErrExecutableNotRunnable, OutcomeNotFound},
		{"interrupted", invoke.Result{Interrupted: true}, context.Canceled, OutcomeInterrupted},
		{"other error", invoke.Result{}, errors.New("wait failed"), OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OutcomeOf(tc.res, tc.err); got != tc.want {
				t.Fatalf("OutcomeOf() = %q, want %q", got, tc.want)
			}
		})
	}
}
