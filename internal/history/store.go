// Package history keeps a ledger of invocations in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxStderrBytes = 64 * 1024

	defaultListLimit = 50

	// timeLayout is fixed width so started_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends e to run_log and returns its ID. An empty ID is assigned.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if e.Subcommand == "" {
		return "", fmt.Errorf("subcommand is empty")
	}
	if e.Outcome == "" {
		return "", fmt.Errorf("outcome is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Argv == nil {
		e.Argv = []string{}
	}

	argv, err := json.Marshal(e.Argv)
	if err != nil {
		return "", fmt.Errorf("marshal argv: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO run_log(
  id, session_id, subcommand, argv, input, outcome, exit_code, lossy,
  started_at, duration_ms, stdout_bytes, stderr, artifact_path, artifact_digest,
  config_hash, error
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ID, nullIfEmpty(e.SessionID), e.Subcommand, string(argv), nullIfEmpty(e.Input),
		string(e.Outcome), e.ExitCode, e.Lossy,
		e.StartedAt.UTC().Format(timeLayout), e.Duration.Milliseconds(), e.StdoutBytes,
		nullIfEmpty(truncateStderr(e.Stderr)), nullIfEmpty(e.ArtifactPath), nullIfEmpty(e.ArtifactDigest),
		nullIfEmpty(e.ConfigHash), nullIfEmpty(e.Error),
	)
	if err != nil {
		return "", fmt.Errorf("insert run_log: %w", err)
	}
	return e.ID, nil
}

const selectColumns = `
SELECT
  id, session_id, subcommand, argv, input, outcome, exit_code, lossy,
  started_at, duration_ms, stdout_bytes, stderr, artifact_path, artifact_digest,
  config_hash, error
FROM run_log`

// Get returns the entry with id, or ErrRunNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return e, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Subcommand != "" {
		where = append(where, "subcommand = ?")
		args = append(args, f.Subcommand)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Prune deletes entries that started more than olderThan ago.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().Add(-olderThan).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_log WHERE started_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune run_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune run_log: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e              Entry
		sessionID      sql.NullString
		argv           string
		input          sql.NullString
		outcome        string
		lossy          bool
		startedAtS     string
		durationMS     int64
		stderr         sql.NullString
		artifactPath   sql.NullString
		artifactDigest sql.NullString
		configHash     sql.NullString
		lastError      sql.NullString
	)
	err := sc.Scan(
		&e.ID, &sessionID, &e.Subcommand, &argv, &input, &outcome, &e.ExitCode, &lossy,
		&startedAtS, &durationMS, &e.StdoutBytes, &stderr, &artifactPath, &artifactDigest,
		&configHash, &lastError,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(argv), &e.Argv); err != nil {
		return nil, fmt.Errorf("decode argv: %w", err)
	}
	e.Outcome = Outcome(outcome)
	e.Lossy = lossy
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		e.StartedAt = t
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.SessionID = sessionID.String
	e.Input = input.String
	e.Stderr = stderr.String
	e.ArtifactPath = artifactPath.String
	e.ArtifactDigest = artifactDigest.String
	e.ConfigHash = configHash.String
	e.Error = lastError.String
	return &e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
