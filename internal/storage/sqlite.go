package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// pragmas are applied to every connection pool we open.
var pragmas = []string{
	"PRAGMA foreign_keys = ON;",
	"PRAGMA busy_timeout = 5000;",
	"PRAGMA journal_mode = WAL;",
}

// OpenSQLite opens the run ledger at path, creating the file, its directory
// and the schema as needed. Paths on network filesystems are refused.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := RequireLocal(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the run_log table and its indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_log (
  id              TEXT PRIMARY KEY,
  session_id      TEXT,
  subcommand      TEXT NOT NULL,
  argv            JSON NOT NULL,
  input           TEXT,
  outcome         TEXT NOT NULL,
  exit_code       INTEGER NOT NULL,
  lossy           INTEGER NOT NULL DEFAULT 0,
  started_at      TEXT NOT NULL,
  duration_ms     INTEGER NOT NULL,
  stdout_bytes    INTEGER NOT NULL,
  stderr          TEXT,
  artifact_path   TEXT,
  artifact_digest TEXT,
  config_hash     TEXT,
  error           TEXT
);`,
		`CREATE INDEX IF NOT EXISTS run_log_started_at_idx ON run_log(started_at);`,
		`CREATE INDEX IF NOT EXISTS run_log_subcommand_started_at_idx ON run_log(subcommand, started_at);`,
		`CREATE INDEX IF NOT EXISTS run_log_session_idx ON run_log(session_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
