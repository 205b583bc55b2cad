package workspace

import (
	"context"
	"time"
)

// Run is one timestamp-qualified output directory. Every artifact from a
// session or batch lands in the same Run.
type Run struct {
	Name      string
	Dir       string
	CreatedAt time.Time
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs run directory lifecycle under one base directory.
type Manager interface {
	// Create makes (or reuses) the run directory for the current second.
	Create(ctx context.Context) (Run, error)

	// Open resolves an existing run directory by name.
	Open(ctx context.Context, name string) (Run, error)

	// List returns run directories, oldest first.
	List(ctx context.Context) ([]Run, error)

	// Cleanup removes run directories older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
