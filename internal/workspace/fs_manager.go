package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const (
	// DefaultPrefix names run directories when no prefix is configured.
	DefaultPrefix = "hayabusa_output"

	// TimestampLayout is the run directory suffix, local time to the second.
	TimestampLayout = "20060102_150405"
)

// fsManager manages run directories through an afero filesystem.
type fsManager struct {
	fs      afero.Fs
	baseDir string
	prefix  string
	now     func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a workspace manager rooted at baseDir. A nil fs means
// the OS filesystem.
func NewFSManager(fs afero.Fs, baseDir, prefix string) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, `/\`) {
		return nil, fmt.Errorf("run directory prefix %q must not contain path separators", prefix)
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &fsManager{
		fs:      fs,
		baseDir: filepath.Clean(trimmed),
		prefix:  prefix,
		now:     time.Now,
	}, nil
}

// Create makes the run directory for the current second. Two calls in the
// same second share a directory.
func (m *fsManager) Create(ctx context.Context) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}

	created := m.now().Truncate(time.Second)
	name := m.prefix + "_" + created.Format(TimestampLayout)
	path := filepath.Join(m.baseDir, name)

	if err := m.fs.MkdirAll(path, 0o755); err != nil {
		return Run{}, fmt.Errorf("create run directory %q: %w", name, err)
	}

	return Run{Name: name, Dir: path, CreatedAt: created}, nil
}

// Open returns metadata for an existing run directory.
func (m *fsManager) Open(ctx context.Context, name string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}

	created, err := m.parseName(name)
	if err != nil {
		return Run{}, err
	}

	path := filepath.Join(m.baseDir, name)
	info, err := m.fs.Stat(path)
	if err != nil {
		return Run{}, fmt.Errorf("open run %q: %w", name, err)
	}
	if !info.IsDir() {
		return Run{}, fmt.Errorf("run path %q is not a directory", name)
	}

	return Run{Name: name, Dir: path, CreatedAt: created}, nil
}

// List returns run directories found under the base directory, oldest first.
// Entries that do not carry the run prefix and timestamp are ignored.
func (m *fsManager) List(ctx context.Context) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(m.fs, m.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace base directory: %w", err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		created, err := m.parseName(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, Run{
			Name:      entry.Name(),
			Dir:       filepath.Join(m.baseDir, entry.Name()),
			CreatedAt: created,
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// Cleanup removes run directories whose timestamp is older than olderThan.
// Directories that are not runs are never touched.
func (m *fsManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	runs, err := m.List(ctx)
	if err != nil {
		return CleanupReport{}, err
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if run.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.fs.RemoveAll(run.Dir); err != nil {
			return report, fmt.Errorf("remove run %q: %w", run.Name, err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsManager) parseName(name string) (time.Time, error) {
	if err := validateRunName(name); err != nil {
		return time.Time{}, err
	}
	stamp, ok := strings.CutPrefix(name, m.prefix+"_")
	if !ok {
		return time.Time{}, fmt.Errorf("run name %q does not start with %q", name, m.prefix)
	}
	created, err := time.ParseInLocation(TimestampLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("run name %q has no valid timestamp: %w", name, err)
	}
	return created, nil
}

func validateRunName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("run name is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("run name %q is invalid", name)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("run name %q must not contain path separators", name)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("run name %q is invalid", name)
	}
	return nil
}
