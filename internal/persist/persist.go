// Package persist writes captured invocation output to text artifacts.
package persist

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/stoewer/go-strcase"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/hbrun/internal/log"
	"github.com/mattjoyce/hbrun/internal/subcommand"
)

// ErrPersistence wraps every directory or file write failure.
var ErrPersistence = errors.New("persistence failure")

const (
	// NoOutputSentinel is written instead of an empty artifact.
	NoOutputSentinel = "No output generated."

	// DefaultSuffix is appended to the input base name.
	DefaultSuffix = "output"

	digestPrefix = "blake3:"
)

// Artifact is one persisted output file.
type Artifact struct {
	Dir    string `json:"dir"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Digest string `json:"digest"`
}

// Options control artifact naming and layout.
type Options struct {
	// Suffix replaces DefaultSuffix when set.
	Suffix string
	// PerSubcommand inserts the subcommand into the name so one input can
	// produce several artifacts in the same directory.
	PerSubcommand bool
	// Header prefixes the content with a "Command: <subcommand>" line.
	Header bool
}

// Persister writes artifacts through an afero filesystem.
type Persister struct {
	fs     afero.Fs
	opts   Options
	logger *slog.Logger
}

// New creates a Persister. A nil fs means the OS filesystem.
func New(fs afero.Fs, opts Options) *Persister {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if strings.TrimSpace(opts.Suffix) == "" {
		opts.Suffix = DefaultSuffix
	}
	return &Persister{
		fs:     fs,
		opts:   opts,
		logger: log.WithComponent("persist"),
	}
}

// Batched returns a copy that names artifacts per subcommand and writes the
// command header, so several results for one input can share a directory.
func (p *Persister) Batched() *Persister {
	opts := p.opts
	opts.PerSubcommand = true
	opts.Header = true
	return &Persister{fs: p.fs, opts: opts, logger: p.logger}
}

// Write persists content for inputID under dir, replacing any previous
// artifact of the same derived name.
func (p *Persister) Write(dir, inputID, content string) (Artifact, error) {
	return p.write(dir, "", inputID, content)
}

// WriteFor persists content produced by sub. When inputID is empty the
// subcommand name identifies the artifact.
func (p *Persister) WriteFor(dir string, sub subcommand.Name, inputID, content string) (Artifact, error) {
	return p.write(dir, sub, inputID, content)
}

func (p *Persister) write(dir string, sub subcommand.Name, inputID, content string) (Artifact, error) {
	if strings.TrimSpace(dir) == "" {
		return Artifact{}, fmt.Errorf("%w: output directory is empty", ErrPersistence)
	}

	name := p.ArtifactName(sub, inputID)
	path := filepath.Join(dir, name)

	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("%w: create output directory %s: %v", ErrPersistence, dir, err)
	}

	var b strings.Builder
	if p.opts.Header && sub != "" {
		fmt.Fprintf(&b, "Command: %s\n\n", sub)
	}
	if content == "" {
		b.WriteString(NoOutputSentinel)
	} else {
		b.WriteString(content)
	}
	data := []byte(b.String())

	if err := afero.WriteFile(p.fs, path, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("%w: write %s: %v", ErrPersistence, path, err)
	}

	art := Artifact{
		Dir:    dir,
		Name:   name,
		Path:   path,
		Bytes:  len(data),
		Digest: digest(data),
	}
	p.logger.Debug("artifact written", "path", path, "bytes", art.Bytes)
	return art, nil
}

// ArtifactName derives "<basename-without-extension>_<suffix>.txt". With
// PerSubcommand the subcommand name is kept verbatim in the suffix, as in
// "dc01_csv-timeline_output.txt".
func (p *Persister) ArtifactName(sub subcommand.Name, inputID string) string {
	base := baseName(inputID)
	if base == "" {
		base = strcase.SnakeCase(string(sub))
	}
	if base == "" {
		base = "hayabusa"
	}

	suffix := p.opts.Suffix
	if p.opts.PerSubcommand && sub != "" {
		suffix = string(sub) + "_" + suffix
	}
	return base + "_" + suffix + ".txt"
}

// Verify recomputes the digest of the file at path and compares it.
func (p *Persister) Verify(path, want string) error {
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	if got := digest(data); got != want {
		return fmt.Errorf("digest mismatch for %s: expected %s, got %s", filepath.Base(path), want, got)
	}
	return nil
}

func baseName(inputID string) string {
	trimmed := strings.TrimSpace(inputID)
	if trimmed == "" {
		return ""
	}
	base := filepath.Base(filepath.Clean(trimmed))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		return stem
	}
	return base
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}
