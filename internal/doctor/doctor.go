// Package doctor runs preflight checks on an hbrun configuration.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/mattjoyce/hbrun/internal/config"
	"github.com/mattjoyce/hbrun/internal/invoke"
	"github.com/mattjoyce/hbrun/internal/locator"
	"github.com/mattjoyce/hbrun/internal/storage"
)

// minAPIKeyLen is the shortest key accepted without a warning.
const minAPIKeyLen = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks a loaded config against the machine it will run on.
type Doctor struct {
	cfg    *config.Config
	fs     afero.Fs
	mounts func(string) (storage.Mount, error)
}

// New creates a Doctor. A nil fs means the OS filesystem.
func New(cfg *config.Config, fs afero.Fs) *Doctor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Doctor{cfg: cfg, fs: fs, mounts: storage.DetectMount}
}

// Validate runs all checks and returns a result. The executable check may
// add execute permission, exactly as the first run would.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateExecutable(r)
	d.validateEncoding(r)
	d.validateOutput(r)
	d.validateHistory(r)
	d.validateAPIConfig(r)
	d.warnShortTimeouts(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateExecutable(r *Result) {
	exe, err := locator.Prepare(d.cfg.Executable.Platform, d.cfg.Executable.Path)
	if err != nil {
		d.addError(r, "executable", "executable.path", err.Error())
		return
	}
	if !exe.Prepared {
		d.addWarning(r, "executable", "executable.path", fmt.Sprintf("%s could not be marked executable", exe.Path))
	}
}

func (d *Doctor) validateEncoding(r *Result) {
	if _, err := invoke.NewDecoder(d.cfg.Invoke.Encoding); err != nil {
		d.addError(r, "invoke", "invoke.encoding", err.Error())
	}
}

// validateOutput checks that the run directory base is usable.
func (d *Doctor) validateOutput(r *Result) {
	base := d.cfg.Output.BaseDir
	info, err := d.fs.Stat(base)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "output", "output.base_dir", fmt.Sprintf("%s does not exist yet; it is created on the first persisted run", base))
	case err != nil:
		d.addError(r, "output", "output.base_dir", err.Error())
	case !info.IsDir():
		d.addError(r, "output", "output.base_dir", fmt.Sprintf("%s is not a directory", base))
	}

	if d.cfg.Output.Retention == 0 {
		d.addWarning(r, "output", "output.retention", "retention is unset; prune needs --older-than")
	}
}

func (d *Doctor) validateHistory(r *Result) {
	if !d.cfg.History.IsEnabled() {
		d.addWarning(r, "history", "history.enabled", "run history is disabled; runs are not recorded")
		return
	}

	path := d.cfg.History.Path
	if info, err := d.fs.Stat(path); err == nil && info.IsDir() {
		d.addError(r, "history", "history.path", fmt.Sprintf("%s is a directory", path))
		return
	}
	if info, err := d.fs.Stat(filepath.Dir(path)); err == nil && !info.IsDir() {
		d.addError(r, "history", "history.path", fmt.Sprintf("parent of %s is not a directory", path))
		return
	}

	m, err := d.mounts(path)
	if err != nil {
		d.addWarning(r, "history", "history.path", fmt.Sprintf("cannot detect filesystem: %v", err))
		return
	}
	if m.Network {
		d.addError(r, "history", "history.path", fmt.Sprintf("%s is on network filesystem %s; SQLite needs local disk", path, m.Type))
	}
}

// validateAPIConfig only warns; the API is optional.
func (d *Doctor) validateAPIConfig(r *Result) {
	apiCfg := d.cfg.API
	if apiCfg.APIKey == "" && len(apiCfg.Tokens) == 0 {
		d.addWarning(r, "api", "api.api_key", "no api_key or tokens; serve will reject every protected request")
	}
	if apiCfg.APIKey != "" && len(apiCfg.APIKey) < minAPIKeyLen {
		d.addWarning(r, "api", "api.api_key", fmt.Sprintf("api_key is shorter than %d characters", minAPIKeyLen))
	}
	for i, tok := range apiCfg.Tokens {
		if len(tok.Token) < minAPIKeyLen {
			d.addWarning(r, "api", fmt.Sprintf("api.tokens[%d]", i), fmt.Sprintf("token is shorter than %d characters", minAPIKeyLen))
		}
	}

	if apiCfg.MaxConcurrent < 0 {
		d.addError(r, "api", "api.max_concurrent", "max_concurrent must not be negative")
	}

	host, _, err := net.SplitHostPort(apiCfg.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q", apiCfg.Listen))
		return
	}
	if !isLoopback(host) {
		d.addWarning(r, "api", "api.listen", fmt.Sprintf("%s is reachable off this host over plain HTTP", apiCfg.Listen))
	}
}

func (d *Doctor) warnShortTimeouts(r *Result) {
	for name, timeout := range d.cfg.Invoke.Timeouts {
		if timeout < time.Second {
			d.addWarning(r, "invoke", "invoke.timeouts."+name,
				fmt.Sprintf("timeout %s is very short (< 1s)", timeout))
		}
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
