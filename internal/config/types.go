package config

import (
	"time"

	"github.com/samber/lo"
)

// Config represents the complete hbrun configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Executable ExecutableConfig `yaml:"executable"`
	Invoke     InvokeConfig     `yaml:"invoke"`
	Output     OutputConfig     `yaml:"output"`
	Batch      BatchConfig      `yaml:"batch"`
	History    HistoryConfig    `yaml:"history"`
	API        APIConfig        `yaml:"api,omitempty"`

	// SourcePath is the file the config was read from; empty for defaults.
	SourcePath string `yaml:"-"`
	// Hash is the BLAKE3 hex digest of SourcePath's bytes.
	Hash string `yaml:"-"`
}

// ServiceConfig defines logging settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ExecutableConfig locates the hayabusa binary.
type ExecutableConfig struct {
	Path string `yaml:"path"`
	// Platform overrides the detected OS for permission handling.
	Platform string `yaml:"platform,omitempty"`
}

// InvokeConfig controls process execution.
type InvokeConfig struct {
	Encoding         string        `yaml:"encoding"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
	// Timeouts maps subcommand names to a maximum run time.
	Timeouts map[string]time.Duration `yaml:"timeouts,omitempty"`
}

// OutputConfig controls run directories and artifact naming.
type OutputConfig struct {
	BaseDir       string        `yaml:"base_dir"`
	DirPrefix     string        `yaml:"dir_prefix"`
	Suffix        string        `yaml:"suffix"`
	PerSubcommand bool          `yaml:"per_subcommand"`
	Header        bool          `yaml:"header"`
	Retention     time.Duration `yaml:"retention,omitempty"`
}

// BatchConfig controls the batch sweep over one evidence file.
type BatchConfig struct {
	SearchKeyword string `yaml:"search_keyword"`
}

// HistoryConfig defines run ledger storage.
type HistoryConfig struct {
	// Enabled is a pointer so an explicit false survives default merging.
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether runs are recorded. Unset means enabled.
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen        string           `yaml:"listen"`
	APIKey        string           `yaml:"api_key"`
	Tokens        []APITokenConfig `yaml:"tokens,omitempty"`
	MaxConcurrent int              `yaml:"max_concurrent"`
}

// APITokenConfig is a bearer token limited to a set of scopes
// (runs:ro, runs:rw, events:ro or *).
type APITokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Executable: ExecutableConfig{
			Path: "hayabusa",
		},
		Invoke: InvokeConfig{
			Encoding:         "utf-8",
			TerminationGrace: 5 * time.Second,
		},
		Output: OutputConfig{
			BaseDir:   ".",
			DirPrefix: "hayabusa_output",
			Suffix:    "output",
		},
		Batch: BatchConfig{
			SearchKeyword: "example",
		},
		History: HistoryConfig{
			Enabled: lo.ToPtr(true),
			Path:    "./data/history.db",
		},
		API: APIConfig{
			Listen:        "127.0.0.1:8080",
			MaxConcurrent: 4,
		},
	}
}
