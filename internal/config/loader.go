package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hbrun/internal/auth"
	"github.com/mattjoyce/hbrun/internal/subcommand"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Unset fields take their
// value from Defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	cfg.Hash = Fingerprint(data)
	return cfg, nil
}

// Parse decodes YAML, interpolates ${VAR} references, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configPath, or the first discovered config file, or
// falls back to Defaults when nothing is found.
func LoadOrDefault(configPath string) (*Config, error) {
	path, err := Discover(configPath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// applyDefaults fills zero-valued fields from Defaults. Pointer fields set
// by the user are kept as-is, so an explicit false survives.
func applyDefaults(cfg *Config) error {
	if err := mergo.Merge(cfg, Defaults(), mergo.WithoutDereference); err != nil {
		return fmt.Errorf("apply config defaults: %w", err)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if strings.TrimSpace(cfg.Executable.Path) == "" {
		return fmt.Errorf("executable.path is required")
	}
	if envVarPattern.MatchString(cfg.Executable.Path) {
		return unresolved("executable.path", cfg.Executable.Path)
	}

	if cfg.Invoke.TerminationGrace < 0 {
		return fmt.Errorf("invoke.termination_grace must not be negative")
	}
	for name, timeout := range cfg.Invoke.Timeouts {
		if _, err := subcommand.Lookup(name); err != nil {
			return fmt.Errorf("invoke.timeouts: %w", err)
		}
		if timeout <= 0 {
			return fmt.Errorf("invoke.timeouts.%s must be positive", name)
		}
	}

	if strings.ContainsAny(cfg.Output.DirPrefix, `/\`) {
		return fmt.Errorf("output.dir_prefix must not contain path separators (got %q)", cfg.Output.DirPrefix)
	}
	if cfg.Output.Retention < 0 {
		return fmt.Errorf("output.retention must not be negative")
	}

	if cfg.History.IsEnabled() && cfg.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}

	if cfg.API.MaxConcurrent < 0 {
		return fmt.Errorf("api.max_concurrent must not be negative")
	}
	if envVarPattern.MatchString(cfg.API.APIKey) {
		return unresolved("api.api_key", cfg.API.APIKey)
	}
	for i, tok := range cfg.API.Tokens {
		field := fmt.Sprintf("api.tokens[%d]", i)
		if envVarPattern.MatchString(tok.Token) {
			return unresolved(field+".token", tok.Token)
		}
		if strings.TrimSpace(tok.Token) == "" {
			return fmt.Errorf("%s.token must not be empty", field)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must not be empty", field)
		}
		for _, scope := range tok.Scopes {
			if _, err := auth.ParseScope(scope); err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
		}
	}

	return nil
}

func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}

// SubcommandTimeouts converts the configured timeouts to typed keys.
func (c *Config) SubcommandTimeouts() map[subcommand.Name]time.Duration {
	out := make(map[subcommand.Name]time.Duration, len(c.Invoke.Timeouts))
	for name, timeout := range c.Invoke.Timeouts {
		out[subcommand.Name(strings.TrimSpace(name))] = timeout
	}
	return out
}
