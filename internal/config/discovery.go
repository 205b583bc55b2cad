package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable checked during discovery.
const EnvConfigPath = "HBRUN_CONFIG"

// Discover returns the config file to load.
// Priority order: explicit path, $HBRUN_CONFIG, ~/.config/hbrun/config.yaml,
// ./hbrun.yaml. An explicit path or $HBRUN_CONFIG that does not exist is an
// error; otherwise "" means no config file was found.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) && !dirExists(explicit) {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	if path := os.Getenv(EnvConfigPath); path != "" {
		if !fileExists(path) {
			return "", fmt.Errorf("$%s points at missing file %s", EnvConfigPath, path)
		}
		return path, nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "hbrun", "config.yaml")
		if fileExists(userConfig) {
			return userConfig, nil
		}
	}

	if fileExists("hbrun.yaml") {
		return "hbrun.yaml", nil
	}

	return "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
