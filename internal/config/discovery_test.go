package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscover(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvConfigPath, "")
	t.Chdir(work)

	path, err := Discover("")
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if path != "" {
		t.Fatalf("Discover() = %q, want none", path)
	}

	local := filepath.Join(work, "hbrun.yaml")
	if err := os.WriteFile(local, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if path, _ = Discover(""); path != "hbrun.yaml" {
		t.Fatalf("Discover() = %q, want ./hbrun.yaml", path)
	}

	userDir := filepath.Join(home, ".config", "hbrun")
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.Fatal(err)
	}
	user := filepath.Join(userDir, "config.yaml")
	if err := os.WriteFile(user, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if path, _ = Discover(""); path != user {
		t.Fatalf("Discover() = %q, want %q", path, user)
	}

	envPath := filepath.Join(work, "env.yaml")
	if err := os.WriteFile(envPath, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, envPath)
	if path, _ = Discover(""); path != envPath {
		t.Fatalf("Discover() = %q, want %q", path, envPath)
	}

	if path, _ = Discover(local); path != local {
		t.Fatalf("Discover(explicit) = %q, want %q", path, local)
	}
}

func TestDiscoverMissingExplicit(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit path")
	}

	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Discover(""); err == nil {
		t.Fatal("expected error for missing $HBRUN_CONFIG")
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvConfigPath, "")
	t.Chdir(t.TempDir())

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.SourcePath != "" || cfg.Executable.Path != "hayabusa" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}
