package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFingerprintMatchesLoadedHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("executable:\n  path: hayabusa\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	hash, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("FingerprintFile() error = %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("hash length = %d, want 64", len(hash))
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Hash != hash {
		t.Fatalf("cfg.Hash = %q, want %q", cfg.Hash, hash)
	}
}

func TestCheckFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	hash, err := FingerprintFile(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{hash, "blake3:" + hash, " " + strings.ToUpper(hash) + "\n"} {
		if err := CheckFingerprint(path, want); err != nil {
			t.Errorf("CheckFingerprint(%q) error = %v", want, err)
		}
	}

	if err := os.WriteFile(path, []byte("changed\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	err = CheckFingerprint(path, hash)
	if err == nil || !strings.Contains(err.Error(), "changed") {
		t.Fatalf("CheckFingerprint() error = %v, want mismatch", err)
	}

	if err := CheckFingerprint(filepath.Join(t.TempDir(), "missing.yaml"), hash); err == nil {
		t.Fatal("expected error for missing file")
	}
}
