package storage

import (
	"path/filepath"
	"strings"
	"testing"
)

func withFsType(t *testing.T, fn func(string) (string, error)) {
	t.Helper()
	orig := fsType
	fsType = fn
	t.Cleanup(func() { fsType = orig })
}

func TestDetectMountUsesNearestExistingParent(t *testing.T) {
	root := t.TempDir()
	var inspected string
	withFsType(t, func(p string) (string, error) {
		inspected = p
		return "EXT4", nil
	})

	m, err := DetectMount(filepath.Join(root, "data", "nested", "history.db"))
	if err != nil {
		t.Fatalf("DetectMount() error = %v", err)
	}
	if inspected != root || m.Path != root {
		t.Fatalf("inspected %q, mount path %q, want %q", inspected, m.Path, root)
	}
	if m.Type != "ext4" || m.Network {
		t.Fatalf("unexpected mount: %+v", m)
	}
}

func TestRequireLocal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	tests := []struct {
		fs      string
		wantErr bool
	}{
		{"apfs", false},
		{"0x6969", false},
		{"nfs", true},
		{"SMBFS", true},
		{"cifs", true},
	}
	for _, tt := range tests {
		t.Run(tt.fs, func(t *testing.T) {
			withFsType(t, func(string) (string, error) { return tt.fs, nil })
			err := RequireLocal(dbPath)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RequireLocal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "history.path or --db") {
				t.Fatalf("error should point at the override: %v", err)
			}
		})
	}
}

func TestDetectMountEmptyPath(t *testing.T) {
	if _, err := DetectMount("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
