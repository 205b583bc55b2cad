package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// networkTypes are filesystem types that do not give SQLite reliable locks.
var networkTypes = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// Mount describes the filesystem a path lives on.
type Mount struct {
	// Path is the nearest existing ancestor that was inspected.
	Path    string `json:"path"`
	Type    string `json:"type"`
	Network bool   `json:"network"`
}

// fsType is swapped in tests.
var fsType = filesystemType

// DetectMount reports the filesystem of path, or of its nearest existing
// parent when path does not exist yet.
func DetectMount(path string) (Mount, error) {
	if strings.TrimSpace(path) == "" {
		return Mount{}, errors.New("path is empty")
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return Mount{}, err
	}
	typ, err := fsType(existing)
	if err != nil {
		return Mount{}, fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	typ = strings.ToLower(strings.TrimSpace(typ))
	return Mount{Path: existing, Type: typ, Network: lo.Contains(networkTypes, typ)}, nil
}

// RequireLocal fails when path is on a network filesystem.
func RequireLocal(path string) error {
	m, err := DetectMount(path)
	if err != nil {
		return err
	}
	if m.Network {
		return fmt.Errorf("history database %q is on network filesystem %q; SQLite needs local disk for locking, set history.path or --db to a local file", path, m.Type)
	}
	return nil
}

func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		case filepath.Dir(dir) == dir:
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
	}
}
