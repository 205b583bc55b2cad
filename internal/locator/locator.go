// Package locator resolves the Hayabusa binary and makes sure it can be
// executed on the current platform.
package locator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// ErrExecutableNotFound means the configured path does not exist.
	ErrExecutableNotFound = errors.New("executable not found")

	// ErrExecutableNotRunnable means the path exists but cannot be executed.
	ErrExecutableNotRunnable = errors.New("executable not runnable")
)

const execBits fs.FileMode = 0o111

// chmod is swapped in tests to simulate permission failures.
var chmod = os.Chmod

// Executable is a resolved binary path.
type Executable struct {
	Path     string
	Platform string
	// Prepared is true once the execute bits are known to be set, or the
	// platform has no permission bits.
	Prepared bool
}

// Prepare resolves path for platform and adds execute permission where the
// platform uses permission bits. An empty platform means runtime.GOOS.
//
// The returned Executable always carries the best-known path, even when an
// error is returned. Errors are advisory: the first invocation surfaces the
// real failure.
func Prepare(platform, path string) (Executable, error) {
	if platform == "" {
		platform = runtime.GOOS
	}
	exe := Executable{Path: strings.TrimSpace(path), Platform: platform}
	if exe.Path == "" {
		return exe, fmt.Errorf("%w: path is empty", ErrExecutableNotFound)
	}

	if !usesPermissionBits(platform) {
		exe.Prepared = true
		return exe, nil
	}

	if !strings.ContainsAny(exe.Path, `/\`) {
		resolved, err := exec.LookPath(exe.Path)
		if err != nil {
			return exe, fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, exe.Path, err)
		}
		exe.Path = resolved
	}

	abs, err := filepath.Abs(exe.Path)
	if err == nil {
		exe.Path = abs
	}

	info, err := os.Stat(exe.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return exe, fmt.Errorf("%w: %s", ErrExecutableNotFound, exe.Path)
	}
	if err != nil {
		return exe, fmt.Errorf("%w: stat %s: %v", ErrExecutableNotRunnable, exe.Path, err)
	}
	if info.IsDir() {
		return exe, fmt.Errorf("%w: %s is a directory", ErrExecutableNotRunnable, exe.Path)
	}

	mode := info.Mode().Perm()
	if mode&execBits == execBits {
		exe.Prepared = true
		return exe, nil
	}
	if err := chmod(exe.Path, mode|execBits); err != nil {
		return exe, fmt.Errorf("%w: chmod %s: %v", ErrExecutableNotRunnable, exe.Path, err)
	}

	exe.Prepared = true
	return exe, nil
}

// usesPermissionBits reports whether execution on platform is gated by mode bits.
func usesPermissionBits(platform string) bool {
	switch strings.ToLower(platform) {
	case "windows", "plan9":
		return false
	default:
		return true
	}
}
