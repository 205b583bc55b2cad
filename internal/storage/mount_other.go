//go:build !darwin && !linux

package storage

// filesystemType has no way to spot network mounts here.
func filesystemType(string) (string, error) {
	return "unknown", nil
}
