package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint returns the BLAKE3-256 digest of data as lowercase hex. It is
// stored as Config.Hash and stamped on every history row.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile reads path and returns its Fingerprint.
func FingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config %s: %w", path, err)
	}
	return Fingerprint(data), nil
}

// CheckFingerprint fails unless path hashes to want. want may carry the
// "blake3:" prefix used for artifact digests.
func CheckFingerprint(path, want string) error {
	got, err := FingerprintFile(path)
	if err != nil {
		return err
	}
	want = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(want), "blake3:"))
	if got != want {
		return fmt.Errorf("config %s changed: fingerprint is %s, expected %s", path, got, want)
	}
	return nil
}
