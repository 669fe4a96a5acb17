package paths

import (
	"os"
	"path/filepath"
)

const appDir = "p2p-overlay"

// DefaultDataDir returns a per-user directory for node state. It prefers
// os.UserConfigDir and falls back to a dot directory in the working dir.
func DefaultDataDir() string {
	if dir := os.Getenv("OVERLAY_HOME"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, appDir)
	}
	return "." + appDir
}

// EnsureDir makes sure dir exists and returns the cleaned path.
func EnsureDir(dir string) (string, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
