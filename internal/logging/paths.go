package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// AppDirName is the per-user state directory under $HOME.
const AppDirName = ".assistkb"

// DefaultLogDir returns ~/.assistkb/logs, or a temp directory when the home
// directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppDirName, "logs")
	}
	return filepath.Join(home, AppDirName, "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "assistkb.log")
}

// FindLogFile returns explicit if it exists, else the default log path.
func FindLogFile(explicit string) (string, error) {
	candidate := explicit
	if candidate == "" {
		candidate = DefaultLogPath()
	}
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("log file not found: %s", candidate)
	}
	return candidate, nil
}
