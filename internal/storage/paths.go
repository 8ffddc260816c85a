package storage

import (
	"os"
	"path/filepath"
)

const appDir = ".grpcsim"

// DefaultStoragePath returns the default storage location
// Platform-specific paths:
//   - macOS/Linux: ~/.grpcsim
//   - Windows: %USERPROFILE%\.grpcsim
func DefaultStoragePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDir), nil
}
