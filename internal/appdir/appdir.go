// Package appdir locates the per-user directory where the iMCP host keeps its
// rendezvous port file, token snapshot, and server configuration.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// DirEnv overrides the resolved iMCP directory.
	DirEnv = "IMCP_DIR"

	// PortFileName is the name of the rendezvous port file (§4.A / §6).
	PortFileName = "server.port"

	// TokensFileName is the name of the on-disk Token Store snapshot.
	TokensFileName = "tokens.json"

	// ConfigFileName is the name of the server configuration file.
	ConfigFileName = "config.yaml"
)

var (
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the iMCP data directory:
//   - IMCP_DIR environment variable, if set
//   - macOS:   ~/Library/Application Support/iMCP
//   - Windows: %APPDATA%\iMCP
//   - other:   $XDG_DATA_HOME/imcp or ~/.local/share/imcp
//
// This only computes the path; it does not create the directory.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

func resolveDir() (string, error) {
	if envDir := os.Getenv(DirEnv); envDir != "" {
		return envDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "iMCP"), nil

	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "iMCP"), nil

	default:
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "imcp"), nil
	}
}

// EnsureDir creates the iMCP directory with owner-only permissions (0700),
// per spec.md §4.A / §6.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create iMCP directory %s: %w", dir, err)
	}
	// MkdirAll does not enforce mode on an already-existing directory.
	if err := os.Chmod(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to set permissions on %s: %w", dir, err)
	}
	return dir, nil
}

// PortFilePath returns the full path to the rendezvous port file.
func PortFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PortFileName), nil
}

// TokensFilePath returns the full path to the Token Store snapshot file.
func TokensFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, TokensFileName), nil
}

// ConfigFilePath returns the full path to the server configuration file.
func ConfigFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// ResetCache clears the cached directory path. Used by tests.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
