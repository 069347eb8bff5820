// Package paths provides XDG-compliant path resolution for statehub.
//
// Resolution order:
// 1. STATEHUB_HOME (portable root) → $STATEHUB_HOME/{config,state,cache}
// 2. XDG env vars → $XDG_*_HOME/statehub
// 3. Platform defaults → ~/.config/statehub, ~/.local/state/statehub, etc.
package paths

import (
	"os"
	"path/filepath"
)

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if hubHome := os.Getenv("STATEHUB_HOME"); hubHome != "" {
		return filepath.Join(hubHome, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if hubHome := os.Getenv("STATEHUB_HOME"); hubHome != "" {
		return filepath.Join(hubHome, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// getCacheHome returns the base cache home directory.
func getCacheHome() string {
	if hubHome := os.Getenv("STATEHUB_HOME"); hubHome != "" {
		return filepath.Join(hubHome, "cache")
	}
	if xdgCacheHome := os.Getenv("XDG_CACHE_HOME"); xdgCacheHome != "" {
		return xdgCacheHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".cache")
	}
	return ""
}

// ConfigDir returns the statehub configuration directory.
// Used for config files like statehub.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "statehub")
}

// StateDir returns the statehub state directory.
// Used for runtime state, pidfiles, logs.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "statehub")
}

// CacheDir returns the statehub cache directory.
func CacheDir() string {
	base := getCacheHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "statehub")
}

// LogsDir returns the directory for daemon and client log files.
func LogsDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// PidFilePath returns the path to the statehub daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "hubd.pid")
}

// ConfigFilePath returns the path to the default statehub.yml.
func ConfigFilePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "statehub.yml")
}

// EnsureDirs creates all statehub directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		CacheDir(),
		LogsDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
