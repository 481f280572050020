// Package paths provides XDG-compliant path resolution for meetbot.
//
// Resolution order:
// 1. MEETBOT_HOME (portable root) → $MEETBOT_HOME/{config,state,cache,run}
// 2. XDG env vars → $XDG_*_HOME/meetbot
// 3. Platform defaults → ~/.config/meetbot, ~/.local/state/meetbot, etc.
package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/grovetools/meetbot/util/sanitize"
)

const appName = "meetbot"

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("MEETBOT_HOME"); home != "" {
		return filepath.Join(home, "config")
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
	if home := os.Getenv("MEETBOT_HOME"); home != "" {
		return filepath.Join(home, "state")
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
	if home := os.Getenv("MEETBOT_HOME"); home != "" {
		return filepath.Join(home, "cache")
	}
	if xdgCacheHome := os.Getenv("XDG_CACHE_HOME"); xdgCacheHome != "" {
		return xdgCacheHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".cache")
	}
	return ""
}

// ConfigDir returns the meetbot configuration directory.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// StateDir returns the meetbot state directory.
// Used for logs, pid files and the last-session record.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// LogDir returns the directory holding component log files.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// CacheDir returns the meetbot cache directory.
// Temporary recording artifacts live here until they are uploaded.
func CacheDir() string {
	base := getCacheHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// ArtifactDir returns the directory for in-progress recording artifacts.
func ArtifactDir() string {
	return filepath.Join(CacheDir(), "artifacts")
}

// RuntimeDir returns the meetbot runtime directory for sockets.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("MEETBOT_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// SocketPath returns the control socket path for a bot.
func SocketPath(botID string) string {
	return filepath.Join(RuntimeDir(), fmt.Sprintf("%s-%s.sock", appName, instanceName(botID)))
}

// PidFilePath returns the PID file path for a bot.
func PidFilePath(botID string) string {
	return filepath.Join(StateDir(), fmt.Sprintf("%s-%s.pid", appName, instanceName(botID)))
}

func instanceName(botID string) string {
	name := sanitize.ForFileName(botID)
	if name == "" {
		return "default"
	}
	return name
}

// EnsureDirs creates all meetbot directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		LogDir(),
		CacheDir(),
		ArtifactDir(),
		RuntimeDir(),
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
