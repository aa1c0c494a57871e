package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.imsgd.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".imsgd")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// StoreDBPath returns the normalized messages.db path for a session.
func StoreDBPath(name string) string {
	return filepath.Join(Dir(name), "messages.db")
}

// SnapshotPath returns the default location of the chat.db snapshot the
// external copier drops for this session. A config snapshot_path overrides it.
func SnapshotPath(name string) string {
	return filepath.Join(Dir(name), "snapshot.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "imsgd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
