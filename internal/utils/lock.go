package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"
)

const (
	lockFileSuffix = ".lock"
)

var unsafeLockChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ServerLock is a file-based lock guarding task execution for one search
// server. It is exclusive across processes and across separate ServerLock
// values in the same process.
type ServerLock struct {
	lock *flock.Flock
	path string
}

// NewServerLock creates a lock for serverID inside dir.
func NewServerLock(dir, serverID string) (*ServerLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create lock dir %s: %w", dir, err)
	}
	name := "server-" + unsafeLockChars.ReplaceAllString(serverID, "_") + lockFileSuffix
	lockPath := filepath.Join(dir, name)
	return &ServerLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

// TryLock acquires the lock without waiting. locked is false if another
// holder owns it.
func (l *ServerLock) TryLock() (locked bool, err error) {
	locked, err = l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	return locked, nil
}

// Unlock releases the lock.
func (l *ServerLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		// Suppress error if the lock file doesn't exist, as it means we don't hold the lock.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (l *ServerLock) Path() string { return l.path }

// GetAbsDBPath resolves the database path.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "searchtrack", "searchtrack.sqlite"), nil
	}
	return filepath.Abs(dbPath)
}
