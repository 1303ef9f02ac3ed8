package proc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LockFile is the advisory on-disk lock. It exists while the server is
// supposed to be running; present with no process means a crash, not a
// clean stop. It is the sole local exclusion mechanism against a second
// server instance on this node.
type LockFile struct {
	path string
}

// NewLockFile creates a lock handle for the given path.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// Path returns the lock file location.
func (l *LockFile) Path() string {
	return l.path
}

// Present reports whether the lock file exists.
func (l *LockFile) Present() (bool, error) {
	_, err := os.Stat(l.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat lock file: %w", err)
}

// Create writes the lock file recording the server PID. Rewriting an
// existing lock is fine: actions must be idempotent after aborted attempts.
func (l *LockFile) Create(pid int) error {
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	return nil
}

// Release removes the lock file. A missing lock is success.
func (l *LockFile) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock file: %w", err)
	}
	return nil
}

// PID returns the PID recorded in the lock, or 0 when absent.
func (l *LockFile) PID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read lock file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed lock file %s: %w", l.path, err)
	}
	return pid, nil
}

// TransitionFile records an in-flight start or stop so the probe can tell
// "server gone" from "transition under way". Stale markers (no matching
// process) are ignored by readers.
type TransitionFile struct {
	path string
}

// NewTransitionFile creates a transition marker handle.
func NewTransitionFile(path string) *TransitionFile {
	return &TransitionFile{path: path}
}

// Set records the transition ("starting" or "stopping").
func (t *TransitionFile) Set(transition string) error {
	if err := os.WriteFile(t.path, []byte(transition+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write transition marker: %w", err)
	}
	return nil
}

// Clear removes the marker. A missing marker is success.
func (t *TransitionFile) Clear() error {
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear transition marker: %w", err)
	}
	return nil
}

// Get reads the marker; empty when none is recorded.
func (t *TransitionFile) Get() (string, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read transition marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// PersonalityFile is the marker read by the external config generator
// whenever the configured role of this node changes.
type PersonalityFile struct {
	path string
}

// NewPersonalityFile creates a personality marker handle.
func NewPersonalityFile(path string) *PersonalityFile {
	return &PersonalityFile{path: path}
}

// Set writes the personality marker.
func (p *PersonalityFile) Set(personality string) error {
	if err := os.WriteFile(p.path, []byte(personality+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write personality marker: %w", err)
	}
	return nil
}

// Get reads the personality marker; empty when the marker does not exist.
func (p *PersonalityFile) Get() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read personality marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
