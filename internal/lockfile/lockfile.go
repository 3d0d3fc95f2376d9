// Package lockfile guards the state directory against concurrent almanac
// processes with an advisory flock. The kernel drops the lock when the
// process exits, so a crash never leaves the directory wedged.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is created inside the state directory.
const LockFileName = "almanac.lock"

// Lock is a held state-directory lock.
type Lock struct {
	file *os.File
	path string
}

// HeldError reports a lock already held by another process.
type HeldError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("state directory is locked by another almanac process (lock file %s", e.Path)
	if e.Holder != "" {
		msg += ", held by " + e.Holder
	}
	return msg + ")"
}

func (e *HeldError) Unwrap() error { return e.Cause }

// Acquire takes an exclusive non-blocking lock on the state directory.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s failed: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s failed: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := describeHolder(path)
		file.Close()
		slog.Error("state directory already locked", "path", path, "holder", holder)
		return nil, &HeldError{Path: path, Holder: holder, Cause: err}
	}

	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "pid=%d\n", os.Getpid())
		file.Sync()
	}
	slog.Debug("state directory lock acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Release drops the lock and removes the lock file. Safe to call twice.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("flock release failed", "path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("lock file close failed", "path", l.path, "error", err)
	}
	os.Remove(l.path)
	l.file = nil
	slog.Debug("state directory lock released", "path", l.path)
	return nil
}

// describeHolder reads the holder's pid out of an existing lock file.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	pid, ok := strings.CutPrefix(content, "pid=")
	if !ok {
		return content
	}
	n, err := strconv.Atoi(strings.TrimSpace(pid))
	if err != nil {
		return content
	}
	if processAlive(n) {
		return fmt.Sprintf("pid %d (running)", n)
	}
	return fmt.Sprintf("pid %d (gone)", n)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
