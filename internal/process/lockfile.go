//go:build !windows
// +build !windows

// Package process guards against concurrent engine instances. Two serve
// loops appending to the same segment files would corrupt the store, so
// the engine takes an exclusive flock on a PID file before starting.
package process

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"hwpulse/internal/logger"
)

// LockFile represents an exclusive lock on a PID file
type LockFile struct {
	path string
	fd   int
}

// getPIDFilePath returns the PID file path.
// Variable (not function) to allow override in tests
var getPIDFilePath = func() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "hwpulse.pid")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		runDir := filepath.Join(home, ".local", "run")
		os.MkdirAll(runDir, 0755)
		return filepath.Join(runDir, "hwpulse.pid")
	}

	return fmt.Sprintf("/tmp/hwpulse-%d.pid", os.Getuid())
}

// Acquire creates and locks the PID file atomically.
// Returns an error if another instance already holds the lock.
func Acquire() (*LockFile, error) {
	pidFile := getPIDFilePath()

	dir := filepath.Dir(pidFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}

	fd, err := syscall.Open(pidFile, syscall.O_RDWR|syscall.O_CREAT, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open PID file: %w", err)
	}

	// Non-blocking exclusive lock. A live engine holds the flock for its
	// whole lifetime, so failure here means another instance is running.
	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		syscall.Close(fd)

		if isStale, stalePID := checkStaleLock(pidFile); isStale {
			logger.Info("cleaning up stale PID file (process %d no longer exists)", stalePID)
			os.Remove(pidFile)
			return Acquire()
		}

		pid, _ := lockHolder(pidFile)
		return nil, fmt.Errorf("another hwpulse instance is already running (PID %d)", pid)
	}

	if err := syscall.Ftruncate(fd, 0); err != nil {
		syscall.Flock(fd, syscall.LOCK_UN)
		syscall.Close(fd)
		return nil, fmt.Errorf("failed to truncate PID file: %w", err)
	}

	pid := fmt.Sprintf("%d\n", os.Getpid())
	if _, err := syscall.Write(fd, []byte(pid)); err != nil {
		syscall.Flock(fd, syscall.LOCK_UN)
		syscall.Close(fd)
		return nil, fmt.Errorf("failed to write PID: %w", err)
	}

	logger.Info("acquired PID file lock: %s (PID %d)", pidFile, os.Getpid())

	// The fd stays open to hold the lock.
	return &LockFile{path: pidFile, fd: fd}, nil
}

// Release releases the lock and removes the PID file.
func (lf *LockFile) Release() error {
	if lf.fd <= 0 {
		return nil
	}

	syscall.Flock(lf.fd, syscall.LOCK_UN)
	syscall.Close(lf.fd)
	os.Remove(lf.path)

	lf.fd = 0
	return nil
}

// Check reports whether another instance holds the lock.
// Returns: (isRunning bool, pid int, error)
func Check() (bool, int, error) {
	pidFile := getPIDFilePath()

	fd, err := syscall.Open(pidFile, syscall.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("failed to open PID file: %w", err)
	}
	defer syscall.Close(fd)

	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		pid := readPIDFromFd(fd)
		return true, pid, nil
	}

	// Lock succeeded, so the file is stale.
	syscall.Flock(fd, syscall.LOCK_UN)
	return false, 0, nil
}

// checkStaleLock reports whether the PID file is stale (no process holds
// the lock). Returns: (isStale bool, pid int)
func checkStaleLock(pidFile string) (bool, int) {
	fd, err := syscall.Open(pidFile, syscall.O_RDONLY, 0)
	if err != nil {
		return false, 0
	}
	defer syscall.Close(fd)

	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return false, 0
	}

	syscall.Flock(fd, syscall.LOCK_UN)
	pid := readPIDFromFd(fd)
	return true, pid
}

// lockHolder reads the PID recorded in a locked PID file.
func lockHolder(pidFile string) (int, error) {
	fd, err := syscall.Open(pidFile, syscall.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer syscall.Close(fd)
	return readPIDFromFd(fd), nil
}

// readPIDFromFd reads the PID from an open file descriptor.
func readPIDFromFd(fd int) int {
	buf := make([]byte, 32)
	n, err := syscall.Read(fd, buf)
	if err != nil || n == 0 {
		return 0
	}

	var pid int
	fmt.Sscanf(string(buf[:n]), "%d", &pid)
	return pid
}
