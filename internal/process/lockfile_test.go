//go:build !windows
// +build !windows

package process

import (
	"os"
	"strings"
	"testing"
)

func withTestPIDFile(t *testing.T) string {
	t.Helper()
	testPIDFile := t.TempDir() + "/hwpulse_test.pid"
	original := getPIDFilePath
	getPIDFilePath = func() string { return testPIDFile }
	t.Cleanup(func() { getPIDFilePath = original })
	return testPIDFile
}

func TestLockfileSingleInstance(t *testing.T) {
	withTestPIDFile(t)

	lock1, err := Acquire()
	if err != nil {
		t.Fatalf("first instance failed to acquire lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := Acquire()
	if err == nil {
		lock2.Release()
		t.Fatal("second instance should not have acquired the lock")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Errorf("expected already-running error, got: %v", err)
	}
}

func TestLockfileReleaseAndReacquire(t *testing.T) {
	testPIDFile := withTestPIDFile(t)

	lock1, err := Acquire()
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	lock1.Release()

	lock2, err := Acquire()
	if err != nil {
		t.Fatalf("failed to reacquire lock after release: %v", err)
	}
	defer lock2.Release()

	if _, err := os.Stat(testPIDFile); os.IsNotExist(err) {
		t.Error("PID file should exist after reacquisition")
	}
}

func TestLockfileCheck(t *testing.T) {
	withTestPIDFile(t)

	running, pid, err := Check()
	if err != nil {
		t.Errorf("Check should not error when no lock exists: %v", err)
	}
	if running {
		t.Error("Check should report not running when no lock exists")
	}
	if pid != 0 {
		t.Errorf("Check should report PID 0 when nothing runs, got %d", pid)
	}

	lock, err := Acquire()
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer lock.Release()

	running, pid, err = Check()
	if err != nil {
		t.Errorf("Check failed: %v", err)
	}
	if !running {
		t.Error("Check should report running while the lock is held")
	}
	if pid != os.Getpid() {
		t.Errorf("Check PID = %d, want %d", pid, os.Getpid())
	}
}

func TestLockfileStaleFileIsReclaimed(t *testing.T) {
	testPIDFile := withTestPIDFile(t)

	// A leftover PID file with no flock holder must not block startup.
	if err := os.WriteFile(testPIDFile, []byte("999999\n"), 0644); err != nil {
		t.Fatalf("failed to seed stale PID file: %v", err)
	}

	lock, err := Acquire()
	if err != nil {
		t.Fatalf("failed to acquire lock over stale PID file: %v", err)
	}
	defer lock.Release()
}
