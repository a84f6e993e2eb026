package lifecycle

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func paths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "consume.pid"), filepath.Join(dir, "consume.pid.lock")
}

func TestStartWritesFreshPIDRecord(t *testing.T) {
	pidPath, lockPath := paths(t)
	m := New(pidPath, lockPath)

	rec, err := m.Start(7731)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.PID != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), rec.PID)
	}
	if rec.InstanceID == "" {
		t.Fatalf("expected nonempty instance id")
	}
	m.Cleanup()

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed after cleanup")
	}
}

func TestStalePIDFileTreatedAsAbsent(t *testing.T) {
	pidPath, lockPath := paths(t)
	if err := os.WriteFile(pidPath, []byte(`{"pid":999999,"started_at":"2020-01-01T00:00:00Z","instance_id":"x","port":1}`), 0o644); err != nil {
		t.Fatalf("seed stale pid file: %v", err)
	}

	m := New(pidPath, lockPath)
	rec, err := m.Start(7731)
	if err != nil {
		t.Fatalf("start should succeed over stale pid file: %v", err)
	}
	if rec.PID != os.Getpid() {
		t.Fatalf("expected fresh pid %d, got %d", os.Getpid(), rec.PID)
	}
	m.Cleanup()
}

func TestSecondStartFailsWhileFirstHoldsLock(t *testing.T) {
	pidPath, lockPath := paths(t)
	first := New(pidPath, lockPath)
	if _, err := first.Start(7731); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer first.Cleanup()

	second := New(pidPath, lockPath)
	if _, err := second.Start(7731); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	pidPath, lockPath := paths(t)
	m := New(pidPath, lockPath)
	if _, err := m.Start(7731); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Cleanup()

	m.Stop()
	m.Stop() // must not panic on double-close

	select {
	case <-m.ShutdownRequested():
	default:
		t.Fatalf("expected shutdown requested channel closed")
	}
}

func TestInvalidJSONPIDFileTreatedAsAbsent(t *testing.T) {
	pidPath, lockPath := paths(t)
	if err := os.WriteFile(pidPath, []byte("not json "+strconv.Itoa(1)), 0o644); err != nil {
		t.Fatalf("seed invalid pid file: %v", err)
	}
	m := New(pidPath, lockPath)
	if _, err := m.Start(7731); err != nil {
		t.Fatalf("start should succeed over invalid pid file: %v", err)
	}
	m.Cleanup()
}
