// Package lifecycle owns the daemon's PID file, advisory lock, instance id,
// and graceful shutdown sequencing. Grounded in the devops supervisor's
// lock-dir single-instance guard, adapted to an advisory flock on a
// sibling lock file instead of a directory.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned by Start when another daemon holds the lock
// and its recorded PID is alive.
var ErrAlreadyRunning = errors.New("fuel: daemon already running")

// PIDRecord is the on-disk JSON shape of the PID file.
type PIDRecord struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	InstanceID string    `json:"instance_id"`
	Port       int       `json:"port"`
}

// Manager is the Lifecycle Manager component.
type Manager struct {
	pidPath  string
	lockPath string

	lockFile *os.File
	record   PIDRecord

	shutdownFlag chan struct{}
	shutdownOnce bool
}

// New constructs a Manager for the given PID/lock file paths.
func New(pidPath, lockPath string) *Manager {
	return &Manager{
		pidPath:      pidPath,
		lockPath:     lockPath,
		shutdownFlag: make(chan struct{}),
	}
}

// Start acquires the advisory lock, validates any existing PID file as
// stale-or-not, and writes a fresh PID record.
func (m *Manager) Start(port int) (PIDRecord, error) {
	lf, err := os.OpenFile(m.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return PIDRecord{}, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lf.Close()
		return PIDRecord{}, ErrAlreadyRunning
	}
	m.lockFile = lf

	if existing, err := readPIDFile(m.pidPath); err == nil {
		if !isProcessAlive(existing.PID) {
			_ = os.Remove(m.pidPath)
		}
	} else {
		_ = os.Remove(m.pidPath)
	}

	rec := PIDRecord{
		PID:        os.Getpid(),
		StartedAt:  time.Now(),
		InstanceID: uuid.NewString(),
		Port:       port,
	}
	if err := writePIDFile(m.pidPath, rec); err != nil {
		return PIDRecord{}, fmt.Errorf("write pid file: %w", err)
	}
	m.record = rec
	return rec, nil
}

// Stop sets the shutdown flag. Idempotent.
func (m *Manager) Stop() {
	if m.shutdownOnce {
		return
	}
	m.shutdownOnce = true
	close(m.shutdownFlag)
}

// ShutdownRequested returns a channel closed once Stop has been called.
func (m *Manager) ShutdownRequested() <-chan struct{} { return m.shutdownFlag }

// Cleanup deletes the PID file and releases the advisory lock.
func (m *Manager) Cleanup() {
	_ = os.Remove(m.pidPath)
	if m.lockFile != nil {
		_ = syscall.Flock(int(m.lockFile.Fd()), syscall.LOCK_UN)
		_ = m.lockFile.Close()
		_ = os.Remove(m.lockPath)
	}
}

// Record returns the PID record written by Start.
func (m *Manager) Record() PIDRecord { return m.record }

func readPIDFile(path string) (PIDRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PIDRecord{}, err
	}
	var rec PIDRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PIDRecord{}, err
	}
	if rec.PID == 0 {
		return PIDRecord{}, fmt.Errorf("pid field missing")
	}
	return rec, nil
}

func writePIDFile(path string, rec PIDRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
