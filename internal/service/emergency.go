package service

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/digkill/picly/internal/metrics"
)

// EmergencyMode is a process-wide kill switch for paid engines, persisted as a flag file.
type EmergencyMode struct {
	mu     sync.RWMutex
	log    *slog.Logger
	path   string
	active bool
	reason string
	since  time.Time
	now    func() time.Time
}

type EmergencyStatus struct {
	Active bool       `json:"active"`
	Reason string     `json:"reason,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
}

func NewEmergencyMode(log *slog.Logger, path string) *EmergencyMode {
	return &EmergencyMode{
		log:  log.With(slog.String("component", "emergency")),
		path: path,
		now:  time.Now,
	}
}

// Load restores state from the flag file; a missing file means inactive.
func (e *EmergencyMode) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := os.ReadFile(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		e.set(false, "", time.Time{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read emergency flag: %w", err)
	}

	stamp, reason, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	since, err := time.Parse(time.RFC3339, strings.TrimSpace(stamp))
	if err != nil {
		since = e.now().UTC()
	}
	e.set(true, strings.TrimSpace(reason), since)
	e.log.Warn("emergency mode restored from flag file", "reason", e.reason, "since", since)
	return nil
}

// Activate writes the flag file. It reports false when the mode was already on.
func (e *EmergencyMode) Activate(reason string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return false, nil
	}
	now := e.now().UTC()
	content := now.Format(time.RFC3339) + "\n" + reason + "\n"
	if err := os.WriteFile(e.path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write emergency flag: %w", err)
	}
	e.set(true, reason, now)
	e.log.Error("EMERGENCY MODE ACTIVATED", "reason", reason)
	return true, nil
}

func (e *EmergencyMode) Deactivate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove emergency flag: %w", err)
	}
	if e.active {
		e.log.Info("emergency mode deactivated")
	}
	e.set(false, "", time.Time{})
	return nil
}

func (e *EmergencyMode) Active() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func (e *EmergencyMode) Status() EmergencyStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := EmergencyStatus{Active: e.active, Reason: e.reason}
	if e.active {
		since := e.since
		st.Since = &since
	}
	return st
}

func (e *EmergencyMode) set(active bool, reason string, since time.Time) {
	e.active, e.reason, e.since = active, reason, since
	if active {
		metrics.EmergencyMode.Set(1)
	} else {
		metrics.EmergencyMode.Set(0)
	}
}
