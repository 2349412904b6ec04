// Package state implements the State Writer (C9): it owns state.json,
// the materialized snapshot of step completion that the VTA UI and
// tutor read as plain files.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/resilience"
)

// Writer owns state.json for one session: it reads the current
// snapshot, flips a step to completed, and writes it back atomically
// (temp file + rename) so readers never observe a partial write.
type Writer struct {
	path    string
	logger  arbor.ILogger
	breaker *resilience.CircuitBreaker

	mu       sync.Mutex
	snapshot events.StateSnapshot
	draining bool
}

// New creates a Writer for the given module's ordered steps, all
// initially incomplete, and writes the initial snapshot to path.
func New(path string, m *module.Module, logger arbor.ILogger) (*Writer, error) {
	steps := make([]events.StepState, len(m.Steps))
	for i, s := range m.Steps {
		steps[i] = events.StepState{ID: s.ID, Completed: false}
	}

	w := &Writer{
		path:    path,
		logger:  logger,
		breaker: resilience.New(resilience.Config{FailureThreshold: 3}),
		snapshot: events.StateSnapshot{
			Version:     1,
			LastUpdated: time.Now().UTC(),
			Steps:       steps,
		},
	}

	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("write initial state: %w", err)
	}
	return w, nil
}

// Complete marks stepID completed by the given signal source, if it is
// not already (I1: monotonic completion — once complete, always
// complete for the rest of the session). Returns whether the step
// transitioned (false if it was already complete or unknown).
func (w *Writer) Complete(stepID string, source events.SignalSource, at time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for i := range w.snapshot.Steps {
		if w.snapshot.Steps[i].ID != stepID {
			continue
		}
		if w.snapshot.Steps[i].Completed {
			return false, nil
		}
		at := at
		w.snapshot.Steps[i].Completed = true
		w.snapshot.Steps[i].CompletedAt = &at
		w.snapshot.Steps[i].CompletedBy = source
		changed = true
		break
	}
	if !changed {
		return false, nil
	}

	w.snapshot.LastUpdated = time.Now().UTC()
	if err := w.flush(); err != nil {
		return true, err
	}
	return true, nil
}

// Snapshot returns a copy of the current state.
func (w *Writer) Snapshot() events.StateSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot
}

// Draining reports whether persistent write failure has triggered
// draining (spec §7: "persistent state failure triggers draining").
func (w *Writer) Draining() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draining
}

// flush writes the current snapshot to a temp sibling and renames it
// over path, so readers can never observe a partially-written file.
// Callers must hold w.mu.
func (w *Writer) flush() error {
	if !w.breaker.Allow() {
		w.draining = true
		return fmt.Errorf("state writer circuit open, degrading to draining")
	}

	data, err := json.MarshalIndent(w.snapshot, "", "  ")
	if err != nil {
		w.breaker.RecordFailure()
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		w.breaker.RecordFailure()
		w.draining = true
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		w.breaker.RecordFailure()
		w.draining = true
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		w.breaker.RecordFailure()
		w.draining = true
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		w.breaker.RecordFailure()
		w.draining = true
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		w.breaker.RecordFailure()
		w.draining = true
		if w.logger != nil {
			w.logger.Error().Err(err).Str("path", w.path).Msg("state rename failed, draining")
		}
		return fmt.Errorf("rename state file: %w", err)
	}

	w.breaker.RecordSuccess()
	w.draining = false
	return nil
}
