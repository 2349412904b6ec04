package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/module"
)

func testModule() *module.Module {
	return &module.Module{
		ID:      "m1",
		LabType: module.LabTypeLinuxCLI,
		Steps: []module.Step{
			{ID: "step-a"},
			{ID: "step-b"},
		},
	}
}

func TestNewWritesInitialIncompleteSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	w, err := New(path, testModule(), nil)
	require.NoError(t, err)

	snap := w.Snapshot()
	require.Len(t, snap.Steps, 2)
	for _, s := range snap.Steps {
		require.False(t, s.Completed)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk events.StateSnapshot
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk.Steps, 2)
}

func TestCompleteIsMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	w, err := New(path, testModule(), nil)
	require.NoError(t, err)

	changed, err := w.Complete("step-a", events.SignalSourceCommand, time.Now())
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = w.Complete("step-a", events.SignalSourceCheck, time.Now())
	require.NoError(t, err)
	require.False(t, changed, "already-complete step must not transition again")

	snap := w.Snapshot()
	for _, s := range snap.Steps {
		if s.ID == "step-a" {
			require.Equal(t, events.SignalSourceCommand, s.CompletedBy, "first writer wins")
		}
	}
}

func TestCompleteUnknownStepIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	w, err := New(path, testModule(), nil)
	require.NoError(t, err)

	changed, err := w.Complete("no-such-step", events.SignalSourceCommand, time.Now())
	require.NoError(t, err)
	require.False(t, changed)
}

func TestFlushIsAtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	w, err := New(path, testModule(), nil)
	require.NoError(t, err)

	_, err = w.Complete("step-b", events.SignalSourceTutor, time.Now())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".state-", "no temp file should remain after a successful flush")
	}
}
