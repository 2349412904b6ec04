package progress

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartSessionCreatesStudentRecord(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	now := time.Now()

	r.StartSession("alice", "sess-1", "linux-user-management", now)

	sp, ok := r.Get("alice")
	require.True(t, ok)
	require.Len(t, sp.Sessions, 1)
	require.Equal(t, "sess-1", sp.Sessions[0].SessionID)
	require.Equal(t, "linux-user-management", sp.Sessions[0].ModuleID)
}

func TestCompleteStepIsIdempotent(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	now := time.Now()
	r.StartSession("alice", "sess-1", "m1", now)

	r.CompleteStep("alice", "sess-1", "step-a", now)
	r.CompleteStep("alice", "sess-1", "step-a", now)

	sp, _ := r.Get("alice")
	require.Equal(t, []string{"step-a"}, sp.Sessions[0].CompletedSteps)
}

func TestCompleteStepUnknownStudentIsNoop(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	r.CompleteStep("nobody", "sess-1", "step-a", time.Now())
	require.Equal(t, 0, r.Count())
}

func TestEndSessionSetsEndedAt(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	now := time.Now()
	r.StartSession("alice", "sess-1", "m1", now)

	r.EndSession("alice", "sess-1", now.Add(time.Minute))

	sp, _ := r.Get("alice")
	require.NotNil(t, sp.Sessions[0].EndedAt)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	now := time.Now()

	r := NewRegistry(path)
	r.StartSession("alice", "sess-1", "m1", now)
	r.CompleteStep("alice", "sess-1", "step-a", now)
	require.NoError(t, r.Save())

	r2 := NewRegistry(path)
	require.NoError(t, r2.Load())

	sp, ok := r2.Get("alice")
	require.True(t, ok)
	require.Equal(t, []string{"step-a"}, sp.Sessions[0].CompletedSteps)
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, r.Load())
	require.Equal(t, 0, r.Count())
}

func TestListReturnsAllStudents(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	now := time.Now()
	r.StartSession("alice", "sess-1", "m1", now)
	r.StartSession("bob", "sess-2", "m1", now)

	require.Len(t, r.List(), 2)
	require.Equal(t, 2, r.Count())
}
