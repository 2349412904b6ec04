package progress

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labtty/runtime/internal/events"
)

func appendEvent(t *testing.T, path string, ev events.UnifiedEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	require.NoError(t, err)
}

func TestUpdaterFoldsSessionLifecycleIntoRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	registry := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))

	u, err := NewUpdater(path, registry, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = u.Run(ctx)
		close(done)
	}()

	now := time.Now()
	started, err := json.Marshal(events.SessionStartedPayload{
		ModuleID: "m1", LabType: "linux_cli", StudentID: "alice",
	})
	require.NoError(t, err)
	appendEvent(t, path, events.UnifiedEvent{
		SessionID: "sess-1", EventType: events.EventSessionStarted,
		Timestamp: now, Payload: started,
	})

	require.Eventually(t, func() bool {
		_, ok := registry.Get("alice")
		return ok
	}, time.Second, 10*time.Millisecond)

	completed, err := json.Marshal(events.TaskCompletedPayload{StepID: "step-a", Source: events.SignalSourceCommand})
	require.NoError(t, err)
	appendEvent(t, path, events.UnifiedEvent{
		SessionID: "sess-1", EventType: events.EventTaskCompleted,
		Timestamp: now.Add(time.Second), Payload: completed,
	})

	require.Eventually(t, func() bool {
		sp, _ := registry.Get("alice")
		return len(sp.Sessions) == 1 && len(sp.Sessions[0].CompletedSteps) == 1
	}, time.Second, 10*time.Millisecond)

	appendEvent(t, path, events.UnifiedEvent{
		SessionID: "sess-1", EventType: events.EventSessionEnded,
		Timestamp: now.Add(2 * time.Second),
	})

	require.Eventually(t, func() bool {
		sp, _ := registry.Get("alice")
		return sp.Sessions[0].EndedAt != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestUpdaterIgnoresTaskCompletedForUnknownSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	registry := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))

	u, err := NewUpdater(path, registry, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = u.Run(ctx)
		close(done)
	}()

	completed, err := json.Marshal(events.TaskCompletedPayload{StepID: "step-a", Source: events.SignalSourceCommand})
	require.NoError(t, err)
	appendEvent(t, path, events.UnifiedEvent{
		SessionID: "unknown-session", EventType: events.EventTaskCompleted,
		Timestamp: time.Now(), Payload: completed,
	})

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, registry.Count())

	cancel()
	<-done
}
