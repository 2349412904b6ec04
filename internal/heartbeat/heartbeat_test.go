package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatNoMissWhenSocketExists(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "session.sock")
	require.NoError(t, os.WriteFile(sockPath, nil, 0644))

	var teardownCalled atomic.Bool
	hb := New(Config{SocketPath: sockPath, Interval: 5 * time.Millisecond, MissThreshold: 2},
		nil, func() { teardownCalled.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	hb.Run(ctx)

	require.False(t, teardownCalled.Load())
	require.Equal(t, 0, hb.MissCount())
}

func TestHeartbeatDeclaresOrphanAfterThreshold(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "does-not-exist.sock")

	done := make(chan struct{})
	hb := New(Config{SocketPath: sockPath, Interval: 5 * time.Millisecond, MissThreshold: 2},
		nil, func() { close(done) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	hb.Run(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("teardown was not invoked")
	}
	require.GreaterOrEqual(t, hb.MissCount(), 2)
}

func TestHeartbeatResetsOnRecovery(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "session.sock")

	hb := New(Config{SocketPath: sockPath, MissThreshold: 5}, nil, nil)

	hb.probe()
	hb.probe()
	require.Equal(t, 2, hb.MissCount())

	require.NoError(t, os.WriteFile(sockPath, nil, 0644))
	hb.probe()
	require.Equal(t, 0, hb.MissCount())
}
