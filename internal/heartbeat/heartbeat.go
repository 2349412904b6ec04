// Package heartbeat implements orphan detection (C11): periodically
// checks that the IPC socket file still exists, and declares the
// session orphaned after a run of consecutive misses.
package heartbeat

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Config configures a Heartbeat.
type Config struct {
	// SocketPath is the IPC socket file whose existence is probed.
	SocketPath string

	// Interval is how often the probe runs. Defaults to 30s.
	Interval time.Duration

	// MissThreshold is the number of consecutive misses before the
	// session is declared orphaned. Defaults to 3.
	MissThreshold int
}

// Heartbeat periodically probes for the IPC socket file and invokes a
// teardown callback after MissThreshold consecutive misses. Existence-
// based detection is used because the UI process owns the socket
// path's liveness in practice (spec §4.9).
type Heartbeat struct {
	cfg      Config
	logger   arbor.ILogger
	teardown func()

	mu           sync.Mutex
	missCount    int
	orphanCalled bool
}

// New creates a Heartbeat, applying defaults for any zero fields.
// teardown is invoked at most once, the first time the miss threshold
// is reached.
func New(cfg Config, logger arbor.ILogger, teardown func()) *Heartbeat {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MissThreshold == 0 {
		cfg.MissThreshold = 3
	}

	return &Heartbeat{
		cfg:      cfg,
		logger:   logger,
		teardown: teardown,
	}
}

// Run blocks, probing on Config.Interval, until ctx is cancelled or the
// orphan threshold is reached and teardown has been invoked.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.probe() {
				return
			}
		}
	}
}

// probe checks socket existence once, updates the miss counter, and
// returns true if it triggered teardown.
func (h *Heartbeat) probe() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.orphanCalled {
		return true
	}

	if _, err := os.Stat(h.cfg.SocketPath); err == nil {
		h.missCount = 0
		return false
	}

	h.missCount++
	if h.logger != nil {
		h.logger.Warn().
			Str("socket_path", h.cfg.SocketPath).
			Int("miss_count", h.missCount).
			Msg("heartbeat socket probe missed")
	}

	if h.missCount < h.cfg.MissThreshold {
		return false
	}

	h.orphanCalled = true
	if h.logger != nil {
		h.logger.Error().Str("socket_path", h.cfg.SocketPath).Msg("session declared orphaned, tearing down")
	}
	if h.teardown != nil {
		h.teardown()
	}
	return true
}

// MissCount returns the current consecutive-miss count, for tests and
// status reporting.
func (h *Heartbeat) MissCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.missCount
}
