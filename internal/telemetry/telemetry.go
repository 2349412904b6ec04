// Package telemetry implements the Telemetry Logger (C8): a durable
// NDJSON sink for UnifiedEvents, with a bounded in-memory ring that
// stays readable even when the file sink is degraded.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/resilience"
)

// minRingSize is the lower bound the spec places on the in-memory ring
// (spec §4.6: "bounded, >= 1024 entries").
const minRingSize = 1024

// Logger appends one NDJSON record per UnifiedEvent to telemetry.jsonl
// and mirrors every record into a bounded ring buffer. The file is the
// source of truth; the ring exists so tests and degraded-mode readers
// can observe recent events without re-reading the file.
type Logger struct {
	logger arbor.ILogger
	breaker *resilience.CircuitBreaker

	mu       sync.Mutex
	file     *os.File
	ring     []events.UnifiedEvent
	ringHead int
	ringLen  int
	degraded bool
}

// New opens (creating if absent) path for append and returns a Logger
// with a ring buffer of at least minRingSize entries.
func New(path string, logger arbor.ILogger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry log %s: %w", path, err)
	}

	return &Logger{
		logger:  logger,
		breaker: resilience.New(resilience.Config{FailureThreshold: 3}),
		file:    f,
		ring:    make([]events.UnifiedEvent, minRingSize),
	}, nil
}

// Append writes ev to telemetry.jsonl and the in-memory ring. On a
// persistent write failure (the circuit breaker trips) the write is
// skipped and the event is retained only in the ring — spec §7:
// "persistent telemetry failure demotes to in-memory ring."
func (l *Logger) Append(ev events.UnifiedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.addToRing(ev)

	if !l.breaker.Allow() {
		l.degraded = true
		return nil
	}

	line, err := json.Marshal(ev)
	if err != nil {
		l.breaker.RecordFailure()
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		l.breaker.RecordFailure()
		l.degraded = true
		if l.logger != nil {
			l.logger.Error().Err(err).Str("session_id", ev.SessionID).Msg("telemetry append failed, demoting to in-memory ring")
		}
		return err
	}
	if err := l.file.Sync(); err != nil {
		l.breaker.RecordFailure()
		return err
	}

	l.breaker.RecordSuccess()
	l.degraded = false
	return nil
}

func (l *Logger) addToRing(ev events.UnifiedEvent) {
	idx := (l.ringHead + l.ringLen) % len(l.ring)
	l.ring[idx] = ev
	if l.ringLen < len(l.ring) {
		l.ringLen++
	} else {
		l.ringHead = (l.ringHead + 1) % len(l.ring)
	}
}

// Recent returns up to n of the most recently appended events, oldest
// first, drawn from the in-memory ring.
func (l *Logger) Recent(n int) []events.UnifiedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.ringLen {
		n = l.ringLen
	}
	out := make([]events.UnifiedEvent, n)
	start := l.ringLen - n
	for i := 0; i < n; i++ {
		idx := (l.ringHead + start + i) % len(l.ring)
		out[i] = l.ring[idx]
	}
	return out
}

// Degraded reports whether the file sink is currently failing and
// writes are being retained only in the ring.
func (l *Logger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// Close flushes and closes the underlying file. Safe to call once at
// session shutdown.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
