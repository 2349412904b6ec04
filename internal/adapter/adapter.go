// Package adapter provides per-labType normalization (C6): turning raw
// evidence records into UnifiedEvents and, where a rule matches, a
// CompletionSignal.
package adapter

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/labtty/runtime/internal/evidence"
	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/rules"
)

// Result is what an Adapter method returns for one input record: the
// UnifiedEvent to forward to telemetry, and an optional
// CompletionSignal if this record completes a step.
type Result struct {
	Events  []events.UnifiedEvent
	Signals []events.CompletionSignal
}

// Adapter normalizes one lab type's evidence into the unified event
// stream. Implementations are stateless except for a per-step
// "already-signaled" set that lives for the session (spec §4.4).
type Adapter interface {
	// Name identifies the adapter's lab type.
	Name() module.LabType

	// Command normalizes a CommandRecord.
	Command(rec evidence.CommandRecord) Result

	// Check normalizes a CheckRecord.
	Check(rec evidence.CheckRecord) Result

	// Tutor normalizes a TutorUtterance. Never produces a
	// CompletionSignal (spec §9 Open Question 1).
	Tutor(rec evidence.TutorUtterance) Result
}

// signaled is the per-step "already-signaled" dedup set shared by every
// Adapter implementation below.
type signaled struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newSignaled() *signaled {
	return &signaled{seen: make(map[string]bool)}
}

// markFirst reports whether stepID has not been signaled yet, and
// marks it signaled if so. Only the first call for a given stepID
// returns true.
func (s *signaled) markFirst(stepID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[stepID] {
		return false
	}
	s.seen[stepID] = true
	return true
}

func payload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return json.RawMessage(b)
}

func tutorEvent(sessionID string, labType module.LabType, rec evidence.TutorUtterance) events.UnifiedEvent {
	return events.UnifiedEvent{
		SessionID: sessionID,
		LabType:   labType,
		EventType: events.EventTutorUtterance,
		Timestamp: rec.Timestamp,
		Payload: payload(events.TutorUtterancePayload{
			Text:   rec.Text,
			TurnID: rec.TurnID,
		}),
	}
}

// New returns the Adapter for labType.
func New(labType module.LabType, sessionID string, rs *rules.RuleSet) Adapter {
	switch labType {
	case module.LabTypePython:
		return NewPythonAdapter(sessionID, rs)
	case module.LabTypeSplunk:
		return NewSplunkAdapter(sessionID, rs)
	default:
		return NewLinuxCLIAdapter(sessionID, rs)
	}
}

func checkSignal(rec evidence.CheckRecord, seen *signaled) []events.CompletionSignal {
	if rec.Status != evidence.CheckStatusPassed {
		return nil
	}
	if !seen.markFirst(rec.StepID) {
		return nil
	}
	return []events.CompletionSignal{{
		StepID: rec.StepID,
		Source: events.SignalSourceCheck,
		At:     time.Now().UTC(),
	}}
}
