// Package events holds the unified event stream types the Event Hub
// (C7) emits downstream, and the internal completion-signal and
// state-snapshot types that drive it.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/labtty/runtime/internal/module"
)

// EventType discriminates UnifiedEvent's payload.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventStudentAction   EventType = "student_action"
	EventTaskCompleted   EventType = "task_completed"
	EventSessionEnded    EventType = "session_ended"
	EventTutorUtterance  EventType = "tutor_utterance"
	EventCommandExecuted EventType = "command_executed" // legacy, linux_cli only
)

// ActionResult is the outcome of a student_action payload.
type ActionResult string

const (
	ActionResultSuccess ActionResult = "success"
	ActionResultFailure ActionResult = "failure"
)

// UnifiedEvent is the normalized record the Event Hub emits to the
// Telemetry Logger (C8) for every piece of evidence it processes.
type UnifiedEvent struct {
	SessionID string          `json:"sessionId"`
	LabType   module.LabType  `json:"labType"`
	EventType EventType       `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// StudentActionPayload is the payload of an EventStudentAction (and,
// for linux_cli, the dual-written EventCommandExecuted) event.
type StudentActionPayload struct {
	ActionKind string       `json:"actionKind"`
	Action     string       `json:"action"`
	Result     ActionResult `json:"result"`
}

// SessionStartedPayload is the payload of an EventSessionStarted event.
type SessionStartedPayload struct {
	ModuleID  string         `json:"moduleId"`
	LabType   module.LabType `json:"labType"`
	StudentID string         `json:"studentId"`
}

// TaskCompletedPayload is the payload of an EventTaskCompleted event.
type TaskCompletedPayload struct {
	StepID string       `json:"stepId"`
	Source SignalSource `json:"source"`
}

// TutorUtterancePayload is the payload of an EventTutorUtterance event.
type TutorUtterancePayload struct {
	Text   string `json:"text"`
	TurnID string `json:"turnId"`
}

// SignalSource identifies which evidence kind produced a
// CompletionSignal.
type SignalSource string

const (
	SignalSourceCommand SignalSource = "command"
	SignalSourceCheck   SignalSource = "check"
	SignalSourceTutor   SignalSource = "tutor"
)

// CompletionSignal is produced by the Adapter (C6) and consumed by the
// Event Hub (C7); it is internal and never serialized directly. A
// signal is delivered at most once per (sessionId, stepId) — see I4.
type CompletionSignal struct {
	StepID string
	Source SignalSource
	At     time.Time
}

// StepState is one entry of a StateSnapshot.
type StepState struct {
	ID          string       `json:"id"`
	Completed   bool         `json:"completed"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	CompletedBy SignalSource `json:"completedBy,omitempty"`
}

// StateSnapshot is the State Writer's (C9) on-disk representation,
// state.json.
type StateSnapshot struct {
	Version     int         `json:"version"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Steps       []StepState `json:"steps"`
}

// DedupKey computes the 1-second dedup window key for a
// (eventType, payload) pair, per I3: "two source records that would
// produce identical student_action payloads within 1s collapse to one
// event." The timestamp is deliberately excluded from the hash; the
// window itself is enforced by the caller's time-bucketed cache.
func DedupKey(eventType EventType, payload []byte) string {
	h := sha256.Sum256(payload)
	return string(eventType) + ":" + hex.EncodeToString(h[:])
}
