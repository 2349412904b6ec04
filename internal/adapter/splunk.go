package adapter

import (
	"time"

	"github.com/labtty/runtime/internal/evidence"
	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/rules"
)

// SplunkAdapter normalizes evidence for splunk modules: CommandRecords
// become student_action events only, with no legacy dual-write.
type SplunkAdapter struct {
	sessionID string
	rs        *rules.RuleSet
	signaled  *signaled
}

// NewSplunkAdapter creates a SplunkAdapter for one session.
func NewSplunkAdapter(sessionID string, rs *rules.RuleSet) *SplunkAdapter {
	return &SplunkAdapter{sessionID: sessionID, rs: rs, signaled: newSignaled()}
}

// Name identifies this adapter's lab type.
func (a *SplunkAdapter) Name() module.LabType { return module.LabTypeSplunk }

// Command turns a CommandRecord into a single student_action event and,
// on first Pattern/UserOnly match for the (session, stepId), a
// CompletionSignal{source=command}.
func (a *SplunkAdapter) Command(rec evidence.CommandRecord) Result {
	studentAction := events.StudentActionPayload{
		ActionKind: "execute_command",
		Action:     rec.Command,
		Result:     ActionResult(rec),
	}

	r := Result{
		Events: []events.UnifiedEvent{{
			SessionID: a.sessionID,
			LabType:   module.LabTypeSplunk,
			EventType: events.EventStudentAction,
			Timestamp: rec.Timestamp,
			Payload:   payload(studentAction),
		}},
	}

	if a.rs != nil {
		if matched, ok := a.rs.Match(rec.Command, rec.User); ok {
			if a.signaled.markFirst(matched.StepID) {
				r.Signals = append(r.Signals, events.CompletionSignal{
					StepID: matched.StepID,
					Source: events.SignalSourceCommand,
					At:     time.Now().UTC(),
				})
			}
		}
	}

	return r
}

// Check turns a passed CheckRecord into a CompletionSignal{source=check},
// deduplicated by stepId.
func (a *SplunkAdapter) Check(rec evidence.CheckRecord) Result {
	return Result{Signals: checkSignal(rec, a.signaled)}
}

// Tutor turns a TutorUtterance into a tutor_utterance event. Never a
// CompletionSignal.
func (a *SplunkAdapter) Tutor(rec evidence.TutorUtterance) Result {
	return Result{Events: []events.UnifiedEvent{tutorEvent(a.sessionID, module.LabTypeSplunk, rec)}}
}
