package adapter

import (
	"time"

	"github.com/labtty/runtime/internal/evidence"
	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/rules"
)

// PythonAdapter normalizes evidence for python modules: CommandRecords
// become student_action events only, with no legacy dual-write.
type PythonAdapter struct {
	sessionID string
	rs        *rules.RuleSet
	signaled  *signaled
}

// NewPythonAdapter creates a PythonAdapter for one session.
func NewPythonAdapter(sessionID string, rs *rules.RuleSet) *PythonAdapter {
	return &PythonAdapter{sessionID: sessionID, rs: rs, signaled: newSignaled()}
}

// Name identifies this adapter's lab type.
func (a *PythonAdapter) Name() module.LabType { return module.LabTypePython }

// Command turns a CommandRecord into a single student_action event and,
// on first Pattern/UserOnly match for the (session, stepId), a
// CompletionSignal{source=command}.
func (a *PythonAdapter) Command(rec evidence.CommandRecord) Result {
	studentAction := events.StudentActionPayload{
		ActionKind: "execute_command",
		Action:     rec.Command,
		Result:     ActionResult(rec),
	}

	r := Result{
		Events: []events.UnifiedEvent{{
			SessionID: a.sessionID,
			LabType:   module.LabTypePython,
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
func (a *PythonAdapter) Check(rec evidence.CheckRecord) Result {
	return Result{Signals: checkSignal(rec, a.signaled)}
}

// Tutor turns a TutorUtterance into a tutor_utterance event. Never a
// CompletionSignal.
func (a *PythonAdapter) Tutor(rec evidence.TutorUtterance) Result {
	return Result{Events: []events.UnifiedEvent{tutorEvent(a.sessionID, module.LabTypePython, rec)}}
}
