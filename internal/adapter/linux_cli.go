package adapter

import (
	"time"

	"github.com/labtty/runtime/internal/evidence"
	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/rules"
)

// LinuxCLIAdapter normalizes evidence for linux_cli modules. Unlike
// PythonAdapter/SplunkAdapter, every CommandRecord is additionally
// dual-written as a legacy command_executed event (spec §4.4, §6).
type LinuxCLIAdapter struct {
	sessionID string
	rs        *rules.RuleSet
	signaled  *signaled
}

// NewLinuxCLIAdapter creates a LinuxCLIAdapter for one session.
func NewLinuxCLIAdapter(sessionID string, rs *rules.RuleSet) *LinuxCLIAdapter {
	return &LinuxCLIAdapter{sessionID: sessionID, rs: rs, signaled: newSignaled()}
}

// Name identifies this adapter's lab type.
func (a *LinuxCLIAdapter) Name() module.LabType { return module.LabTypeLinuxCLI }

// Command turns a CommandRecord into a student_action event, a legacy
// command_executed event, and — on first Pattern/UserOnly match for
// the (session, stepId) — a CompletionSignal{source=command}. A command
// whose exit code marks it as failed never produces a signal.
func (a *LinuxCLIAdapter) Command(rec evidence.CommandRecord) Result {
	outcome := ActionResult(rec)

	studentAction := events.StudentActionPayload{
		ActionKind: "execute_command",
		Action:     rec.Command,
		Result:     outcome,
	}

	r := Result{
		Events: []events.UnifiedEvent{
			{
				SessionID: a.sessionID,
				LabType:   module.LabTypeLinuxCLI,
				EventType: events.EventStudentAction,
				Timestamp: rec.Timestamp,
				Payload:   payload(studentAction),
			},
			{
				SessionID: a.sessionID,
				LabType:   module.LabTypeLinuxCLI,
				EventType: events.EventCommandExecuted,
				Timestamp: rec.Timestamp,
				Payload:   payload(studentAction),
			},
		},
	}

	if a.rs != nil && outcome == events.ActionResultSuccess {
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
func (a *LinuxCLIAdapter) Check(rec evidence.CheckRecord) Result {
	return Result{Signals: checkSignal(rec, a.signaled)}
}

// Tutor turns a TutorUtterance into a tutor_utterance event. Never a
// CompletionSignal.
func (a *LinuxCLIAdapter) Tutor(rec evidence.TutorUtterance) Result {
	return Result{Events: []events.UnifiedEvent{tutorEvent(a.sessionID, module.LabTypeLinuxCLI, rec)}}
}

// ActionResult maps a CommandRecord's exit code to success/failure. A
// nil ExitCode (the shim didn't capture one) is treated as success,
// matching "exitCode==0?success:failure" read as "no evidence of
// failure."
func ActionResult(rec evidence.CommandRecord) events.ActionResult {
	if rec.ExitCode != nil && *rec.ExitCode != 0 {
		return events.ActionResultFailure
	}
	return events.ActionResultSuccess
}
