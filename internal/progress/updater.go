package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/evidence"
)

// Updater tails one session's telemetry.jsonl and folds session_started,
// task_completed, and session_ended events into a Registry. It is the
// progress-updater helper the orchestrator spawns alongside the Event
// Hub (spec §4.10 C12.3: "tracks per-student progress over multiple
// sessions; it consumes the telemetry stream").
type Updater struct {
	registry *Registry
	tailer   *evidence.Tailer[events.UnifiedEvent]
	logger   arbor.ILogger

	sessionStudent map[string]string
	sessionModule  map[string]string
}

// NewUpdater creates an Updater over telemetryPath, backed by registry.
func NewUpdater(telemetryPath string, registry *Registry, logger arbor.ILogger) (*Updater, error) {
	tailer, err := evidence.New(telemetryPath, decodeUnifiedEvent, logger)
	if err != nil {
		return nil, fmt.Errorf("create telemetry tailer: %w", err)
	}

	return &Updater{
		registry:       registry,
		tailer:         tailer,
		logger:         logger,
		sessionStudent: make(map[string]string),
		sessionModule:  make(map[string]string),
	}, nil
}

// Run starts the tailer and folds events into the registry until ctx
// is cancelled.
func (u *Updater) Run(ctx context.Context) error {
	if err := u.tailer.Start(ctx); err != nil {
		return fmt.Errorf("start telemetry tailer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			u.tailer.Close()
			return nil
		case ev, ok := <-u.tailer.Records():
			if !ok {
				return nil
			}
			u.apply(ev)
		}
	}
}

func (u *Updater) apply(ev events.UnifiedEvent) {
	switch ev.EventType {
	case events.EventSessionStarted:
		var p events.SessionStartedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		u.sessionStudent[ev.SessionID] = p.StudentID
		u.sessionModule[ev.SessionID] = p.ModuleID
		u.registry.StartSession(p.StudentID, ev.SessionID, p.ModuleID, ev.Timestamp)

	case events.EventTaskCompleted:
		var p events.TaskCompletedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		studentID, ok := u.sessionStudent[ev.SessionID]
		if !ok {
			return
		}
		u.registry.CompleteStep(studentID, ev.SessionID, p.StepID, ev.Timestamp)

	case events.EventSessionEnded:
		studentID, ok := u.sessionStudent[ev.SessionID]
		if !ok {
			return
		}
		u.registry.EndSession(studentID, ev.SessionID, ev.Timestamp)
		if err := u.registry.Save(); err != nil && u.logger != nil {
			u.logger.Warn().Err(err).Msg("progress registry save failed")
		}
	}
}

func decodeUnifiedEvent(line []byte) (events.UnifiedEvent, error) {
	var ev events.UnifiedEvent
	err := json.Unmarshal(line, &ev)
	return ev, err
}
