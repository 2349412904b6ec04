// Package hub implements the Event Hub (C7): the single serialization
// point that composes the evidence tailers, the per-labType adapter,
// and the telemetry/state/IPC sinks, enforcing invariants I2-I4.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/labtty/runtime/internal/adapter"
	"github.com/labtty/runtime/internal/evidence"
	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/idgen"
	"github.com/labtty/runtime/internal/ipc"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/rules"
	"github.com/labtty/runtime/internal/state"
	"github.com/labtty/runtime/internal/telemetry"
)

// dedupWindow is the 1-second interval within which two source records
// producing identical (eventType, payload) pairs collapse into one
// unified event (I3).
const dedupWindow = 1 * time.Second

// Config parameterizes one Hub instance. SessionDir is the session's
// filesystem root (spec §6 layout); all evidence/telemetry/state
// filenames are fixed relative to it.
type Config struct {
	SessionDir string
	SocketPath string
	Module     *module.Module
	RuleSet    *rules.RuleSet
	StudentID  string
	Logger     arbor.ILogger
}

// Hub owns the tailers, the adapter, and every sink for one session.
// It is the only writer of telemetry.jsonl and state.json (spec §3
// Ownership); commands.log, checks.log, and tutor-speech.jsonl are
// written by other producers and only read here.
type Hub struct {
	cfg       Config
	sessionID idgen.SessionID
	adapter   adapter.Adapter
	logger    arbor.ILogger

	cmdTailer   *evidence.Tailer[evidence.CommandRecord]
	checkTailer *evidence.Tailer[evidence.CheckRecord]
	tutorTailer *evidence.Tailer[evidence.TutorUtterance]

	telemetry *telemetry.Logger
	state     *state.Writer
	ipc       *ipc.Server

	mu       sync.Mutex
	dedup    map[string]time.Time
	signaled map[string]bool // (session,stepId) already delivered, I4

	done chan struct{}
}

// New performs the Event Hub's startup sequence (spec §4.5 steps 1-4):
// generates a session id, creates the telemetry logger and emits
// session_started, initializes the state writer with every step
// incomplete, and binds the IPC server. Tailers are created but not
// yet started; call Run to start them and enter the event loop.
func New(cfg Config) (*Hub, error) {
	sessionID := idgen.New()

	telemetryPath := filepath.Join(cfg.SessionDir, "telemetry.jsonl")
	tl, err := telemetry.New(telemetryPath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create telemetry logger: %w", err)
	}

	statePath := filepath.Join(cfg.SessionDir, "state.json")
	sw, err := state.New(statePath, cfg.Module, cfg.Logger)
	if err != nil {
		tl.Close()
		return nil, fmt.Errorf("create state writer: %w", err)
	}

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(cfg.SessionDir, "ipc.sock")
	}
	srv, err := ipc.Listen(socketPath, cfg.Logger)
	if err != nil {
		tl.Close()
		return nil, fmt.Errorf("bind ipc socket: %w", err)
	}

	a := adapter.New(cfg.Module.LabType, sessionID.String(), cfg.RuleSet)

	h := &Hub{
		cfg:       cfg,
		sessionID: sessionID,
		adapter:   a,
		logger:    cfg.Logger,
		telemetry: tl,
		state:     sw,
		ipc:       srv,
		dedup:     make(map[string]time.Time),
		signaled:  make(map[string]bool),
		done:      make(chan struct{}),
	}

	h.emitSessionStarted()

	cmdTailer, err := evidence.New(filepath.Join(cfg.SessionDir, "commands.log"), evidence.DecodeCommandRecord, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create command tailer: %w", err)
	}
	checkTailer, err := evidence.New(filepath.Join(cfg.SessionDir, "checks.log"), evidence.DecodeCheckRecord, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create check tailer: %w", err)
	}
	tutorTailer, err := evidence.New(filepath.Join(cfg.SessionDir, "tutor-speech.jsonl"), evidence.DecodeTutorUtterance, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create tutor tailer: %w", err)
	}
	h.cmdTailer = cmdTailer
	h.checkTailer = checkTailer
	h.tutorTailer = tutorTailer

	return h, nil
}

// SessionID returns the session id this Hub was created with.
func (h *Hub) SessionID() idgen.SessionID { return h.sessionID }

// StateSnapshot returns the current materialized state.
func (h *Hub) StateSnapshot() events.StateSnapshot { return h.state.Snapshot() }

// Run starts the tailers (replaying any pre-existing lines, I5), runs
// the IPC accept loop, and enters the event loop. It blocks until ctx
// is cancelled, at which point it tears down in the order spec §4.5
// specifies.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.cmdTailer.Start(ctx); err != nil {
		return fmt.Errorf("start command tailer: %w", err)
	}
	if err := h.checkTailer.Start(ctx); err != nil {
		return fmt.Errorf("start check tailer: %w", err)
	}
	if err := h.tutorTailer.Start(ctx); err != nil {
		return fmt.Errorf("start tutor tailer: %w", err)
	}

	go h.ipc.Serve()
	go h.drainInbound(ctx)

	h.loop(ctx)

	return h.shutdown()
}

// loop is the Hub's single serialization point: every mutation to
// state, telemetry, and the broadcast stream happens on this goroutine
// (spec §5).
func (h *Hub) loop(ctx context.Context) {
	defer close(h.done)

	cmdCh := h.cmdTailer.Records()
	checkCh := h.checkTailer.Records()
	tutorCh := h.tutorTailer.Records()

	for {
		select {
		case <-ctx.Done():
			return

		case rec, ok := <-cmdCh:
			if !ok {
				cmdCh = nil
				continue
			}
			h.process(h.adapter.Command(rec))

		case rec, ok := <-checkCh:
			if !ok {
				checkCh = nil
				continue
			}
			h.process(h.adapter.Check(rec))

		case rec, ok := <-tutorCh:
			if !ok {
				tutorCh = nil
				continue
			}
			h.process(h.adapter.Tutor(rec))
		}

		if cmdCh == nil && checkCh == nil && tutorCh == nil {
			return
		}
	}
}

// process applies dedup, writes telemetry for every unified event in
// r, then — for every CompletionSignal that is fresh for this session
// — updates state, broadcasts IPC, and emits the task_completed event
// causally after the event that produced it (I2).
func (h *Hub) process(r adapter.Result) {
	for _, ev := range r.Events {
		if h.isDuplicate(ev) {
			continue
		}
		h.appendTelemetry(ev)
	}

	for _, sig := range r.Signals {
		h.deliverSignal(sig)
	}
}

func (h *Hub) isDuplicate(ev events.UnifiedEvent) bool {
	key := events.DedupKey(ev.EventType, ev.Payload)

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if last, ok := h.dedup[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	h.dedup[key] = now
	return false
}

func (h *Hub) appendTelemetry(ev events.UnifiedEvent) {
	if err := h.telemetry.Append(ev); err != nil && h.logger != nil {
		h.logger.Warn().Err(err).Str("event_type", string(ev.EventType)).Msg("telemetry append failed")
	}
}

// deliverSignal is the at-most-once delivery path for a completion
// signal (I4): it must be fresh for (session, stepId), state must
// transition, and only then does the taskCompleted IPC frame go out
// and the task_completed event get written to telemetry.
func (h *Hub) deliverSignal(sig events.CompletionSignal) bool {
	h.mu.Lock()
	fresh := !h.signaled[sig.StepID]
	if fresh {
		h.signaled[sig.StepID] = true
	}
	h.mu.Unlock()

	if !fresh {
		return false
	}

	changed, err := h.state.Complete(sig.StepID, sig.Source, sig.At)
	if err != nil && h.logger != nil {
		h.logger.Error().Err(err).Str("step_id", sig.StepID).Msg("state write failed")
	}
	if !changed {
		return false
	}

	h.ipc.Broadcast(ipc.Frame{
		Type: ipc.FrameTaskCompleted,
		Payload: ipc.Payload(ipc.TaskCompletedPayload{
			StepID: sig.StepID,
			TaskID: sig.StepID,
			Source: string(sig.Source),
		}),
	})

	taskCompleted := events.UnifiedEvent{
		SessionID: h.sessionID.String(),
		LabType:   h.cfg.Module.LabType,
		EventType: events.EventTaskCompleted,
		Timestamp: sig.At,
		Payload: mustPayload(events.TaskCompletedPayload{
			StepID: sig.StepID,
			Source: sig.Source,
		}),
	}
	h.appendTelemetry(taskCompleted)
	return true
}

func (h *Hub) emitSessionStarted() {
	ev := events.UnifiedEvent{
		SessionID: h.sessionID.String(),
		LabType:   h.cfg.Module.LabType,
		EventType: events.EventSessionStarted,
		Timestamp: time.Now().UTC(),
		Payload: mustPayload(events.SessionStartedPayload{
			ModuleID:  h.cfg.Module.ID,
			LabType:   h.cfg.Module.LabType,
			StudentID: h.cfg.StudentID,
		}),
	}
	h.appendTelemetry(ev)
}

func (h *Hub) emitSessionEnded() {
	ev := events.UnifiedEvent{
		SessionID: h.sessionID.String(),
		LabType:   h.cfg.Module.LabType,
		EventType: events.EventSessionEnded,
		Timestamp: time.Now().UTC(),
		Payload:   json.RawMessage("{}"),
	}
	h.appendTelemetry(ev)
}

// drainInbound logs client->server IPC frames. Interpreting "selected"
// payloads is the VTA UI's concern (out of scope, spec §1); the Hub
// only needs to keep the channel drained, since the IPC server drops
// inbound frames once the channel is full.
func (h *Hub) drainInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-h.ipc.Inbound():
			if !ok {
				return
			}
			if h.logger != nil {
				h.logger.Debug().Str("frame_type", string(in.Frame.Type)).Msg("ipc inbound frame")
			}
		}
	}
}

// shutdown emits session_ended, closes IPC clients, stops tailers, and
// closes telemetry, in the spec §4.5 shutdown order. state.json needs
// no final step here: the state writer syncs and renames every update
// into place as it happens.
func (h *Hub) shutdown() error {
	h.emitSessionEnded()

	if err := h.ipc.Close(); err != nil && h.logger != nil {
		h.logger.Warn().Err(err).Msg("ipc close failed")
	}

	h.cmdTailer.Close()
	h.checkTailer.Close()
	h.tutorTailer.Close()

	return h.telemetry.Close()
}

func mustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
