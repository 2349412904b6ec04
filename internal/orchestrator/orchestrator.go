package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/labtty/runtime/internal/config"
	"github.com/labtty/runtime/internal/errs"
	"github.com/labtty/runtime/internal/heartbeat"
	"github.com/labtty/runtime/internal/hub"
	"github.com/labtty/runtime/internal/logger"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/progress"
	"github.com/labtty/runtime/internal/rules"
	"github.com/labtty/runtime/internal/scheduler"
)

// State is the session's lifecycle state machine (spec §4.10):
// booting -> healthchecking -> running -> draining -> terminated, with
// healthchecking able to transition directly to terminated on failure.
type State string

const (
	StateBooting        State = "booting"
	StateHealthchecking State = "healthchecking"
	StateRunning        State = "running"
	StateDraining       State = "draining"
	StateTerminated     State = "terminated"
)

// Config parameterizes a session.
type Config struct {
	Runtime     *config.Config
	ModuleDir   string
	LabType     module.LabType // overrides module.yaml's declared type (LAB_TYPE env input)
	StudentID   string
	ProgressDir string // where the cross-session progress registry is persisted
	HealthCmd   []string
}

// Orchestrator is the Session Orchestrator (C12): it owns the
// container, the Event Hub, the heartbeat, the check scheduler, and
// the progress-updater helper, and is the sole actor that tears any of
// them down.
type Orchestrator struct {
	cfg       Config
	logger    arbor.ILogger
	sessionDir string

	mod     *module.Module
	ruleSet *rules.RuleSet

	mu        sync.Mutex
	state     State
	container *Container
	hub       *hub.Hub
	layout    Layout

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	teardown  sync.Once
	hubDoneCh chan struct{}
}

// New loads and validates the module, builds its rule set, and
// prepares (but does not yet start) the session's filesystem layout.
func New(cfg Config) (*Orchestrator, error) {
	m, err := module.Load(cfg.ModuleDir, cfg.LabType)
	if err != nil {
		return nil, err
	}

	rs, err := rules.New(m)
	if err != nil {
		return nil, errs.Configuration("build rule set", err)
	}

	if err := cfg.Runtime.EnsureDirectories(); err != nil {
		return nil, errs.Configuration("ensure directories", err)
	}

	return &Orchestrator{
		cfg:     cfg,
		mod:     m,
		ruleSet: rs,
		state:   StateBooting,
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Start runs the precondition gate (container start + healthcheck),
// composes the terminal layout, and starts supervision (spec §4.10
// steps 1-3). On healthcheck failure it tears the container down and
// returns an Environment error (exit code 2).
func (o *Orchestrator) Start(ctx context.Context) error {
	sessionID := generateSessionDir(o.cfg.Runtime, o.mod.ID)
	o.sessionDir = sessionID
	if err := os.MkdirAll(o.sessionDir, 0755); err != nil {
		return errs.Configuration("create session dir", err)
	}

	o.logger = logger.Setup(o.cfg.Runtime, o.sessionDir)

	o.setState(StateHealthchecking)

	c, err := StartContainer(ctx, o.cfg.Runtime.Container)
	if err != nil {
		o.setState(StateTerminated)
		return errs.Environment("start container", err)
	}
	o.container = c

	if err := os.WriteFile(filepath.Join(o.sessionDir, "container.id"), []byte(c.ID()), 0644); err != nil {
		c.Terminate(ctx)
		o.setState(StateTerminated)
		return errs.Environment("write container.id", err)
	}

	healthCmd := o.cfg.HealthCmd
	if len(healthCmd) == 0 {
		healthCmd = []string{"true"}
	}
	if err := c.Healthcheck(ctx, healthCmd); err != nil {
		c.Terminate(ctx)
		o.setState(StateTerminated)
		return errs.Environment("container healthcheck", err)
	}

	o.layout = BuildLayout(o.cfg.Runtime.Layout)

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	if err := o.supervise(runCtx); err != nil {
		cancel()
		c.Terminate(ctx)
		o.setState(StateTerminated)
		return err
	}

	o.setState(StateRunning)
	return nil
}

// supervise spawns the Event Hub, Check Scheduler, Heartbeat, and
// progress-updater as cooperating goroutines within this process (spec
// §5 permits threads/tasks/goroutines interchangeably), writes the
// session's PID files, and wires the Heartbeat's orphan callback to
// Teardown.
func (o *Orchestrator) supervise(ctx context.Context) error {
	h, err := hub.New(hub.Config{
		SessionDir: o.sessionDir,
		SocketPath: o.cfg.Runtime.SocketPath(filepath.Base(o.sessionDir)),
		Module:     o.mod,
		RuleSet:    o.ruleSet,
		StudentID:  o.cfg.StudentID,
		Logger:     o.logger,
	})
	if err != nil {
		return errs.Environment("start event hub", err)
	}
	o.hub = h

	o.hubDoneCh = make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(o.hubDoneCh)
		if err := h.Run(ctx); err != nil && o.logger != nil {
			o.logger.Error().Err(err).Msg("event hub exited with error")
		}
	}()

	if checks := o.ruleSet.Checks(); len(checks) > 0 {
		runner := ContainerCheckRunner{Container: o.container, ChecksPath: "/lab/checks"}
		sched, err := scheduler.New(filepath.Join(o.sessionDir, "checks.log"), runner, o.logger)
		if err != nil {
			return errs.Environment("start check scheduler", err)
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			sched.Run(ctx, checks)
		}()
	}

	if o.cfg.ProgressDir != "" {
		registry := progress.NewRegistry(filepath.Join(o.cfg.ProgressDir, "progress.json"))
		if err := registry.Load(); err != nil && o.logger != nil {
			o.logger.Warn().Err(err).Msg("failed to load progress registry")
		}
		updater, err := progress.NewUpdater(filepath.Join(o.sessionDir, "telemetry.jsonl"), registry, o.logger)
		if err == nil {
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				updater.Run(ctx)
			}()
		}
	}

	hbCfg := heartbeat.Config{
		SocketPath:    o.cfg.Runtime.SocketPath(filepath.Base(o.sessionDir)),
		Interval:      time.Duration(o.cfg.Runtime.Heartbeat.IntervalSeconds) * time.Second,
		MissThreshold: o.cfg.Runtime.Heartbeat.MissThreshold,
	}

	hb := heartbeat.New(hbCfg, o.logger, func() {
		go o.Teardown(context.Background())
	})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		hb.Run(ctx)
	}()

	return WritePIDFiles(o.sessionDir)
}

// Teardown stops every supervised goroutine, terminates the container,
// unlinks tracked PID files, and leaves telemetry.jsonl/state.json
// intact (spec §4.10 step 4). Idempotent: safe to call from the
// heartbeat's orphan callback, a signal handler, and normal exit alike.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	var teardownErr error
	o.teardown.Do(func() {
		o.setState(StateDraining)

		if o.cancel != nil {
			o.cancel()
		}

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			if o.logger != nil {
				o.logger.Warn().Msg("teardown grace period elapsed, forcing shutdown")
			}
		}

		if o.container != nil {
			if err := o.container.Terminate(context.Background()); err != nil {
				teardownErr = fmt.Errorf("terminate container: %w", err)
				if o.logger != nil {
					o.logger.Warn().Err(err).Msg("container terminate failed")
				}
			}
		}

		RemovePIDFiles(o.sessionDir)
		logger.Stop()

		o.setState(StateTerminated)
	})
	return teardownErr
}

// SessionDir returns the session's filesystem root.
func (o *Orchestrator) SessionDir() string { return o.sessionDir }

// Hub returns the session's Event Hub, once supervision has started.
func (o *Orchestrator) Hub() *hub.Hub { return o.hub }

func generateSessionDir(cfg *config.Config, moduleID string) string {
	return cfg.SessionDir(fmt.Sprintf("%s-%d", moduleID, time.Now().UnixNano()))
}
