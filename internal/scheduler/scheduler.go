// Package scheduler implements the Check Scheduler (C4): for each
// check-script descriptor in the active module, runs the script on a
// fixed interval and appends results to checks.log.
package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/labtty/runtime/internal/evidence"
	"github.com/labtty/runtime/internal/rules"
)

const maxMessageBytes = 1024

// Runner executes a check script, identified by its bare ScriptRef
// (relative to whatever root the Runner itself resolves against), and
// reports its outcome. The default Runner (NewLocalRunner) resolves
// ScriptRef against a host checks/ directory; the Session Orchestrator
// substitutes a container-exec Runner that resolves the same ScriptRef
// against the container's own checks directory instead, since a host
// path and a container path never share a root.
type Runner interface {
	RunCheck(ctx context.Context, scriptRef string) (exitCode int, stdout []byte, err error)
}

// LocalRunner runs check scripts as local out-of-process commands,
// resolved relative to dir.
type LocalRunner struct {
	dir string
}

// NewLocalRunner returns a Runner that invokes scripts directly via
// exec.CommandContext, the same pattern the teacher's worker uses for
// running shell verification commands. Scripts are resolved relative
// to dir (the module's checks/ directory).
func NewLocalRunner(dir string) *LocalRunner { return &LocalRunner{dir: dir} }

// RunCheck runs scriptRef (joined against dir) and returns its exit
// code and combined output. A spawn failure (the process never
// started) is returned as err with exitCode -1.
func (r LocalRunner) RunCheck(ctx context.Context, scriptRef string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, filepath.Join(r.dir, scriptRef))
	output, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), output, nil
		}
		return -1, output, err
	}
	return 0, output, nil
}

// Scheduler runs one worker per CheckDescriptor, appending CheckRecord
// results to a shared checks.log.
type Scheduler struct {
	logPath string
	runner  Runner
	logger  arbor.ILogger

	mu   sync.Mutex
	file *os.File
}

// New creates a Scheduler. Each CheckDescriptor's ScriptRef is resolved
// by runner, not by the Scheduler itself (runner's root may be a host
// directory or a path inside a container). logPath is the checks.log
// file to append results to.
func New(logPath string, runner Runner, logger arbor.ILogger) (*Scheduler, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		logPath: logPath,
		runner:  runner,
		logger:  logger,
		file:    f,
	}, nil
}

// Run starts one worker goroutine per descriptor and blocks until ctx
// is cancelled, at which point all workers stop and the log file is
// closed.
func (s *Scheduler) Run(ctx context.Context, checks []rules.CheckDescriptor) {
	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c rules.CheckDescriptor) {
			defer wg.Done()
			s.runWorker(ctx, c)
		}(c)
	}
	wg.Wait()

	s.mu.Lock()
	s.file.Close()
	s.mu.Unlock()
}

func (s *Scheduler) runWorker(ctx context.Context, desc rules.CheckDescriptor) {
	interval := time.Duration(desc.PollIntervalMs) * time.Millisecond
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var inFlight atomic.Bool
	var runs sync.WaitGroup
	defer runs.Wait()

	tick := func() {
		if !inFlight.CompareAndSwap(false, true) {
			if s.logger != nil {
				s.logger.Warn().Str("step_id", desc.StepID).Msg("check still in flight, skipping tick")
			}
			return
		}
		runs.Add(1)
		go func() {
			defer runs.Done()
			defer inFlight.Store(false)
			s.runOnce(ctx, desc)
		}()
	}

	// The first check runs as soon as the worker starts; later ones
	// follow on each tick.
	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, desc rules.CheckDescriptor) {
	exitCode, output, err := s.runner.RunCheck(ctx, desc.ScriptRef)

	status := evidence.CheckStatusPassed
	message := ""
	switch {
	case err != nil:
		status = evidence.CheckStatusError
		message = err.Error()
	case exitCode != 0:
		status = evidence.CheckStatusFailed
		message = headBytes(output)
	default:
		message = headBytes(output)
	}

	rec := evidence.CheckRecord{
		StepID:    desc.StepID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Message:   message,
	}

	if err := s.append(rec); err != nil && s.logger != nil {
		s.logger.Error().Err(err).Str("step_id", desc.StepID).Msg("failed to append check record")
	}
}

func (s *Scheduler) append(rec evidence.CheckRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(line); err != nil {
		return err
	}
	return s.file.Sync()
}

func headBytes(b []byte) string {
	if len(b) > maxMessageBytes {
		b = b[:maxMessageBytes]
	}
	return string(b)
}
