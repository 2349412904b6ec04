package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// pidFiles are the well-known PID files a session directory holds
// (spec §6 filesystem layout): monitor.pid is the Event Hub/heartbeat
// supervisory process, progress-updater.pid and tutor-watcher.pid the
// helper processes the orchestrator spawns alongside it. In this
// implementation all of these run as goroutines inside one orchestrator
// process (see DESIGN.md "single-process supervision" decision), so
// every file holds the same PID — the orchestrator's own — but the
// separate files are kept because a future split into real subprocesses
// should not change the filesystem contract any consumer relies on.
var pidFiles = []string{"monitor.pid", "progress-updater.pid", "tutor-watcher.pid"}

// WritePIDFiles writes the current process's PID to every well-known
// PID file under sessionDir.
func WritePIDFiles(sessionDir string) error {
	pid := []byte(strconv.Itoa(os.Getpid()))
	for _, name := range pidFiles {
		if err := os.WriteFile(filepath.Join(sessionDir, name), pid, 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// RemovePIDFiles removes every well-known PID file under sessionDir.
// Best-effort: removal errors are ignored, never fatal (spec §7).
func RemovePIDFiles(sessionDir string) {
	for _, name := range pidFiles {
		_ = os.Remove(filepath.Join(sessionDir, name))
	}
}

// IsRunning reports whether a session's tracked process is still
// alive, by reading monitor.pid and probing the process with signal 0
// — the same check the teacher's service daemon performs for its own
// single PID file (internal/service/daemon.go IsRunning), generalized
// here to a session directory instead of a service-wide config.
func IsRunning(sessionDir string) (bool, int) {
	data, err := os.ReadFile(filepath.Join(sessionDir, "monitor.pid"))
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, 0
	}
	return true, pid
}

// StopRunning sends SIGTERM to a session's tracked process, waiting up
// to 5s for it to exit before escalating to SIGKILL — the grace-then-
// force pattern spec §4.10 step 4 requires for teardown, exposed here
// as a standalone operation usable without going through the full
// orchestrator (SPEC_FULL.md's service-style introspection feature).
func StopRunning(sessionDir string) error {
	running, pid := IsRunning(sessionDir)
	if !running {
		return fmt.Errorf("session not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if running, _ := IsRunning(sessionDir); !running {
			RemovePIDFiles(sessionDir)
			return nil
		}
	}

	if err := process.Kill(); err != nil {
		return fmt.Errorf("kill process: %w", err)
	}
	RemovePIDFiles(sessionDir)
	return nil
}
