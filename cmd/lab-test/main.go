// Package main provides the entry point for lab-test.
//
// lab-test runs a module's session non-interactively to completion,
// replaying a scripted-input fixture into the evidence logs instead of
// attaching a real container and a human student (SPEC_FULL.md
// "lab-test scripted-input driver contract"). It blocks until every
// validated step completes or a deadline elapses, then exits 0 or 3.
//
// Usage:
//
//	lab-test <moduleId> --fixture PATH [--deadline 30s]
//
// Fixture format: newline-delimited JSON, one record per line:
//
//	{"afterMs": 500, "appendTo": "commands", "line": "{...CommandRecord json...}"}
//
// appendTo is one of "commands", "checks", "tutor".
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labtty/runtime/internal/config"
	"github.com/labtty/runtime/internal/errs"
	"github.com/labtty/runtime/internal/events"
	"github.com/labtty/runtime/internal/hub"
	"github.com/labtty/runtime/internal/logger"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/rules"
)

var (
	modulesDir  string
	fixturePath string
	deadline    = 30 * time.Second
)

// driverRecord is one line of a lab-test fixture.
type driverRecord struct {
	AfterMs  int    `json:"afterMs"`
	AppendTo string `json:"appendTo"`
	Line     string `json:"line"`
}

func main() {
	args := os.Args[1:]
	var moduleID string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--modules-dir="):
			modulesDir = strings.TrimPrefix(arg, "--modules-dir=")
		case arg == "--modules-dir" && i+1 < len(args):
			modulesDir = args[i+1]
			i++
		case strings.HasPrefix(arg, "--fixture="):
			fixturePath = strings.TrimPrefix(arg, "--fixture=")
		case arg == "--fixture" && i+1 < len(args):
			fixturePath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--deadline="):
			if d, err := time.ParseDuration(strings.TrimPrefix(arg, "--deadline=")); err == nil {
				deadline = d
			}
		case arg == "--deadline" && i+1 < len(args):
			if d, err := time.ParseDuration(args[i+1]); err == nil {
				deadline = d
			}
			i++
		case arg == "-h" || arg == "--help":
			printUsage()
			return
		default:
			if moduleID == "" {
				moduleID = arg
			}
		}
	}

	if moduleID == "" || fixturePath == "" {
		fmt.Fprintln(os.Stderr, "error: missing moduleId or --fixture")
		printUsage()
		os.Exit(errs.KindConfiguration.ExitCode())
	}

	if err := run(moduleID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}

	fmt.Println("all validated steps completed")
}

func printUsage() {
	fmt.Println(`lab-test - drive a lab module's session to completion non-interactively

Usage:
  lab-test [flags] <moduleId> --fixture PATH

Flags:
  --modules-dir PATH   Directory containing module definitions (default: ./modules)
  --fixture PATH       Newline-delimited JSON scripted-input fixture (required)
  --deadline DURATION  Maximum time to wait for completion (default: 30s)`)
}

func getModulesDir() string {
	if modulesDir != "" {
		return modulesDir
	}
	if d := os.Getenv("LAB_MODULES_DIR"); d != "" {
		return d
	}
	return "./modules"
}

func run(moduleID string) error {
	moduleDir := filepath.Join(getModulesDir(), moduleID)
	m, err := module.Load(moduleDir, "")
	if err != nil {
		return err
	}

	rs, err := rules.New(m)
	if err != nil {
		return errs.Configuration("build rule set", err)
	}

	records, err := loadFixture(fixturePath)
	if err != nil {
		return errs.Configuration("load fixture", err)
	}

	sessionDir, err := os.MkdirTemp("", "lab-test-"+m.ID+"-")
	if err != nil {
		return errs.Environment("create session dir", err)
	}
	defer os.RemoveAll(sessionDir)

	l := logger.Setup(config.DefaultConfig(), sessionDir)

	h, err := hub.New(hub.Config{
		SessionDir: sessionDir,
		Module:     m,
		RuleSet:    rs,
		StudentID:  "lab-test",
		Logger:     l,
	})
	if err != nil {
		return errs.Environment("start event hub", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline+5*time.Second)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- h.Run(ctx) }()

	go replayFixture(sessionDir, records)

	wantSteps := validatedStepCount(m)
	deadlineAt := time.Now().Add(deadline)
	for {
		snap := h.StateSnapshot()
		if completedCount(snap) >= wantSteps {
			cancel()
			<-runErrCh
			return nil
		}
		if time.Now().After(deadlineAt) {
			cancel()
			<-runErrCh
			return errs.New(errs.KindRuntime, "await completion", fmt.Errorf("deadline exceeded with %d/%d steps complete", completedCount(snap), wantSteps))
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func validatedStepCount(m *module.Module) int {
	n := 0
	for _, s := range m.Steps {
		if s.Validation != nil {
			n++
		}
	}
	return n
}

func completedCount(snap events.StateSnapshot) int {
	n := 0
	for _, s := range snap.Steps {
		if s.Completed {
			n++
		}
	}
	return n
}

func loadFixture(path string) ([]driverRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture %s: %w", path, err)
	}
	defer f.Close()

	var records []driverRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec driverRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse fixture line %q: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return records, nil
}

func replayFixture(sessionDir string, records []driverRecord) {
	for _, rec := range records {
		time.Sleep(time.Duration(rec.AfterMs) * time.Millisecond)
		appendLine(sessionDir, rec)
	}
}

func appendLine(sessionDir string, rec driverRecord) {
	var filename string
	switch rec.AppendTo {
	case "commands":
		filename = "commands.log"
	case "checks":
		filename = "checks.log"
	case "tutor":
		filename = "tutor-speech.jsonl"
	default:
		return
	}

	f, err := os.OpenFile(filepath.Join(sessionDir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, rec.Line)
}
