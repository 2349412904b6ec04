// Package main provides the entry point for lab.
//
// lab starts one interactive lab session: it loads a module, starts
// the session's container, and supervises the Event Hub, Check
// Scheduler, Heartbeat, and progress-updater until the session ends or
// is torn down.
//
// Usage:
//
//	lab <moduleId>                Start a session for moduleId
//	lab --config PATH <moduleId>  Start with a custom configuration file
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labtty/runtime/internal/config"
	"github.com/labtty/runtime/internal/errs"
	"github.com/labtty/runtime/internal/module"
	"github.com/labtty/runtime/internal/orchestrator"
)

var (
	configPath string
	modulesDir string
	studentID  string
)

func main() {
	args := os.Args[1:]
	var moduleID string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--modules-dir="):
			modulesDir = strings.TrimPrefix(arg, "--modules-dir=")
		case arg == "--modules-dir" && i+1 < len(args):
			modulesDir = args[i+1]
			i++
		case strings.HasPrefix(arg, "--student="):
			studentID = strings.TrimPrefix(arg, "--student=")
		case arg == "--student" && i+1 < len(args):
			studentID = args[i+1]
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

	if moduleID == "" {
		fmt.Fprintln(os.Stderr, "error: missing moduleId")
		printUsage()
		os.Exit(errs.KindConfiguration.ExitCode())
	}

	if err := run(moduleID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}
}

func printUsage() {
	fmt.Println(`lab - start an interactive lab session

Usage:
  lab [flags] <moduleId>

Flags:
  --config PATH         Path to configuration file (default: ~/.lab-sessions/config.toml)
  --modules-dir PATH     Directory containing module definitions (default: ./modules)
  --student ID           Student identifier attached to this session's telemetry

Environment:
  LAB_CONFIG       Path to configuration file (alternative to --config)
  LAB_MODULES_DIR  Directory containing module definitions
  LAB_TYPE         Overrides the module's declared lab type

Exit codes:
  0  success
  1  configuration error
  2  healthcheck failure
  3  runtime failure`)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("LAB_CONFIG"); p != "" {
		return p
	}
	return config.DefaultConfigPath()
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
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return errs.Configuration("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return errs.Configuration("validate config", err)
	}

	var labType module.LabType
	if t := os.Getenv("LAB_TYPE"); t != "" {
		labType = module.LabType(t)
	}

	orc, err := orchestrator.New(orchestrator.Config{
		Runtime:     cfg,
		ModuleDir:   filepath.Join(getModulesDir(), moduleID),
		LabType:     labType,
		StudentID:   studentID,
		ProgressDir: filepath.Join(cfg.Session.RootDir, "progress"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orc.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("lab session started: %s\n", orc.SessionDir())

	<-ctx.Done()

	shutdownTimeout := time.Duration(cfg.Session.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	teardownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return orc.Teardown(teardownCtx)
}
