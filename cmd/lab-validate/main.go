// Package main provides the entry point for lab-validate.
//
// lab-validate verifies a module's configuration without starting a
// session: it parses module.yaml, compiles every command-pattern
// regex, confirms every check-script scriptRef resolves to an
// existing executable file, and confirms step IDs are unique,
// reporting every problem found before exiting (SPEC_FULL.md
// "lab-validate does real validation work").
//
// Usage:
//
//	lab-validate <moduleId>
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/labtty/runtime/internal/errs"
	"github.com/labtty/runtime/internal/module"
)

var modulesDir string

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

	fmt.Println("module is valid")
}

func printUsage() {
	fmt.Println(`lab-validate - verify a lab module's configuration

Usage:
  lab-validate [flags] <moduleId>

Flags:
  --modules-dir PATH   Directory containing module definitions (default: ./modules)

Environment:
  LAB_MODULES_DIR  Directory containing module definitions`)
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
	dir := filepath.Join(getModulesDir(), moduleID)
	_, err := module.Load(dir, "")
	return err
}
