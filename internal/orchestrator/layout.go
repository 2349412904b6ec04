package orchestrator

import (
	"fmt"
	"os"
	"sync"

	"github.com/labtty/runtime/internal/config"
)

// RegionKind identifies one pane of the three-pane terminal layout
// (spec §4.10 step 2).
type RegionKind string

const (
	RegionTutor RegionKind = "tutor"
	RegionUI    RegionKind = "ui"
	RegionShell RegionKind = "shell"
)

// Region is one pane of the layout with its width as a percentage of
// the total terminal width.
type Region struct {
	Kind     RegionKind
	WidthPct int
}

// Layout is the composed three-pane (or two-pane, tutor disabled)
// terminal: (tutor, VTA UI, in-container shell) when the tutor is
// enabled, or (VTA UI, shell) when not.
type Layout struct {
	Regions []Region
}

// BuildLayout composes a Layout from cfg, dropping the tutor region
// entirely when disabled rather than leaving it zero-width — a
// disabled tutor has no pane at all, not a collapsed one.
func BuildLayout(cfg config.LayoutConfig) Layout {
	var regions []Region
	if cfg.TutorEnabled {
		regions = append(regions, Region{Kind: RegionTutor, WidthPct: cfg.TutorWidthPct})
	}
	regions = append(regions, Region{Kind: RegionUI, WidthPct: cfg.UIWidthPct})
	regions = append(regions, Region{Kind: RegionShell, WidthPct: cfg.ShellWidthPct})
	return Layout{Regions: regions}
}

// ShellRegion returns the layout's shell pane.
func (l Layout) ShellRegion() (Region, bool) {
	for _, r := range l.Regions {
		if r.Kind == RegionShell {
			return r, true
		}
	}
	return Region{}, false
}

// RecordingShim wraps the student's interactive shell attachment with
// a tee to a host-visible recording file (spec §4.10 step 2: "the
// shell always gets a dedicated interactive attachment wrapped with a
// terminal-recording shim that writes to a host-visible file"). No
// pty/terminal-multiplexing library appears anywhere in the example
// pack with usable implementation code to ground on (only bare go.mod
// manifests elsewhere name one), so this is a direct io.Writer tee
// against the standard library — see DESIGN.md.
type RecordingShim struct {
	mu   sync.Mutex
	file *os.File
}

// NewRecordingShim opens (creating if absent) the recording file at
// path for append.
func NewRecordingShim(path string) (*RecordingShim, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open recording file %s: %w", path, err)
	}
	return &RecordingShim{file: f}, nil
}

// Write implements io.Writer, appending every byte of shell
// output/input to the recording file as it is observed.
func (s *RecordingShim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Write(p)
}

// Close flushes and closes the recording file.
func (s *RecordingShim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
