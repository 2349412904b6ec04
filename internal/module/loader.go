package module

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/labtty/runtime/internal/errs"
)

// yamlDoc mirrors module.yaml's on-disk shape before it is translated
// into the Module/Step/Validation types the rest of the runtime uses.
// Kept as a private unmarshal target so the public Module type stays
// free of yaml struct tags — callers building modules programmatically
// (lab-test fixtures, unit tests) never touch this shape.
type yamlDoc struct {
	ID      string        `yaml:"id"`
	Title   string        `yaml:"title"`
	LabType string        `yaml:"lab_type"`
	Steps   []yamlStep    `yaml:"steps"`
}

type yamlStep struct {
	ID         string            `yaml:"id"`
	Kind       string            `yaml:"kind"`
	Validation *yamlValidation   `yaml:"validation"`
}

type yamlValidation struct {
	Kind           string `yaml:"kind"`
	RequiredUser   string `yaml:"requiredUser"`
	Regex          string `yaml:"regex"`
	ScriptRef      string `yaml:"scriptRef"`
	PollIntervalMs int    `yaml:"pollIntervalMs"`
}

// Load reads and parses module.yaml at dir/module.yaml, validating
// every regex eagerly (spec §4.1: "an invalid regex is a fatal
// configuration error surfaced at startup, not per-event") and every
// check-script reference against dir/checks/.
//
// labTypeOverride, when non-empty, overrides the module-declared lab
// type (the LAB_TYPE environment input, spec §6).
func Load(dir string, labTypeOverride LabType) (*Module, error) {
	path := filepath.Join(dir, "module.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configuration("read module.yaml", err)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Configuration("parse module.yaml", err)
	}

	labType := LabType(doc.LabType)
	if labTypeOverride != "" {
		labType = labTypeOverride
	}

	m := &Module{
		ID:      doc.ID,
		Title:   doc.Title,
		LabType: labType,
	}

	var problems []string
	for _, ys := range doc.Steps {
		step := Step{ID: ys.ID, Kind: StepKind(ys.Kind)}

		if ys.Validation != nil {
			v, err := buildValidation(dir, ys.Validation)
			if err != nil {
				problems = append(problems, fmt.Sprintf("step %q: %v", ys.ID, err))
			}
			step.Validation = v
		}

		m.Steps = append(m.Steps, step)
	}

	if err := m.Validate(); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			problems = append(problems, ve.Problems...)
		} else {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return nil, errs.Configuration("validate module", &ValidationError{Problems: problems})
	}

	return m, nil
}

func buildValidation(dir string, yv *yamlValidation) (*Validation, error) {
	switch ValidationKind(yv.Kind) {
	case ValidationUserCheck:
		if yv.RequiredUser == "" {
			return nil, fmt.Errorf("user-check validation requires requiredUser")
		}
		return &Validation{Kind: ValidationUserCheck, RequiredUser: yv.RequiredUser}, nil

	case ValidationCommandPattern:
		if yv.Regex == "" {
			return nil, fmt.Errorf("command-pattern validation requires regex")
		}
		if _, err := regexp.Compile(yv.Regex); err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", yv.Regex, err)
		}
		return &Validation{Kind: ValidationCommandPattern, Regex: yv.Regex, RequiredUser: yv.RequiredUser}, nil

	case ValidationCheckScript:
		if yv.ScriptRef == "" {
			return nil, fmt.Errorf("check-script validation requires scriptRef")
		}
		scriptPath := filepath.Join(dir, "checks", yv.ScriptRef)
		info, err := os.Stat(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("check script %q: %w", yv.ScriptRef, err)
		}
		if info.Mode()&0111 == 0 {
			return nil, fmt.Errorf("check script %q is not executable", yv.ScriptRef)
		}
		interval := yv.PollIntervalMs
		if interval <= 0 {
			interval = 2000
		}
		if interval < 500 {
			interval = 500
		}
		return &Validation{Kind: ValidationCheckScript, ScriptRef: yv.ScriptRef, PollIntervalMs: interval}, nil

	default:
		return nil, fmt.Errorf("unknown validation kind %q", yv.Kind)
	}
}
