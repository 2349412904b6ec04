// Package rules builds the immutable, per-module set of completion
// conditions (C1) from a loaded module definition: pattern and
// required-user rules for command-driven evidence, and check
// descriptors for check-script evidence.
package rules

import (
	"fmt"
	"regexp"

	"github.com/labtty/runtime/internal/module"
)

// Rule is the tagged variant matched against command evidence. Exactly
// one of Pattern/UserOnly is meaningful, discriminated by Kind.
type Rule struct {
	Kind         module.ValidationKind // ValidationCommandPattern or ValidationUserCheck
	StepID       string
	Regex        *regexp.Regexp
	RequiredUser string
}

// Matches reports whether the given command and user satisfy every
// predicate this rule specifies. A Pattern rule with a RequiredUser set
// requires both the regex and the user to match; a Pattern rule with
// no RequiredUser only checks the regex. A UserOnly rule only checks
// the user.
func (r Rule) Matches(command, user string) bool {
	switch r.Kind {
	case module.ValidationCommandPattern:
		if r.Regex == nil || !r.Regex.MatchString(command) {
			return false
		}
		if r.RequiredUser != "" && r.RequiredUser != user {
			return false
		}
		return true
	case module.ValidationUserCheck:
		return r.RequiredUser != "" && r.RequiredUser == user
	default:
		return false
	}
}

// CheckDescriptor describes a single check-script completion condition.
type CheckDescriptor struct {
	StepID         string
	ScriptRef      string
	PollIntervalMs int
}

// RuleSet is the immutable collection of completion conditions for one
// module, built once at session start.
type RuleSet struct {
	moduleID string
	rules    []Rule
	checks   []CheckDescriptor
}

// New builds a RuleSet from a loaded, already-validated module
// definition. Steps are walked in declaration order, so ties among
// rules are broken by that same order (spec §4.1: "ties broken by
// declaration order").
func New(m *module.Module) (*RuleSet, error) {
	rs := &RuleSet{moduleID: m.ID}

	for _, step := range m.Steps {
		if step.Validation == nil {
			continue
		}

		switch step.Validation.Kind {
		case module.ValidationCommandPattern:
			re, err := regexp.Compile(step.Validation.Regex)
			if err != nil {
				// Already validated at load time; defensive only.
				return nil, fmt.Errorf("step %q: invalid regex %q: %w", step.ID, step.Validation.Regex, err)
			}
			rs.rules = append(rs.rules, Rule{
				Kind:         module.ValidationCommandPattern,
				StepID:       step.ID,
				Regex:        re,
				RequiredUser: step.Validation.RequiredUser,
			})

		case module.ValidationUserCheck:
			rs.rules = append(rs.rules, Rule{
				Kind:         module.ValidationUserCheck,
				StepID:       step.ID,
				RequiredUser: step.Validation.RequiredUser,
			})

		case module.ValidationCheckScript:
			rs.checks = append(rs.checks, CheckDescriptor{
				StepID:         step.ID,
				ScriptRef:      step.Validation.ScriptRef,
				PollIntervalMs: step.Validation.PollIntervalMs,
			})
		}
	}

	return rs, nil
}

// ModuleID returns the module this rule set was built for.
func (rs *RuleSet) ModuleID() string {
	return rs.moduleID
}

// Rules returns the command-driven rules in declaration order.
func (rs *RuleSet) Rules() []Rule {
	return rs.rules
}

// Checks returns the check-script descriptors in declaration order.
func (rs *RuleSet) Checks() []CheckDescriptor {
	return rs.checks
}

// Match returns the first rule, in declaration order, whose predicates
// are all satisfied by the given command and user, and true. If no
// rule matches, returns the zero Rule and false.
func (rs *RuleSet) Match(command, user string) (Rule, bool) {
	for _, r := range rs.rules {
		if r.Matches(command, user) {
			return r, true
		}
	}
	return Rule{}, false
}
