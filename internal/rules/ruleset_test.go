package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labtty/runtime/internal/module"
)

func loadFixture(t *testing.T) *module.Module {
	t.Helper()
	m, err := module.Load("../../testdata/linux-user-management", "")
	require.NoError(t, err)
	return m
}

func TestNewSeparatesRulesAndChecks(t *testing.T) {
	m := loadFixture(t)
	rs, err := New(m)
	require.NoError(t, err)

	require.Len(t, rs.Rules(), 2) // become-root (pattern), confirm-shell (user-check)
	require.Len(t, rs.Checks(), 1) // create-user (check-script)
	require.Equal(t, "linux-user-management", rs.ModuleID())
}

func TestMatchPatternRule(t *testing.T) {
	m := loadFixture(t)
	rs, err := New(m)
	require.NoError(t, err)

	r, ok := rs.Match("sudo su", "student")
	require.True(t, ok)
	require.Equal(t, "become-root", r.StepID)
}

func TestMatchUserOnlyRule(t *testing.T) {
	m := loadFixture(t)
	rs, err := New(m)
	require.NoError(t, err)

	r, ok := rs.Match("", "newuser")
	require.True(t, ok)
	require.Equal(t, "confirm-shell", r.StepID)
}

func TestMatchNoneFound(t *testing.T) {
	m := loadFixture(t)
	rs, err := New(m)
	require.NoError(t, err)

	_, ok := rs.Match("ls -la", "student")
	require.False(t, ok)
}

func TestFirstMatchWinsDeclarationOrder(t *testing.T) {
	m := &module.Module{
		ID:      "tie-break",
		LabType: module.LabTypeLinuxCLI,
		Steps: []module.Step{
			{ID: "first", Kind: module.StepKindTask, Validation: &module.Validation{
				Kind: module.ValidationCommandPattern, Regex: "^echo",
			}},
			{ID: "second", Kind: module.StepKindTask, Validation: &module.Validation{
				Kind: module.ValidationCommandPattern, Regex: "^echo hi$",
			}},
		},
	}

	rs, err := New(m)
	require.NoError(t, err)

	r, ok := rs.Match("echo hi", "student")
	require.True(t, ok)
	require.Equal(t, "first", r.StepID, "first declared rule wins even though both match")
}

func TestCheckDescriptorFields(t *testing.T) {
	m := loadFixture(t)
	rs, err := New(m)
	require.NoError(t, err)

	require.Equal(t, "create-user", rs.Checks()[0].StepID)
	require.Equal(t, "create_user.sh", rs.Checks()[0].ScriptRef)
	require.Equal(t, 2000, rs.Checks()[0].PollIntervalMs)
}
