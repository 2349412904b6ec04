package module

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadValidModule(t *testing.T) {
	m, err := Load("../../testdata/linux-user-management", "")
	require.NoError(t, err)
	require.Equal(t, "linux-user-management", m.ID)
	require.Equal(t, LabTypeLinuxCLI, m.LabType)
	require.Len(t, m.Steps, 5)

	step, ok := m.StepByID("become-root")
	require.True(t, ok)
	require.Equal(t, ValidationCommandPattern, step.Validation.Kind)
	require.Equal(t, `^sudo su\b`, step.Validation.Regex)

	step, ok = m.StepByID("create-user")
	require.True(t, ok)
	require.Equal(t, ValidationCheckScript, step.Validation.Kind)
	require.Equal(t, 2000, step.Validation.PollIntervalMs)
}

func TestLoadLabTypeOverride(t *testing.T) {
	m, err := Load("../../testdata/linux-user-management", LabTypeSplunk)
	require.NoError(t, err)
	require.Equal(t, LabTypeSplunk, m.LabType)
}

func TestLoadMissingModule(t *testing.T) {
	_, err := Load("../../testdata/does-not-exist", "")
	require.Error(t, err)
}

func TestLoadInvalidRegexIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/module.yaml", `
id: broken
lab_type: linux_cli
steps:
  - id: s1
    kind: task
    validation:
      kind: command-pattern
      regex: "(unclosed"
`)

	_, err := Load(dir, "")
	require.Error(t, err)
}

func TestLoadDuplicateStepIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/module.yaml", `
id: dup
lab_type: linux_cli
steps:
  - id: s1
    kind: task
  - id: s1
    kind: task
`)

	_, err := Load(dir, "")
	require.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
