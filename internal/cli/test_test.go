package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: quick-roundtrip
description: one file rotates and restores
source:
  a.txt: "alpha\n"
steps:
  - action: rotate
    expect: ok
  - action: restore
    expect: FullyRestored
assertions:
  - type: file
    path: restored/a.txt
    content: "alpha\n"
`

const failingScenario = `name: wrong-content
description: asserts content the restore never produces
source:
  a.txt: "alpha\n"
steps:
  - action: rotate
    expect: ok
  - action: restore
    expect: FullyRestored
assertions:
  - type: file
    path: restored/a.txt
    content: "beta\n"
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func runTestCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := runTestCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, err := runTestCmd(t, "json", t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandFixtures(t *testing.T) {
	out, err := runTestCmd(t, "text",
		"../harness/testdata/scenarios",
		"--golden", "../harness/testdata/golden")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ mirror-repair")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "good.yaml", passingScenario)
	writeScenario(t, dir, "bad.yaml", failingScenario)

	out, err := runTestCmd(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "good.yaml", passingScenario)
	writeScenario(t, dir, "bad.yaml", failingScenario)

	out, err := runTestCmd(t, "text", dir, "--filter", "go*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	file := writeScenario(t, dir, "good.yaml", passingScenario)

	out, err := runTestCmd(t, "text", file, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")
	assert.FileExists(t, filepath.Join(dir, "golden", "quick-roundtrip.golden"))

	_, err = runTestCmd(t, "text", file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "quick-roundtrip.golden"), []byte("{}"), 0o644))
	out, err = runTestCmd(t, "text", file)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\nunknown_field: 1\n")

	out, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", passingScenario)
	writeScenario(t, filepath.Join(dir, "nested"), "b.yml", passingScenario)
	writeScenario(t, dir, "notes.txt", "ignored")
	writeScenario(t, filepath.Join(dir, "golden"), "c.yaml", passingScenario)

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "nested", "b.yml"),
	}, files)

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}
