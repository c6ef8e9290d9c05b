package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, s *Scenario) *Result {
	t.Helper()
	res, err := Run(context.Background(), s, Options{Dir: t.TempDir()})
	require.NoError(t, err)
	return res
}

func kinds(trace []TraceEvent) []string {
	out := make([]string, len(trace))
	for i, ev := range trace {
		out[i] = ev.Kind
	}
	return out
}

func TestRun_ScenarioFixturesPass(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)
			res := run(t, s)
			assert.True(t, res.Pass, "errors: %v", res.Errors)
		})
	}
}

func TestRun_TamperedRotatedFileRepairedFromMirror(t *testing.T) {
	content := "defaced"
	s := &Scenario{
		Name:        "tamper",
		Description: "edited rotated file",
		Source:      map[string]string{"a.txt": "alpha\n"},
		Steps: []Step{
			{Action: ActionRotate, Seed: "s"},
			{Action: ActionTick, Expect: "Healthy"},
			{Action: ActionTamper, Path: "rotated/a.txt", Content: &content},
			{Action: ActionTick, Expect: "Repairing"},
			{Action: ActionRestore, Expect: "FullyRestored"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Kinds: []string{"Alert:HashMismatch", "HashMismatch", "RepairedFromMirror"}},
			{Type: AssertTraceCount, Kind: "DriftAccepted", Count: 0},
		},
	}

	res := run(t, s)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Equal(t, []string{
		"Rotate",
		"BaselineReset", "Tick",
		"Tampered",
		"Alert:HashMismatch", "HashMismatch", "RepairedFromMirror", "Tick",
		"Restore",
	}, kinds(res.Trace))
}

func TestRun_PostSignEditGivesPartialRestore(t *testing.T) {
	content := "defaced"
	s := &Scenario{
		Name:        "partial",
		Description: "edit after signing, restore before any tick",
		Source:      map[string]string{"a.txt": "alpha\n", "b.txt": "beta\n"},
		Steps: []Step{
			{Action: ActionRotate},
			{Action: ActionTamper, Path: "rotated/a.txt", Content: &content},
			{Action: ActionRestore, Expect: "PartiallyRestored"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Kind: "RestoreFailed", Path: "a.txt"},
			{Type: AssertFile, Path: "restored/a.txt", Content: &content},
		},
	}

	res := run(t, s)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
}

func TestRun_ReportsUnexpectedState(t *testing.T) {
	s := &Scenario{
		Name:        "wrong-expect",
		Description: "first tick is healthy",
		Source:      map[string]string{"a.txt": "alpha\n"},
		Steps: []Step{
			{Action: ActionRotate},
			{Action: ActionTick, Expect: "Repairing"},
		},
		Assertions: []Assertion{{Type: AssertTraceContains, Kind: "Tick"}},
	}

	res := run(t, s)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "expected state Repairing, got Healthy")
}

func TestRun_StepErrorsAreCollected(t *testing.T) {
	content := "x"
	s := &Scenario{
		Name:        "missing",
		Description: "tamper a file that does not exist, then restore without a manifest",
		Source:      map[string]string{"a.txt": "alpha\n"},
		Steps: []Step{
			{Action: ActionTamper, Path: "rotated/a.txt", Content: &content},
			{Action: ActionRestore, Expect: "Aborted"},
		},
		Assertions: []Assertion{{Type: AssertTraceContains, Kind: "Restore"}},
	}

	res := run(t, s)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "steps[0] tamper")
}

func TestRun_DeterministicTrace(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/manifest-recovery.yaml")
	require.NoError(t, err)

	first, err := Snapshot(s.Name, run(t, s))
	require.NoError(t, err)
	second, err := Snapshot(s.Name, run(t, s))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRun_KeepLeavesBaseDir(t *testing.T) {
	dir := t.TempDir()
	s := &Scenario{
		Name:        "keep",
		Description: "keep",
		Source:      map[string]string{"a.txt": "alpha\n"},
		Steps:       []Step{{Action: ActionRotate}},
		Assertions:  []Assertion{{Type: AssertFile, Path: "source/a.txt", Content: ptr("alpha\n")}},
	}
	res, err := Run(context.Background(), s, Options{Dir: dir, Keep: true})
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)

	matches, err := filepath.Glob(filepath.Join(dir, "rotd-scenario-*", "rotated", "manifest.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func ptr(s string) *string { return &s }
