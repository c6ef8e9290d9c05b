package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/manifest"
)

// ErrGoldenMismatch is returned by CompareGolden when the trace differs.
var ErrGoldenMismatch = errors.New("trace differs from golden file")

// TraceSnapshot is the golden-file form of a run: the trace without
// free-form details.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":    ev.Seq,
			"step":   ev.Step,
			"action": ev.Action,
			"kind":   ev.Kind,
		}
		if ev.Path != "" {
			m["path"] = ev.Path
		}
		if ev.State != "" {
			m["state"] = ev.State
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
}

// Snapshot renders a result's trace as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{ScenarioName: name, Trace: result.Trace}
	return manifest.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(context.Background(), scenario, Options{Dir: t.TempDir()})
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()
	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// CompareGolden is the command-line counterpart of AssertGolden: it
// compares the trace with dir/<name>.golden, or writes the file when update
// is set.
func CompareGolden(dir, name string, result *Result, update bool) error {
	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name+".golden")
	if update {
		return fsx.WriteFileAtomic(path, data, 0o644)
	}
	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("golden file %s not found (run with --update)", path)
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("%w: %s", ErrGoldenMismatch, path)
	}
	return nil
}
