package harness

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Seq, ev.Action, ev.Kind)
			if ev.Path != "" {
				fmt.Fprintf(&buf, " %s", ev.Path)
			}
			if ev.State != "" {
				fmt.Fprintf(&buf, " (%s)", ev.State)
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

func matches(ev TraceEvent, kind, path string) bool {
	return ev.Kind == kind && (path == "" || ev.Path == path)
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a.Kind, a.Path) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a.Kind, a.Path),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrence of each kind appears in
// the listed order. Other events may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		for _, kind := range a.Kinds {
			if matches(ev, kind, a.Path) && positions[kind] == 0 {
				positions[kind] = i + 1
			}
		}
	}

	for _, kind := range a.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all kinds present: %v", a.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Kinds); i++ {
		prev, curr := a.Kinds[i-1], a.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a.Kind, a.Path) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s exactly %d times", describe(a.Kind, a.Path), a.Count),
			Actual:   fmt.Sprintf("found %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertFile(layout config.Layout, a Assertion) error {
	p, err := fsx.SafeJoin(layout.Base, a.Path)
	if err != nil {
		return fmt.Errorf("file %s: %w", a.Path, err)
	}
	data, err := os.ReadFile(p)
	switch {
	case a.Absent:
		if err == nil {
			return &AssertionError{Type: AssertFile, Expected: a.Path + " absent", Actual: "file exists"}
		}
		return nil
	case err != nil:
		return &AssertionError{Type: AssertFile, Expected: a.Path + " present", Actual: err.Error()}
	case string(data) != *a.Content:
		return &AssertionError{
			Type:     AssertFile,
			Expected: fmt.Sprintf("%s = %q", a.Path, *a.Content),
			Actual:   fmt.Sprintf("%q", data),
		}
	}
	return nil
}

// assertKnownGood checks that the file's current hash is the recorded
// baseline. Manifest entries are keyed by their base-relative path, extra
// targets by their absolute path.
func assertKnownGood(ctx context.Context, st *store.Store, layout config.Layout, a Assertion) error {
	known, err := st.KnownGood(ctx)
	if err != nil {
		return fmt.Errorf("known_good: %w", err)
	}
	b, ok := known[a.Path]
	if !ok {
		b, ok = known[layout.Abs(a.Path)]
	}
	if !ok {
		return &AssertionError{Type: AssertKnownGood, Expected: a.Path + " has a baseline", Actual: "no baseline"}
	}
	p, err := fsx.SafeJoin(layout.Base, a.Path)
	if err != nil {
		return fmt.Errorf("known_good %s: %w", a.Path, err)
	}
	sum, err := fsx.HashFile(p)
	if err != nil {
		return &AssertionError{Type: AssertKnownGood, Expected: a.Path + " readable", Actual: err.Error()}
	}
	if sum != b.SHA512 {
		return &AssertionError{
			Type:     AssertKnownGood,
			Expected: fmt.Sprintf("%s baseline %.16s", a.Path, b.SHA512),
			Actual:   fmt.Sprintf("file hash %.16s", sum),
		}
	}
	return nil
}

func describe(kind, path string) string {
	if path == "" {
		return kind
	}
	return kind + " " + path
}

// AssertionContext gives assertions access to the run's files and store.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Layout config.Layout
}

// EvaluateAssertions evaluates all assertions and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFile:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: file requires a run context", i)
			} else {
				err = assertFile(actx.Layout, a)
			}
		case AssertKnownGood:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: known_good requires database context", i)
			} else {
				err = assertKnownGood(actx.Ctx, actx.Store, actx.Layout, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
