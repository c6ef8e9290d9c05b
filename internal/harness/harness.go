package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/rotd/internal/alert"
	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/manifest"
	"github.com/roach88/rotd/internal/restore"
	"github.com/roach88/rotd/internal/rotation"
	"github.com/roach88/rotd/internal/secret"
	"github.com/roach88/rotd/internal/store"
	"github.com/roach88/rotd/internal/testutil"
	"github.com/roach88/rotd/internal/transform"
	"github.com/roach88/rotd/internal/watchdog"
)

// Harness executes one scenario inside a private base directory.
type Harness struct {
	layout   config.Layout
	key      *secret.Key
	store    *store.Store
	rotator  *rotation.Engine
	watchdog *watchdog.Watchdog
	restorer *restore.Engine
	clock    *testutil.StepClock
	logger   *slog.Logger

	result *Result
	step   int
	action string
}

// Options tunes a run.
type Options struct {
	// Dir is the parent of the per-run base directory. Empty uses the
	// system temp dir.
	Dir string

	// Keep leaves the base directory in place after the run.
	Keep bool

	Logger *slog.Logger
}

// Run executes a scenario and evaluates its assertions. The returned error
// covers harness failures only; scenario failures are in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	base, err := os.MkdirTemp(opts.Dir, "rotd-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if !opts.Keep {
		defer os.RemoveAll(base)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h, err := newHarness(base, scenario, logger)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	for rel, content := range scenario.Source {
		p, err := fsx.SafeJoin(h.layout.Source(), rel)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", rel, err)
		}
		if err := fsx.WriteFileAtomic(p, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write source %q: %w", rel, err)
		}
	}

	for i, step := range scenario.Steps {
		h.step, h.action = i, step.Action
		state, err := h.execute(ctx, step)
		if err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Action, err))
			continue
		}
		if step.Expect != "" && state != step.Expect {
			h.result.AddError(fmt.Sprintf("steps[%d] %s: expected state %s, got %s", i, step.Action, step.Expect, state))
		}
	}

	actx := &AssertionContext{Ctx: ctx, Store: h.store, Layout: h.layout}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(base string, s *Scenario, logger *slog.Logger) (*Harness, error) {
	layout := config.Layout{Base: base}
	key, err := secret.New([]byte(testutil.TestKey))
	if err != nil {
		return nil, err
	}
	st, err := store.Open(layout.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	h := &Harness{
		layout: layout,
		key:    key,
		store:  st,
		clock:  testutil.NewStepClock(testutil.Epoch, 0),
		logger: logger,
		result: NewResult(),
	}

	defaults := rotation.Options{Param: s.Rotation.Param, Seed: s.Rotation.Seed}
	if s.Rotation.Mode != "" {
		defaults.Mode = transform.Mode(s.Rotation.Mode)
	} else {
		defaults.Mode = transform.ModeRight
	}
	h.rotator = rotation.New(rotation.Config{
		Layout:       layout,
		Key:          key,
		Store:        st,
		Defaults:     defaults,
		AbortOnError: s.AbortOnError,
		Logger:       logger,
		Now:          h.clock.Now,
	})

	targets := make([]config.Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		ct := config.Target{Path: layout.Abs(t.Path)}
		if t.Mirror != "" {
			ct.Mirror = layout.Abs(t.Mirror)
		}
		targets = append(targets, ct)
	}
	h.watchdog = watchdog.New(watchdog.Config{
		Layout:    layout,
		Key:       key,
		Store:     st,
		Recoverer: h.rotator,
		Notifier:  alert.NotifierFunc(h.recordAlert),
		Targets:   targets,
		Logger:    logger,
		Now:       h.clock.Now,
	})
	h.restorer = restore.New(layout, key, logger)
	return h, nil
}

func (h *Harness) emit(kind, path, state, detail string) {
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Seq:    len(h.result.Trace) + 1,
		Step:   h.step,
		Action: h.action,
		Kind:   kind,
		Path:   h.display(path),
		State:  state,
		Detail: detail,
	})
}

// display maps absolute paths under the base directory to base-relative
// ones so traces do not depend on where the run happened.
func (h *Harness) display(p string) string {
	if !filepath.IsAbs(p) {
		return p
	}
	if rel, err := h.layout.Rel(p); err == nil {
		return rel
	}
	return p
}

func (h *Harness) recordAlert(_ context.Context, a alert.Alert) error {
	h.emit("Alert:"+string(a.Kind), a.Path, "", a.Detail)
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) (string, error) {
	switch step.Action {
	case ActionRotate:
		m, err := h.rotator.RotateCycle(ctx, rotation.Options{
			Mode:  transform.Mode(step.Mode),
			Param: step.Param,
			Seed:  step.Seed,
		})
		return h.cycleOutcome("Rotate", m, err, step.Expect)

	case ActionRecover:
		m, err := h.rotator.RecoverFromBackup(ctx)
		return h.cycleOutcome("Recover", m, err, step.Expect)

	case ActionWrite, ActionTamper:
		p, err := fsx.SafeJoin(h.layout.Base, step.Path)
		if err != nil {
			return "", err
		}
		if step.Action == ActionTamper && !fsx.Exists(p) {
			return "", fmt.Errorf("%s does not exist", step.Path)
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(p, []byte(*step.Content), 0o644); err != nil {
			return "", err
		}
		kind := "Written"
		if step.Action == ActionTamper {
			kind = "Tampered"
		}
		h.emit(kind, step.Path, "", "")
		return "", nil

	case ActionDelete:
		p, err := fsx.SafeJoin(h.layout.Base, step.Path)
		if err != nil {
			return "", err
		}
		if err := os.RemoveAll(p); err != nil {
			return "", err
		}
		h.emit("Deleted", step.Path, "", "")
		return "", nil

	case ActionCorruptManifest:
		raw, err := manifest.ReadFile(h.layout.Manifest())
		if err != nil {
			return "", err
		}
		m, err := manifest.Parse(raw)
		if err != nil {
			return "", err
		}
		// Changing a signed field without re-signing invalidates the tag.
		m.Param++
		data, err := manifest.Encode(m)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(h.layout.Manifest(), data, 0o644); err != nil {
			return "", err
		}
		h.emit("ManifestCorrupted", manifest.FileName, "", "")
		return "", nil

	case ActionTick:
		report, err := h.watchdog.Tick(ctx)
		if err != nil {
			return "", err
		}
		for _, ev := range report.Events {
			h.emit(ev.Kind, ev.Path, "", ev.Detail)
		}
		h.emit("Tick", "", string(report.State), string(report.ManifestStatus))
		return string(report.State), nil

	case ActionRestore:
		if err := os.RemoveAll(h.layout.Restored()); err != nil {
			return "", err
		}
		res := h.restorer.Restore(ctx, h.layout.Restored())
		for _, e := range res.Entries {
			if e.Status == restore.Failed {
				h.emit("RestoreFailed", e.Path, "", e.Reason)
			}
		}
		h.emit("Restore", "", string(res.State), res.Reason)
		return string(res.State), nil

	case ActionVerify:
		var verdict manifest.Verdict
		if err := h.key.Use(func(key []byte) error {
			verdict = manifest.Load(h.layout.Manifest(), key)
			return nil
		}); err != nil {
			return "", err
		}
		state := "Valid"
		if !verdict.Valid {
			state = "Invalid"
		}
		h.emit("Verify", "", state, verdict.Reason)
		return state, nil
	}
	return "", fmt.Errorf("unknown action %q", step.Action)
}

// cycleOutcome traces a rotation cycle. An aborted cycle is a step error
// unless the scenario expects it.
func (h *Harness) cycleOutcome(kind string, m *manifest.Manifest, err error, expect string) (string, error) {
	if err != nil {
		h.emit(kind, "", "aborted", err.Error())
		if expect == "aborted" {
			return "aborted", nil
		}
		return "aborted", err
	}
	for _, rel := range m.Failures() {
		h.emit("RotateFailed", rel, "", m.Entries[rel].Error)
	}
	state := "ok"
	if len(m.Failures()) > 0 {
		state = "partial"
	}
	h.emit(kind, "", state, fmt.Sprintf("mode %s param %d", m.Mode, m.Param))
	return state, nil
}
