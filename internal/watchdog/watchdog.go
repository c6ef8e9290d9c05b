// Package watchdog re-validates the rotated tree on every tick and repairs
// drift.
//
// A tick moves Idle -> Checking -> {Healthy, Repairing}. The outcome is held
// until the next tick starts; a tick that fails on the store returns to Idle.
//
//  1. Verify the manifest tag. A corrupt or missing manifest is alerted and
//     then recovered by re-rotating the latest backup.
//  2. When the manifest tag changed since the last tick, the known-good
//     hashes of the rotated tree are reset to the manifest's.
//  3. Every manifest entry and configured target is hashed and compared
//     with its known-good value. Missing files are restored from the mirror;
//     changed files are archived, alerted, then repaired from the mirror or
//     accepted as the new baseline when no mirror exists.
//  4. Known-good changes and the tick's events are committed in one
//     transaction.
//
// Evidence always precedes remediation: the alert (and forensic archive for
// changed content) is produced before any file is touched.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/rotd/internal/alert"
	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/forensics"
	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/manifest"
	"github.com/roach88/rotd/internal/metrics"
	"github.com/roach88/rotd/internal/secret"
	"github.com/roach88/rotd/internal/store"
)

// State is the watchdog's position in the tick cycle.
type State string

const (
	Idle      State = "Idle"
	Checking  State = "Checking"
	Healthy   State = "Healthy"
	Repairing State = "Repairing"
)

// ManifestStatus is the outcome of a tick's manifest check.
type ManifestStatus string

const (
	ManifestValid     ManifestStatus = "Valid"
	ManifestCorrupt   ManifestStatus = "Corrupt"
	ManifestRecovered ManifestStatus = "Recovered"
)

// Event kinds recorded per tick.
const (
	EventManifestCorrupt = "ManifestCorrupt"
	EventRecovered       = "RecoveredFromBackup"
	EventRecoveryFailed  = "RecoveryFailed"
	EventBaselineReset   = "BaselineReset"
	EventBaselined       = "Baselined"
	EventRestoredMissing = "RestoredFromMirror"
	EventMissingNoMirror = "MissingNoMirror"
	EventHashMismatch    = "HashMismatch"
	EventRepaired        = "RepairedFromMirror"
	EventDriftAccepted   = "DriftAccepted"
	EventReadError       = "ReadError"
)

// Recoverer rebuilds the rotated tree and manifest from the newest backup.
type Recoverer interface {
	RecoverFromBackup(ctx context.Context) (*manifest.Manifest, error)
}

// TickReport summarizes one tick.
type TickReport struct {
	TickID         string         `json:"tick_id"`
	State          State          `json:"state"`
	ManifestStatus ManifestStatus `json:"manifest_status"`
	ManifestReason string         `json:"manifest_reason,omitempty"`
	Checked        int            `json:"checked"`
	Events         []store.Event  `json:"events"`
}

// Config wires a Watchdog.
type Config struct {
	Layout    config.Layout
	Key       *secret.Key
	Store     *store.Store
	Recoverer Recoverer
	Notifier  alert.Notifier
	Targets   []config.Target
	Logger    *slog.Logger
	Now       func() time.Time
}

// Watchdog checks and repairs the rotated tree. Tick must not be called
// concurrently; wrap it in a loop.Loop for scheduling.
type Watchdog struct {
	cfg      Config
	archiver *forensics.Archiver
	state    atomic.Value
}

// New creates a watchdog.
func New(cfg Config) *Watchdog {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = alert.LogNotifier{Logger: cfg.Logger}
	}
	w := &Watchdog{
		cfg:      cfg,
		archiver: &forensics.Archiver{Dir: cfg.Layout.Forensics(), Now: cfg.Now},
	}
	w.state.Store(Idle)
	return w
}

// State returns Checking during a tick and the last tick's outcome between
// ticks.
func (w *Watchdog) State() State {
	return w.state.Load().(State)
}

// Run is a loop.Func adapter for Tick.
func (w *Watchdog) Run(ctx context.Context) error {
	_, err := w.Tick(ctx)
	return err
}

// watched is one path under observation.
type watched struct {
	key    string // known-good table key
	path   string // absolute file path
	scope  store.Scope
	lookup string // name searched for in the mirror tree
	mirror string // explicit mirror file, if configured
}

// tick accumulates one tick's effects.
type tick struct {
	id      string
	at      int64
	events  []store.Event
	upserts []store.Baseline
	repairs int
}

func (t *tick) event(path, kind, detail string) {
	t.events = append(t.events, store.Event{TickID: t.id, At: t.at, Path: path, Kind: kind, Detail: detail})
	metrics.Repairs.WithLabelValues(kind).Inc()
}

func (t *tick) adopt(item watched, sha, source string) {
	t.upserts = append(t.upserts, store.Baseline{
		Path:   item.key,
		SHA512: sha,
		Scope:  item.scope,
		Source: source,
	})
}

// Tick runs one check-and-repair pass. Integrity findings never produce an
// error; only a failing store does.
func (w *Watchdog) Tick(ctx context.Context) (TickReport, error) {
	w.state.Store(Checking)
	report, err := w.check(ctx)
	if err != nil {
		w.state.Store(Idle)
		return report, err
	}
	w.state.Store(report.State)
	return report, nil
}

func (w *Watchdog) check(ctx context.Context) (TickReport, error) {
	log := w.cfg.Logger
	t := &tick{id: uuid.NewString(), at: w.cfg.Now().Unix()}
	report := TickReport{TickID: t.id}

	known, err := w.cfg.Store.KnownGood(ctx)
	if err != nil {
		return report, fmt.Errorf("load known-good hashes: %w", err)
	}
	tag, err := w.cfg.Store.ManifestTag(ctx)
	if err != nil {
		return report, fmt.Errorf("load manifest tag: %w", err)
	}

	m := w.checkManifest(ctx, t, &report)

	update := store.TickUpdate{TickID: t.id, At: t.at}
	if m != nil && m.HMAC != tag {
		update.ResetTag = m.HMAC
		for key, b := range known {
			if b.Scope == store.ScopeManifest {
				delete(known, key)
			}
		}
		for _, rel := range m.Paths() {
			e := m.Entries[rel]
			if e.Failed() {
				continue
			}
			b := store.Baseline{Path: e.Rotated, SHA512: e.SHA512, Scope: store.ScopeManifest, Source: "manifest"}
			known[e.Rotated] = b
			t.upserts = append(t.upserts, b)
		}
		t.event(manifest.FileName, EventBaselineReset, fmt.Sprintf("tag %.16s", m.HMAC))
		log.Info("known-good hashes reset to new manifest", "entries", len(m.Entries))
	}

	items := w.watchList(m)
	for _, item := range items {
		w.checkPath(ctx, t, item, known)
	}
	report.Checked = len(items)

	update.Upserts = t.upserts
	update.Events = t.events
	if err := w.cfg.Store.ApplyTick(ctx, update); err != nil {
		return report, fmt.Errorf("commit tick: %w", err)
	}

	report.Events = t.events
	report.State = Healthy
	if t.repairs > 0 || report.ManifestStatus != ManifestValid {
		report.State = Repairing
	}
	metrics.WatchdogTicks.WithLabelValues(string(report.State)).Inc()
	log.Debug("watchdog tick", "tick", t.id, "state", string(report.State),
		"manifest", string(report.ManifestStatus), "checked", report.Checked, "events", len(t.events))
	return report, nil
}

// checkManifest verifies the manifest and recovers it when invalid. It
// returns the manifest to trust for this tick, or nil.
func (w *Watchdog) checkManifest(ctx context.Context, t *tick, report *TickReport) *manifest.Manifest {
	path := w.cfg.Layout.Manifest()

	var verdict manifest.Verdict
	if err := w.cfg.Key.Use(func(key []byte) error {
		verdict = manifest.Load(path, key)
		return nil
	}); err != nil {
		verdict = manifest.Verdict{Reason: err.Error()}
	}
	if verdict.Valid {
		metrics.ManifestVerifications.WithLabelValues("valid").Inc()
		report.ManifestStatus = ManifestValid
		return verdict.Manifest
	}
	metrics.ManifestVerifications.WithLabelValues("invalid").Inc()

	report.ManifestStatus = ManifestCorrupt
	report.ManifestReason = verdict.Reason
	t.repairs++

	evidence, err := w.archiver.Capture(path, EventManifestCorrupt, "")
	if err != nil {
		w.cfg.Logger.Warn("forensic capture failed", "path", path, "error", err)
	}
	w.notify(ctx, alert.KindManifestCorrupt, manifest.FileName, verdict.Reason, evidence)
	t.event(manifest.FileName, EventManifestCorrupt, verdict.Reason)

	if w.cfg.Recoverer == nil {
		return nil
	}
	m, err := w.cfg.Recoverer.RecoverFromBackup(ctx)
	if err != nil {
		w.notify(ctx, alert.KindRecoveryFailed, manifest.FileName, err.Error(), evidence)
		t.event(manifest.FileName, EventRecoveryFailed, err.Error())
		return nil
	}
	report.ManifestStatus = ManifestRecovered
	t.event(manifest.FileName, EventRecovered, fmt.Sprintf("tag %.16s", m.HMAC))
	return m
}

func (w *Watchdog) watchList(m *manifest.Manifest) []watched {
	var items []watched
	if m != nil {
		for _, rel := range m.Paths() {
			e := m.Entries[rel]
			if e.Failed() {
				continue
			}
			items = append(items, watched{
				key:    e.Rotated,
				path:   w.cfg.Layout.Abs(e.Rotated),
				scope:  store.ScopeManifest,
				lookup: rel,
			})
		}
	}
	for _, target := range w.cfg.Targets {
		p := target.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(w.cfg.Layout.Base, p)
		}
		p = filepath.Clean(p)
		items = append(items, watched{
			key:    p,
			path:   p,
			scope:  store.ScopeTarget,
			lookup: filepath.Base(p),
			mirror: target.Mirror,
		})
	}
	return items
}

func (w *Watchdog) checkPath(ctx context.Context, t *tick, item watched, known map[string]store.Baseline) {
	log := w.cfg.Logger.With("path", item.key)

	data, err := os.ReadFile(item.path)
	if errors.Is(err, fs.ErrNotExist) {
		w.repairMissing(ctx, t, item)
		return
	}
	if err != nil {
		log.Warn("read watched file failed", "error", err)
		t.event(item.key, EventReadError, err.Error())
		return
	}
	observed := fsx.HashBytes(data)

	base, ok := known[item.key]
	if !ok {
		t.adopt(item, observed, "baseline")
		t.event(item.key, EventBaselined, "")
		log.Info("baselined new target")
		return
	}
	if observed == base.SHA512 {
		return
	}

	t.repairs++
	evidence, err := w.archiver.Capture(item.path, EventHashMismatch, base.SHA512)
	if err != nil {
		log.Warn("forensic capture failed", "error", err)
	}
	w.notify(ctx, alert.KindHashMismatch, item.key,
		fmt.Sprintf("expected %.16s observed %.16s", base.SHA512, observed), evidence)
	t.event(item.key, EventHashMismatch, evidence)

	if mirror, ok := w.findMirror(item); ok {
		sha, err := restoreFrom(mirror, item.path)
		if err == nil {
			t.adopt(item, sha, "mirror")
			t.event(item.key, EventRepaired, mirror)
			log.Info("repaired from mirror", "mirror", mirror)
			return
		}
		log.Warn("mirror repair failed", "mirror", mirror, "error", err)
	}

	t.adopt(item, observed, "observed")
	t.event(item.key, EventDriftAccepted, "")
	w.notify(ctx, alert.KindDriftAccepted, item.key, "no usable mirror; observed content adopted", evidence)
}

func (w *Watchdog) repairMissing(ctx context.Context, t *tick, item watched) {
	t.repairs++
	mirror, ok := w.findMirror(item)
	if !ok {
		w.notify(ctx, alert.KindMissingNoMirror, item.key, "file missing and no mirror found", "")
		t.event(item.key, EventMissingNoMirror, "")
		return
	}

	w.notify(ctx, alert.KindMissing, item.key, "file missing; restoring from mirror", mirror)
	sha, err := restoreFrom(mirror, item.path)
	if err != nil {
		w.cfg.Logger.Warn("mirror restore failed", "path", item.key, "mirror", mirror, "error", err)
		t.event(item.key, EventMissingNoMirror, err.Error())
		return
	}
	t.adopt(item, sha, "mirror")
	t.event(item.key, EventRestoredMissing, mirror)
}

func (w *Watchdog) findMirror(item watched) (string, bool) {
	if item.mirror != "" {
		p := item.mirror
		if !filepath.IsAbs(p) {
			p = filepath.Join(w.cfg.Layout.Base, p)
		}
		if fsx.Exists(p) {
			return p, true
		}
		return "", false
	}
	return FindMirror(w.cfg.Layout.Mirror(), item.lookup)
}

// restoreFrom copies src over dst and returns the hash of what was written.
func restoreFrom(src, dst string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := fsx.CopyFile(src, dst); err != nil {
		return "", err
	}
	return fsx.HashFile(dst)
}

func (w *Watchdog) notify(ctx context.Context, kind alert.Kind, path, detail, evidence string) {
	a := alert.Alert{
		ID:       uuid.NewString(),
		Kind:     kind,
		Path:     path,
		Detail:   detail,
		Evidence: evidence,
		At:       w.cfg.Now().UTC(),
	}
	if err := w.cfg.Notifier.Notify(ctx, a); err != nil {
		w.cfg.Logger.Warn("alert delivery failed", "kind", string(kind), "path", path, "error", err)
	}
}
