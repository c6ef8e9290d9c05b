// Package rotation runs rotation cycles: snapshot the source tree, transform
// every file into the rotated tree and the mirror, then sign and persist a
// manifest describing the result.
//
// A cycle either signs a manifest that covers every file it wrote (with
// failure markers for files it could not process), or, with AbortOnError,
// leaves the previous manifest in place.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fault"
	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/manifest"
	"github.com/roach88/rotd/internal/metrics"
	"github.com/roach88/rotd/internal/publish"
	"github.com/roach88/rotd/internal/secret"
	"github.com/roach88/rotd/internal/store"
	"github.com/roach88/rotd/internal/transform"
)

// ErrAborted is returned when AbortOnError stops a cycle before signing.
var ErrAborted = errors.New("rotation aborted")

// Options select the transform for one cycle. Zero fields fall back to the
// engine defaults; an empty Seed is replaced by a fresh UUIDv7.
type Options struct {
	Mode  transform.Mode
	Param int
	// ParamSet marks an explicit Param of zero. A zero Param without it
	// takes the configured default.
	ParamSet bool
	Seed     string
	Source   string
}

// Config wires an Engine.
type Config struct {
	Layout       config.Layout
	Key          *secret.Key
	Store        *store.Store
	Publisher    publish.Publisher
	Defaults     Options
	AbortOnError bool
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine runs cycles one at a time.
type Engine struct {
	cfg Config
	mu  sync.Mutex
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = publish.Nop{}
	}
	return &Engine{cfg: cfg}
}

// RotateCycle snapshots opts.Source into a new backup and rotates it.
func (e *Engine) RotateCycle(ctx context.Context, opts Options) (*manifest.Manifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle(ctx, e.resolve(opts), true)
}

// RecoverFromBackup rotates the most recent backup snapshot. No new backup
// is taken.
func (e *Engine) RecoverFromBackup(ctx context.Context) (*manifest.Manifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, err := LatestBackup(e.cfg.Layout)
	if err != nil {
		return nil, err
	}
	opts := e.resolve(Options{Source: src})
	e.cfg.Logger.Info("recovering from backup", "backup", filepath.Base(src))
	return e.cycle(ctx, opts, false)
}

func (e *Engine) resolve(opts Options) Options {
	d := e.cfg.Defaults
	if opts.Mode == "" {
		opts.Mode = d.Mode
	}
	if opts.Param == 0 && !opts.ParamSet {
		opts.Param = d.Param
	}
	if opts.Seed == "" {
		opts.Seed = d.Seed
	}
	if opts.Seed == "" {
		opts.Seed = newSeed()
	}
	if opts.Source == "" {
		opts.Source = e.cfg.Layout.Source()
	}
	return opts
}

func newSeed() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// staged is a transformed file waiting to be written.
type staged struct {
	rel  string
	kind transform.Kind
	data []byte
}

func (e *Engine) cycle(ctx context.Context, opts Options, backup bool) (*manifest.Manifest, error) {
	log := e.cfg.Logger
	layout := e.cfg.Layout
	start := e.cfg.Now()
	ts := start.Unix()

	params := transform.Params{Mode: opts.Mode, Param: opts.Param, Seed: opts.Seed}
	if err := params.Validate(); err != nil {
		return nil, fault.New(fault.KindConfig, "rotate", "", err)
	}

	rec := store.Cycle{
		ID:        uuid.NewString(),
		StartedAt: ts,
		Origin:    originName(layout, opts.Source),
		Mode:      string(opts.Mode),
		Param:     opts.Param,
		Seed:      opts.Seed,
	}

	if backup {
		dst := layout.Backup(ts)
		err := fsx.Snapshot(opts.Source, dst)
		switch {
		case err == nil:
			log.Info("backup snapshot created", "backup", filepath.Base(dst))
		case errors.Is(err, fsx.ErrExists):
			log.Debug("backup snapshot already exists", "backup", filepath.Base(dst))
		default:
			return nil, e.abort(ctx, rec, start, fmt.Errorf("backup snapshot: %w", err))
		}
	}

	files, err := fsx.Walk(opts.Source, nil)
	if err != nil {
		return nil, e.abort(ctx, rec, start, fmt.Errorf("walk source: %w", err))
	}

	entries := make(map[string]manifest.Entry, len(files))
	var ready []staged
	for _, rel := range files {
		s, err := e.stage(opts.Source, rel, params)
		if err != nil {
			if e.cfg.AbortOnError {
				return nil, e.abort(ctx, rec, start, fmt.Errorf("%s: %w", rel, err))
			}
			log.Warn("rotation failed for file", "path", rel, "error", err)
			entries[rel] = manifest.Entry{Error: err.Error()}
			continue
		}
		ready = append(ready, s)
	}

	for _, s := range ready {
		entry, err := e.commit(s)
		if err != nil {
			if e.cfg.AbortOnError {
				return nil, e.abort(ctx, rec, start, fmt.Errorf("%s: %w", s.rel, err))
			}
			log.Warn("write rotated file failed", "path", s.rel, "error", err)
			entries[s.rel] = manifest.Entry{Error: err.Error()}
			continue
		}
		entries[s.rel] = entry
		metrics.FilesRotated.WithLabelValues(string(s.kind)).Inc()
	}

	m := &manifest.Manifest{
		Version:   manifest.Version,
		Timestamp: ts,
		Seed:      opts.Seed,
		Mode:      opts.Mode,
		Param:     opts.Param,
		Entries:   entries,
	}
	if err := e.cfg.Key.Use(func(key []byte) error {
		return manifest.SignManifest(m, key)
	}); err != nil {
		return nil, e.abort(ctx, rec, start, fmt.Errorf("sign manifest: %w", err))
	}
	if err := manifest.Save(layout.Manifest(), m); err != nil {
		return nil, e.abort(ctx, rec, start, fmt.Errorf("save manifest: %w", err))
	}

	failures := m.Failures()
	metrics.FilesRotated.WithLabelValues("failed").Add(float64(len(failures)))
	rec.ManifestTag = m.HMAC
	rec.Files = len(entries)
	rec.Failures = len(failures)
	rec.Status = store.CycleOK
	if len(failures) > 0 {
		rec.Status = store.CyclePartial
	}
	e.finish(ctx, rec, start)

	for _, root := range []string{layout.Rotated(), layout.Mirror()} {
		if n := e.prune(root, entries); n > 0 {
			log.Info("pruned stale files", "dir", filepath.Base(root), "files", n)
		}
	}

	log.Info("rotation cycle complete",
		"mode", string(m.Mode),
		"param", m.Param,
		"seed", m.Seed,
		"files", len(entries),
		"failures", len(failures),
	)

	if err := e.cfg.Publisher.Publish(ctx, layout.Rotated(), m); err != nil {
		log.Warn("publish failed", "publisher", e.cfg.Publisher.Name(), "error", err)
	}
	return m, nil
}

// stage reads and transforms one source file.
func (e *Engine) stage(root, rel string, p transform.Params) (staged, error) {
	if rel == manifest.FileName {
		return staged{}, fmt.Errorf("rotated path collides with %s", manifest.FileName)
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return staged{}, err
	}
	kind := transform.Classify(data)
	out, err := transform.Apply(p, kind, data)
	if err != nil {
		return staged{}, err
	}
	return staged{rel: rel, kind: kind, data: out}, nil
}

// commit writes the rotated file and its mirror copy.
func (e *Engine) commit(s staged) (manifest.Entry, error) {
	layout := e.cfg.Layout
	rotated, err := fsx.SafeJoin(layout.Rotated(), s.rel)
	if err != nil {
		return manifest.Entry{}, err
	}
	mirror, err := fsx.SafeJoin(layout.Mirror(), s.rel)
	if err != nil {
		return manifest.Entry{}, err
	}
	if err := fsx.WriteFileAtomic(rotated, s.data, 0o644); err != nil {
		return manifest.Entry{}, err
	}
	if err := fsx.WriteFileAtomic(mirror, s.data, 0o644); err != nil {
		return manifest.Entry{}, fmt.Errorf("mirror: %w", err)
	}
	return manifest.Entry{
		Rotated: path.Join("rotated", s.rel),
		SHA512:  fsx.HashBytes(s.data),
		Kind:    s.kind,
	}, nil
}

// prune removes files under root that have no manifest entry, along with
// directories left empty. The manifest file and a .git directory are kept.
// Failures are logged and skipped.
func (e *Engine) prune(root string, keep map[string]manifest.Entry) int {
	files, err := fsx.Walk(root, func(rel string) bool { return rel == ".git" })
	if err != nil {
		e.cfg.Logger.Warn("prune: walk failed", "dir", root, "error", err)
		return 0
	}
	removed := 0
	for _, rel := range files {
		if _, ok := keep[rel]; ok || rel == manifest.FileName {
			continue
		}
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.Remove(p); err != nil {
			e.cfg.Logger.Warn("prune: remove failed", "path", p, "error", err)
			continue
		}
		removed++
		for dir := filepath.Dir(p); dir != root; dir = filepath.Dir(dir) {
			if os.Remove(dir) != nil {
				break // not empty
			}
		}
	}
	return removed
}

func (e *Engine) abort(ctx context.Context, rec store.Cycle, start time.Time, cause error) error {
	rec.Status = store.CycleAborted
	rec.Error = cause.Error()
	e.finish(ctx, rec, start)
	e.cfg.Logger.Error("rotation cycle aborted", "error", cause)
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}

func (e *Engine) finish(ctx context.Context, rec store.Cycle, start time.Time) {
	finished := e.cfg.Now()
	rec.FinishedAt = finished.Unix()
	metrics.CyclesTotal.WithLabelValues(string(rec.Status)).Inc()
	metrics.CycleDuration.Observe(finished.Sub(start).Seconds())

	if e.cfg.Store == nil {
		return
	}
	if err := e.cfg.Store.RecordCycle(ctx, rec); err != nil {
		e.cfg.Logger.Warn("record cycle failed", "cycle", rec.ID, "error", err)
	}
}

func originName(layout config.Layout, src string) string {
	if rel, err := layout.Rel(src); err == nil && rel != "" && rel[0] != '.' {
		return rel
	}
	return src
}
