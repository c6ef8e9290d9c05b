// Package restore reverses a rotation cycle. The manifest tag is verified
// before anything is written; each entry is then checked against its
// recorded hash and inverted with its recorded kind. A bad entry never stops
// the rest of the tree and never reports success.
package restore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fault"
	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/manifest"
	"github.com/roach88/rotd/internal/metrics"
	"github.com/roach88/rotd/internal/secret"
	"github.com/roach88/rotd/internal/transform"
)

// State is the terminal state of a restore.
type State string

const (
	FullyRestored     State = "FullyRestored"
	PartiallyRestored State = "PartiallyRestored"
	Aborted           State = "Aborted"
)

// Status is the outcome of one entry.
type Status string

const (
	Restored Status = "Restored"
	Failed   Status = "Failed"
)

// EntryResult reports one manifest entry.
type EntryResult struct {
	Path   string `json:"path"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Result is the structured outcome of a restore.
type Result struct {
	State    State              `json:"state"`
	Reason   string             `json:"reason,omitempty"`
	OutDir   string             `json:"out_dir"`
	Entries  []EntryResult      `json:"entries"`
	Manifest *manifest.Manifest `json:"-"`
}

// FailedPaths returns the paths of failed entries in manifest order.
func (r Result) FailedPaths() []string {
	var out []string
	for _, e := range r.Entries {
		if e.Status == Failed {
			out = append(out, e.Path)
		}
	}
	return out
}

// Err converts a non-full result into a fault: INTEGRITY_ERROR when the
// manifest was rejected, PARTIAL_FAILURE when some entries failed.
func (r Result) Err() error {
	switch r.State {
	case FullyRestored:
		return nil
	case Aborted:
		return fault.Newf(fault.KindIntegrity, "restore", "%s", r.Reason)
	default:
		failed := r.FailedPaths()
		return fault.New(fault.KindPartial, "restore", r.OutDir,
			fmt.Errorf("%d of %d entries failed: %s", len(failed), len(r.Entries), strings.Join(failed, ", ")))
	}
}

// Engine restores rotated trees laid out under a base directory.
type Engine struct {
	layout config.Layout
	key    *secret.Key
	logger *slog.Logger
}

// New creates a restore engine.
func New(layout config.Layout, key *secret.Key, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{layout: layout, key: key, logger: logger}
}

// Restore restores from the manifest on disk.
func (e *Engine) Restore(ctx context.Context, outDir string) Result {
	raw, err := manifest.ReadFile(e.layout.Manifest())
	if err != nil {
		metrics.ManifestVerifications.WithLabelValues("invalid").Inc()
		return Result{State: Aborted, Reason: fmt.Sprintf("read: %v", err), OutDir: outDir}
	}
	return e.RestoreManifest(ctx, raw, outDir)
}

// RestoreManifest restores from raw manifest bytes.
func (e *Engine) RestoreManifest(ctx context.Context, raw []byte, outDir string) Result {
	var verdict manifest.Verdict
	if err := e.key.Use(func(key []byte) error {
		verdict = manifest.Verify(raw, key)
		return nil
	}); err != nil {
		return Result{State: Aborted, Reason: err.Error(), OutDir: outDir}
	}
	if !verdict.Valid {
		metrics.ManifestVerifications.WithLabelValues("invalid").Inc()
		e.logger.Error("restore aborted: manifest rejected", "reason", verdict.Reason)
		return Result{State: Aborted, Reason: verdict.Reason, OutDir: outDir}
	}
	metrics.ManifestVerifications.WithLabelValues("valid").Inc()

	m := verdict.Manifest
	res := Result{State: FullyRestored, OutDir: outDir, Manifest: m}
	params := m.Params()

	for _, rel := range m.Paths() {
		var er EntryResult
		if err := ctx.Err(); err != nil {
			er = EntryResult{Path: rel, Status: Failed, Reason: err.Error()}
		} else {
			er = e.restoreEntry(rel, m.Entries[rel], params, outDir)
		}
		res.Entries = append(res.Entries, er)
		if er.Status == Failed {
			res.State = PartiallyRestored
			metrics.RestoreEntries.WithLabelValues("failed").Inc()
			e.logger.Warn("entry not restored", "path", rel, "reason", er.Reason)
		} else {
			metrics.RestoreEntries.WithLabelValues("restored").Inc()
		}
	}

	e.logger.Info("restore finished", "state", string(res.State),
		"entries", len(res.Entries), "failed", len(res.FailedPaths()))
	return res
}

func (e *Engine) restoreEntry(rel string, entry manifest.Entry, p transform.Params, outDir string) EntryResult {
	fail := func(format string, args ...any) EntryResult {
		return EntryResult{Path: rel, Status: Failed, Reason: fmt.Sprintf(format, args...)}
	}

	if entry.Failed() {
		return fail("not rotated: %s", entry.Error)
	}
	dst, err := fsx.SafeJoin(outDir, rel)
	if err != nil {
		return fail("output path: %v", err)
	}
	src, err := fsx.SafeJoin(e.layout.Base, entry.Rotated)
	if err != nil {
		return fail("rotated path: %v", err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fail("read: %v", err)
	}

	// Failed entries keep their transformed bytes in the output so the tree
	// is complete, never masquerading as restored content.
	keep := func(reason string) EntryResult {
		if err := fsx.WriteFileAtomic(dst, data, 0o644); err != nil {
			return fail("%s; copy transformed bytes: %v", reason, err)
		}
		return fail("%s", reason)
	}

	if got := fsx.HashBytes(data); got != entry.SHA512 {
		return keep("hash mismatch")
	}
	original, err := transform.Invert(p, entry.Kind, data)
	if err != nil {
		return keep(fmt.Sprintf("invert: %v", err))
	}
	if err := fsx.WriteFileAtomic(dst, original, 0o644); err != nil {
		return fail("write: %v", err)
	}
	return EntryResult{Path: rel, Status: Restored}
}
