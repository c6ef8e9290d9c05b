package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Scope separates baselines derived from the manifest from those of
// configured extra targets.
type Scope string

const (
	ScopeManifest Scope = "manifest"
	ScopeTarget   Scope = "target"
)

const metaManifestTag = "manifest_tag"

// Baseline is one known-good row.
type Baseline struct {
	Path      string
	SHA512    string
	Scope     Scope
	Source    string
	UpdatedAt int64
}

// Event is one watchdog finding or action.
type Event struct {
	ID     int64  `json:"id"`
	TickID string `json:"tick_id"`
	At     int64  `json:"at"`
	Path   string `json:"path,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// TickUpdate is every state change produced by one watchdog tick.
type TickUpdate struct {
	TickID string
	At     int64

	// ResetTag, when set, drops all manifest-scope baselines and records
	// the tag as adopted before Upserts are applied.
	ResetTag string

	Upserts []Baseline
	Events  []Event
}

// KnownGood returns every baseline keyed by path.
func (s *Store) KnownGood(ctx context.Context) (map[string]Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, sha512, scope, source, updated_at
		FROM known_good
		ORDER BY path ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query known_good: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Baseline)
	for rows.Next() {
		var b Baseline
		var scope string
		if err := rows.Scan(&b.Path, &b.SHA512, &scope, &b.Source, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan known_good: %w", err)
		}
		b.Scope = Scope(scope)
		out[b.Path] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known_good: %w", err)
	}
	return out, nil
}

// ManifestTag returns the manifest tag the baselines were last reset from,
// or "" if none.
func (s *Store) ManifestTag(ctx context.Context) (string, error) {
	var tag string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaManifestTag).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query manifest tag: %w", err)
	}
	return tag, nil
}

// ApplyTick commits a tick's baseline changes and events atomically.
func (s *Store) ApplyTick(ctx context.Context, u TickUpdate) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if u.ResetTag != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM known_good WHERE scope = ?`, string(ScopeManifest)); err != nil {
				return fmt.Errorf("reset manifest baselines: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO meta (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, metaManifestTag, u.ResetTag); err != nil {
				return fmt.Errorf("record manifest tag: %w", err)
			}
		}

		for _, b := range u.Upserts {
			updated := b.UpdatedAt
			if updated == 0 {
				updated = u.At
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO known_good (path, sha512, scope, source, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(path) DO UPDATE SET
					sha512 = excluded.sha512,
					scope = excluded.scope,
					source = excluded.source,
					updated_at = excluded.updated_at
			`, b.Path, b.SHA512, string(b.Scope), b.Source, updated); err != nil {
				return fmt.Errorf("upsert baseline %s: %w", b.Path, err)
			}
		}

		for _, e := range u.Events {
			at := e.At
			if at == 0 {
				at = u.At
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO watch_events (tick_id, at, path, kind, detail)
				VALUES (?, ?, ?, ?, ?)
			`, u.TickID, at, e.Path, e.Kind, e.Detail); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}
		return nil
	})
}

// Events returns the events recorded for one tick, in insertion order.
func (s *Store) Events(ctx context.Context, tickID string) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, tick_id, at, path, kind, detail
		FROM watch_events
		WHERE tick_id = ?
		ORDER BY id ASC
	`, tickID)
}

// RecentEvents returns the latest limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, tick_id, at, path, kind, detail
		FROM watch_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query watch_events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TickID, &e.At, &e.Path, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan watch_events: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
