package store

import (
	"context"
	"fmt"
)

// CycleStatus is the outcome of a rotation cycle.
type CycleStatus string

const (
	CycleOK      CycleStatus = "ok"
	CyclePartial CycleStatus = "partial"
	CycleAborted CycleStatus = "aborted"
)

// Cycle is one rotation cycle's history row.
type Cycle struct {
	ID          string
	StartedAt   int64
	FinishedAt  int64
	Origin      string
	Mode        string
	Param       int
	Seed        string
	ManifestTag string
	Files       int
	Failures    int
	Status      CycleStatus
	Error       string
}

// RecordCycle inserts a cycle row. Duplicate IDs are ignored.
func (s *Store) RecordCycle(ctx context.Context, c Cycle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles
		(id, started_at, finished_at, origin, mode, param, seed, manifest_tag, files, failures, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		c.ID,
		c.StartedAt,
		c.FinishedAt,
		c.Origin,
		c.Mode,
		c.Param,
		c.Seed,
		c.ManifestTag,
		c.Files,
		c.Failures,
		string(c.Status),
		c.Error,
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// Cycles returns up to limit cycles, newest first.
func (s *Store) Cycles(ctx context.Context, limit int) ([]Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, origin, mode, param, seed,
		       manifest_tag, files, failures, status, error
		FROM cycles
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		var status string
		if err := rows.Scan(&c.ID, &c.StartedAt, &c.FinishedAt, &c.Origin, &c.Mode, &c.Param,
			&c.Seed, &c.ManifestTag, &c.Files, &c.Failures, &status, &c.Error); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.Status = CycleStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}
