package store

import (
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCycle returns a cycle with minimal required fields.
func createTestCycle(id string, startedAt int64) Cycle {
	return Cycle{
		ID:         id,
		StartedAt:  startedAt,
		FinishedAt: startedAt + 1,
		Origin:     "source",
		Mode:       "right",
		Param:      3,
		Seed:       "seed-" + id,
		Files:      2,
		Status:     CycleOK,
	}
}
