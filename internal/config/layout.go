package config

import (
	"fmt"
	"path/filepath"

	"github.com/roach88/rotd/internal/manifest"
)

// Layout names every location under the base directory.
//
//	source/                  pristine input tree
//	rotated/                 transformed tree, same relative paths
//	rotated/manifest.json    signed manifest
//	backup/backup_<ts>/      pre-rotation snapshots
//	mirror/                  standby copies of rotated files
//	forensics/               archives of changed content
//	restored/                default restore output
//	rotd.db                  SQLite state
type Layout struct {
	Base string
}

func (l Layout) Source() string     { return filepath.Join(l.Base, "source") }
func (l Layout) Rotated() string    { return filepath.Join(l.Base, "rotated") }
func (l Layout) BackupRoot() string { return filepath.Join(l.Base, "backup") }
func (l Layout) Mirror() string     { return filepath.Join(l.Base, "mirror") }
func (l Layout) Forensics() string  { return filepath.Join(l.Base, "forensics") }
func (l Layout) Restored() string   { return filepath.Join(l.Base, "restored") }
func (l Layout) DB() string         { return filepath.Join(l.Base, "rotd.db") }

// Manifest returns the manifest path.
func (l Layout) Manifest() string {
	return filepath.Join(l.Rotated(), manifest.FileName)
}

// Backup returns the snapshot directory for a cycle started at ts.
func (l Layout) Backup(ts int64) string {
	return filepath.Join(l.BackupRoot(), fmt.Sprintf("backup_%d", ts))
}

// Rel returns the slash-separated path of p relative to Base, as recorded in
// manifest entries.
func (l Layout) Rel(p string) (string, error) {
	rel, err := filepath.Rel(l.Base, p)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Abs resolves a base-relative slash path.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.Base, filepath.FromSlash(rel))
}
