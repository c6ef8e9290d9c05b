package rotation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fault"
)

const backupPrefix = "backup_"

// Backup is one snapshot directory.
type Backup struct {
	Path      string
	Timestamp int64
}

// Backups lists snapshots oldest first. Directories that do not match
// backup_<unix ts> are ignored.
func Backups(layout config.Layout) ([]Backup, error) {
	root := layout.BackupRoot()
	dirents, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var out []Backup
	for _, d := range dirents {
		if !d.IsDir() || !strings.HasPrefix(d.Name(), backupPrefix) {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimPrefix(d.Name(), backupPrefix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Backup{Path: filepath.Join(root, d.Name()), Timestamp: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// LatestBackup returns the newest snapshot directory. No snapshot is a
// MissingResource fault.
func LatestBackup(layout config.Layout) (string, error) {
	backups, err := Backups(layout)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fault.New(fault.KindMissing, "latest backup", layout.BackupRoot(), errors.New("no backup snapshots"))
	}
	return backups[len(backups)-1].Path, nil
}
