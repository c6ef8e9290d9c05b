package watchdog

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/rotd/internal/fsx"
)

// FindMirror locates the repair source for rel inside the mirror tree: the
// file at the same relative path if present, otherwise the most recently
// modified file whose name starts with rel's base name.
func FindMirror(root, rel string) (string, bool) {
	if exact, err := fsx.SafeJoin(root, rel); err == nil {
		if info, err := os.Stat(exact); err == nil && info.Mode().IsRegular() {
			return exact, true
		}
	}

	files, err := fsx.Walk(root, nil)
	if err != nil {
		return "", false
	}
	name := path.Base(filepath.ToSlash(rel))

	var (
		best    string
		bestMod int64
	)
	for _, f := range files {
		if !strings.HasPrefix(path.Base(f), name) {
			continue
		}
		p := filepath.Join(root, filepath.FromSlash(f))
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		// Ties go to the later path in sorted order.
		if mod := info.ModTime().UnixNano(); best == "" || mod >= bestMod {
			best, bestMod = p, mod
		}
	}
	return best, best != ""
}
