package watchdog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFS calls wake after filesystem activity under the given directories
// settles for debounce. Subdirectories are watched recursively, including
// ones created later. Hidden files (the atomic-write temp files among them)
// are ignored. It blocks until ctx is cancelled.
func WatchFS(ctx context.Context, dirs []string, debounce time.Duration, logger *slog.Logger, wake func()) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := addTree(watcher, dir); err != nil {
			logger.Warn("fs watch: cannot watch directory", "dir", dir, "error", err)
		}
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Has(fsnotify.Create) {
				_ = addTree(watcher, event.Name)
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			logger.Debug("fs watch: change settled, waking watchdog")
			wake()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("fs watch error", "error", err)
		}
	}
}

// addTree watches dir and every directory below it. A non-directory path is
// ignored.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
