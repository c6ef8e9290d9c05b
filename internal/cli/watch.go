package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rotd/internal/loop"
	"github.com/roach88/rotd/internal/watchdog"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the integrity watchdog",
		Long: `Check the manifest and every watched file on an interval, repairing
missing or changed files from the mirror and rebuilding a corrupted manifest
from the latest backup. With --once a single tick runs and its report is
printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if once {
				return runWatchOnce(rootOpts, cmd)
			}
			return runWatch(rootOpts, cmd)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	return cmd
}

func runWatchOnce(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, appNeeds{key: true, store: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	eng, cleanup, err := a.rotator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := a.watchdog(eng).Tick(ctx)
	if err != nil {
		return wrapFault("watchdog tick failed", err)
	}
	return opts.formatter(cmd).Success(report, func(w io.Writer) {
		writeTickText(w, report)
	})
}

func writeTickText(w io.Writer, r watchdog.TickReport) {
	fmt.Fprintf(w, "Tick %s: %s (manifest %s, %d files checked)\n", r.TickID, r.State, r.ManifestStatus, r.Checked)
	if r.ManifestReason != "" {
		fmt.Fprintf(w, "  manifest: %s\n", r.ManifestReason)
	}
	for _, ev := range r.Events {
		if ev.Path != "" {
			fmt.Fprintf(w, "  %s %s\n", ev.Kind, ev.Path)
		} else {
			fmt.Fprintf(w, "  %s\n", ev.Kind)
		}
	}
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, appNeeds{key: true, store: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	eng, cleanup, err := a.rotator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	wd := a.watchdog(eng)
	lp := loop.New("watchdog", loop.Options{
		Interval:   a.cfg.Watch.Interval,
		RunOnStart: true,
		Logger:     a.logger,
	}, wd.Run)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return lp.Run(gctx) })
	if a.cfg.Watch.FSNotify {
		g.Go(func() error {
			return watchdog.WatchFS(gctx, a.watchDirs(), a.cfg.Watch.Debounce, a.logger, lp.Trigger)
		})
	}
	if err := g.Wait(); err != nil && !isCancelled(err) {
		return WrapExitError(ExitFailure, "watchdog stopped", err)
	}
	return nil
}

// watchDirs are the directories whose changes wake the watchdog early.
func (a *app) watchDirs() []string {
	dirs := []string{a.layout.Rotated()}
	seen := map[string]bool{dirs[0]: true}
	for _, t := range a.cfg.Watch.Targets {
		p := t.Path
		if !filepath.IsAbs(p) {
			p = a.layout.Abs(p)
		}
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
