package cli

import (
	"context"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/loop"
	"github.com/roach88/rotd/internal/restore"
	"github.com/roach88/rotd/internal/rotation"
	"github.com/roach88/rotd/internal/server"
	"github.com/roach88/rotd/internal/watchdog"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run rotation, the watchdog and the HTTP server",
		Long: `Run the rotation loop, the watchdog loop and the HTTP surface until
interrupted. The HTTP server restores files on demand under /file/, exposes
/healthz and /metrics, and accepts monitor and push webhooks that schedule a
repair pass or a rotation cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command, addr string) error {
	a, err := openApp(opts, appNeeds{key: true, store: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	eng, cleanup, err := a.rotator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	wd := a.watchdog(eng)

	// A tick must not observe a half-swapped tree.
	var treeMu sync.Mutex
	rotLoop := loop.New("rotation", loop.Options{
		Interval:   a.cfg.Rotation.Interval,
		RunOnStart: !fsx.Exists(a.layout.Manifest()),
		Logger:     a.logger,
	}, func(ctx context.Context) error {
		treeMu.Lock()
		defer treeMu.Unlock()
		_, err := eng.RotateCycle(ctx, rotation.Options{})
		return err
	})
	wdLoop := loop.New("watchdog", loop.Options{
		Interval:   a.cfg.Watch.Interval,
		RunOnStart: true,
		Logger:     a.logger,
	}, func(ctx context.Context) error {
		treeMu.Lock()
		defer treeMu.Unlock()
		return wd.Run(ctx)
	})

	var webhookSecret []byte
	if env := a.cfg.Server.WebhookSecretEnv; env != "" {
		webhookSecret = []byte(os.Getenv(env))
	}
	srv := server.New(server.Options{
		Layout:        a.layout,
		Restorer:      restore.New(a.layout, a.key, a.logger),
		Repair:        wdLoop.Trigger,
		Rotate:        rotLoop.Trigger,
		WebhookSecret: webhookSecret,
		RateLimit:     a.cfg.Server.RateLimit,
		Burst:         a.cfg.Server.Burst,
		Health:        serveHealth(wd, rotLoop, wdLoop),
		Logger:        a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rotLoop.Run(gctx) })
	g.Go(func() error { return wdLoop.Run(gctx) })
	if a.cfg.Watch.FSNotify {
		g.Go(func() error {
			return watchdog.WatchFS(gctx, a.watchDirs(), a.cfg.Watch.Debounce, a.logger, wdLoop.Trigger)
		})
	}
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })

	if err := g.Wait(); err != nil && !isCancelled(err) {
		return WrapExitError(ExitFailure, "server stopped", err)
	}
	return nil
}

func serveHealth(wd *watchdog.Watchdog, rot, watch *loop.Loop) func() map[string]any {
	return func() map[string]any {
		return map[string]any{
			"watchdog_state": wd.State(),
			"loops": map[string]loop.Stats{
				"rotation": rot.Stats(),
				"watchdog": watch.Stats(),
			},
		}
	}
}
