package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/rotd/internal/alert"
	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/publish"
	"github.com/roach88/rotd/internal/rotation"
	"github.com/roach88/rotd/internal/secret"
	"github.com/roach88/rotd/internal/store"
	"github.com/roach88/rotd/internal/watchdog"
)

// app is the set of components shared by commands: configuration, the
// sealed key and the state database.
type app struct {
	cfg    config.Config
	layout config.Layout
	key    *secret.Key
	store  *store.Store
	logger *slog.Logger
}

type appNeeds struct {
	key   bool
	store bool
}

func openApp(opts *RootOptions, needs appNeeds) (*app, error) {
	cfg, err := config.Load(config.Options{ConfigDir: opts.ConfigDir, Base: opts.Base})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	a := &app{cfg: cfg, layout: cfg.Layout(), logger: opts.logger()}

	if needs.key {
		a.key, err = secret.FromEnv(cfg.Secret.Env)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load secret", err)
		}
	}
	if needs.store {
		if err := os.MkdirAll(a.layout.Base, 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create base directory", err)
		}
		a.store, err = store.Open(a.layout.DB())
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("error closing database", "error", err)
		}
	}
}

// rotator builds the rotation engine with the configured publisher. The
// returned cleanup releases publisher clients.
func (a *app) rotator(ctx context.Context) (*rotation.Engine, func(), error) {
	pub, err := publish.FromConfig(ctx, a.cfg.Publish, a.layout.Rotated(), a.logger)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to configure publisher", err)
	}
	cleanup := func() {
		if b, ok := pub.(publish.Bounded); ok {
			if c, ok := b.Inner.(interface{ Close() error }); ok {
				_ = c.Close()
			}
		}
	}

	params := a.cfg.TransformParams()
	eng := rotation.New(rotation.Config{
		Layout:       a.layout,
		Key:          a.key,
		Store:        a.store,
		Publisher:    pub,
		Defaults:     rotation.Options{Mode: params.Mode, Param: params.Param, Seed: params.Seed},
		AbortOnError: a.cfg.Rotation.AbortOnError,
		Logger:       a.logger,
	})
	return eng, cleanup, nil
}

// notifier logs every alert and, when a webhook URL is configured, posts it.
func (a *app) notifier() alert.Notifier {
	logN := alert.LogNotifier{Logger: a.logger}
	ac := a.cfg.Alerts
	if ac.WebhookURL == "" {
		return logN
	}
	var sec []byte
	if ac.SecretEnv != "" {
		sec = []byte(os.Getenv(ac.SecretEnv))
	}
	return alert.Multi{logN, alert.NewWebhook(alert.WebhookOptions{
		URL:       ac.WebhookURL,
		Format:    alert.Format(ac.Format),
		Secret:    sec,
		Timeout:   ac.Timeout,
		RateLimit: ac.RateLimit,
		Logger:    a.logger,
	})}
}

func (a *app) watchdog(rec watchdog.Recoverer) *watchdog.Watchdog {
	return watchdog.New(watchdog.Config{
		Layout:    a.layout,
		Key:       a.key,
		Store:     a.store,
		Recoverer: rec,
		Notifier:  a.notifier(),
		Targets:   a.cfg.Watch.Targets,
		Logger:    a.logger,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM, or when the command's
// own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
