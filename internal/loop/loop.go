// Package loop runs a task on a fixed interval with out-of-band triggers.
//
// Iterations never overlap: ticks, triggers and direct RunOnce calls all pass
// through one singleflight key, so a caller arriving mid-run shares that run's
// result. A running iteration is detached from the loop's cancellation and
// always completes; shutdown is observed between iterations.
//
//	l := loop.New("watchdog", loop.Options{Interval: 10 * time.Second}, check)
//	go l.Run(ctx)
//	l.Trigger()
package loop

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Func is one iteration.
type Func func(ctx context.Context) error

// Options tunes a Loop.
type Options struct {
	// Interval between scheduled runs. Zero disables the ticker; the loop
	// then only runs on Trigger.
	Interval time.Duration
	// RunOnStart runs one iteration before waiting for the first tick.
	RunOnStart bool
	Logger     *slog.Logger
}

// Loop is safe for concurrent use.
type Loop struct {
	name    string
	fn      Func
	opts    Options
	group   singleflight.Group
	trigger chan struct{}

	runs     atomic.Int64
	failures atomic.Int64
	shared   atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Runs     int64 `json:"runs"`
	Failures int64 `json:"failures"`
	Shared   int64 `json:"shared"`
}

// New creates a loop. Call Run to start it.
func New(name string, opts Options, fn Func) *Loop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		name:    name,
		fn:      fn,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Runs:     l.runs.Load(),
		Failures: l.failures.Load(),
		Shared:   l.shared.Load(),
	}
}

// Trigger requests a run as soon as possible. Requests made while one is
// already pending are coalesced.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// RunOnce runs one iteration now, or joins the one in progress.
func (l *Loop) RunOnce(ctx context.Context) error {
	_, err, shared := l.group.Do(l.name, func() (any, error) {
		l.runs.Add(1)
		err := l.fn(context.WithoutCancel(ctx))
		if err != nil {
			l.failures.Add(1)
		}
		return nil, err
	})
	if shared {
		l.shared.Add(1)
	}
	return err
}

// Run blocks until ctx is cancelled. Iteration errors are logged and the
// loop continues.
func (l *Loop) Run(ctx context.Context) error {
	log := l.opts.Logger.With("loop", l.name)

	var tick <-chan time.Time
	if l.opts.Interval > 0 {
		ticker := time.NewTicker(l.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	log.Info("loop started", "interval", l.opts.Interval)
	if l.opts.RunOnStart {
		l.iterate(ctx, log, "start")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("loop stopped")
			return nil
		case <-tick:
			l.iterate(ctx, log, "interval")
		case <-l.trigger:
			l.iterate(ctx, log, "trigger")
		}
	}
}

func (l *Loop) iterate(ctx context.Context, log *slog.Logger, reason string) {
	start := time.Now()
	if err := l.RunOnce(ctx); err != nil {
		log.Warn("iteration failed", "reason", reason, "error", err)
		return
	}
	log.Debug("iteration done", "reason", reason, "duration", time.Since(start))
}
