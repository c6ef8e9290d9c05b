// Package publish pushes a freshly rotated tree to an external store.
// Publishing is best effort: Bounded turns every failure or timeout into a
// TRANSPORT_ERROR that the rotation engine logs and ignores.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fault"
	"github.com/roach88/rotd/internal/manifest"
	"github.com/roach88/rotd/internal/metrics"
)

// Publisher uploads the rotated tree described by m.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, tree string, m *manifest.Manifest) error
}

// Nop publishes nothing.
type Nop struct{}

func (Nop) Name() string { return "none" }

func (Nop) Publish(context.Context, string, *manifest.Manifest) error { return nil }

// Bounded wraps a publisher with a timeout, metrics and fault wrapping.
type Bounded struct {
	Inner   Publisher
	Timeout time.Duration
}

func (b Bounded) Name() string { return b.Inner.Name() }

func (b Bounded) Publish(ctx context.Context, tree string, m *manifest.Manifest) error {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := b.Inner.Publish(ctx, tree, m)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PublishDuration.WithLabelValues(b.Inner.Name(), result).Observe(time.Since(start).Seconds())

	if err != nil {
		return fault.New(fault.KindTransport, "publish "+b.Inner.Name(), tree, err)
	}
	return nil
}

// FromConfig builds the publisher selected by cfg.Kind, wrapped in Bounded.
// repoDefault is used as the git working copy when cfg.Git.Repo is empty.
func FromConfig(ctx context.Context, cfg config.PublishConfig, repoDefault string, logger *slog.Logger) (Publisher, error) {
	var inner Publisher
	switch cfg.Kind {
	case "", "none":
		return Nop{}, nil
	case "git":
		repo := cfg.Git.Repo
		if repo == "" {
			repo = repoDefault
		}
		inner = &Git{Repo: repo, Remote: cfg.Git.Remote, Logger: logger}
	case "gcs":
		g, err := NewGCS(ctx, cfg.GCS.Bucket, cfg.GCS.Prefix, cfg.GCS.CredentialsFile)
		if err != nil {
			return nil, err
		}
		g.Logger = logger
		inner = g
	default:
		return nil, fault.New(fault.KindConfig, "publish", "", fmt.Errorf("unknown publisher %q", cfg.Kind))
	}
	return Bounded{Inner: inner, Timeout: cfg.Timeout}, nil
}

// branchName is the per-cycle label shared by publishers.
func branchName(m *manifest.Manifest, suffix string) string {
	return fmt.Sprintf("rot-%d-%s", m.Timestamp, suffix)
}
