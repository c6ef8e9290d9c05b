// Package alert delivers integrity alerts. Every detected integrity failure
// is passed to a Notifier before any repair is attempted.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Kind names the condition being reported.
type Kind string

const (
	KindManifestCorrupt Kind = "ManifestCorrupt"
	KindHashMismatch    Kind = "HashMismatch"
	KindMissing         Kind = "Missing"
	KindMissingNoMirror Kind = "MissingNoMirror"
	KindDriftAccepted   Kind = "DriftAccepted"
	KindRecoveryFailed  Kind = "RecoveryFailed"
)

// Alert is one notification.
type Alert struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Path     string    `json:"path,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Evidence string    `json:"evidence,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "integrity alert",
		"alert_id", a.ID,
		"kind", string(a.Kind),
		"path", a.Path,
		"detail", a.Detail,
		"evidence", a.Evidence,
	)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

// Alerts returns a copy of everything recorded so far.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Reset forgets recorded alerts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = nil
}
