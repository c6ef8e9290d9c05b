// Package metrics declares the Prometheus collectors exported on /metrics.
// Collectors register with the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rotd"

var (
	// CyclesTotal counts rotation cycles by status (ok, partial, aborted).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rotation",
		Name:      "cycles_total",
		Help:      "Rotation cycles by status",
	}, []string{"status"})

	// CycleDuration tracks wall time of a rotation cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rotation",
		Name:      "cycle_duration_seconds",
		Help:      "Rotation cycle duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// FilesRotated counts rotated files by kind (text, binary, failed).
	FilesRotated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rotation",
		Name:      "files_total",
		Help:      "Files processed by rotation cycles by kind",
	}, []string{"kind"})

	// ManifestVerifications counts manifest checks by result (valid, invalid).
	ManifestVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "manifest",
		Name:      "verifications_total",
		Help:      "Manifest verifications by result",
	}, []string{"result"})

	// WatchdogTicks counts watchdog ticks by terminal state.
	WatchdogTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "ticks_total",
		Help:      "Watchdog ticks by terminal state",
	}, []string{"state"})

	// Repairs counts watchdog actions by kind (mirror, adopted, recovered, ...).
	Repairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "actions_total",
		Help:      "Watchdog findings and repair actions by kind",
	}, []string{"kind"})

	// RestoreEntries counts restored entries by result (restored, failed).
	RestoreEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "restore",
		Name:      "entries_total",
		Help:      "Restored manifest entries by result",
	}, []string{"result"})

	// PublishDuration tracks publish attempts by publisher and result.
	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "duration_seconds",
		Help:      "Publish step duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"publisher", "result"})

	// AlertsSent counts outbound alerts by kind and delivery result.
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Outbound alert deliveries by kind and result",
	}, []string{"kind", "result"})

	// WebhookRequests counts inbound webhook requests by route and outcome.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "webhook_requests_total",
		Help:      "Inbound webhook requests by route and outcome",
	}, []string{"route", "outcome"})
)
