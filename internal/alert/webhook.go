package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/rotd/internal/fault"
	"github.com/roach88/rotd/internal/metrics"
)

// Format selects the outbound payload shape.
type Format string

const (
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-Rotd-Signature-256"

// ErrRateLimited is returned when an alert is dropped by the rate limiter.
var ErrRateLimited = errors.New("alert rate limited")

// WebhookOptions configure a Webhook notifier.
type WebhookOptions struct {
	URL       string
	Format    Format
	Secret    []byte
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Client    *http.Client
	Logger    *slog.Logger
}

func (o *WebhookOptions) defaults() {
	if o.Format == "" {
		o.Format = FormatJSON
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 1
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Webhook posts alerts to an HTTP endpoint.
type Webhook struct {
	opts    WebhookOptions
	limiter *rate.Limiter
}

// NewWebhook builds a webhook notifier.
func NewWebhook(opts WebhookOptions) *Webhook {
	opts.defaults()
	return &Webhook{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
	}
}

// Notify delivers a once. Failures are TRANSPORT_ERROR faults, which the
// caller logs and otherwise ignores.
func (w *Webhook) Notify(ctx context.Context, a Alert) error {
	kind := string(a.Kind)
	if !w.limiter.Allow() {
		metrics.AlertsSent.WithLabelValues(kind, "rate_limited").Inc()
		w.opts.Logger.Warn("alert dropped by rate limiter", "kind", kind, "path", a.Path)
		return ErrRateLimited
	}

	payload, err := w.format(a)
	if err != nil {
		return fmt.Errorf("format alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.URL, bytes.NewReader(payload))
	if err != nil {
		return fault.New(fault.KindTransport, "alert webhook", w.opts.URL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rotd-alert/1.0")
	req.Header.Set("X-Rotd-Alert-ID", a.ID)
	req.Header.Set("X-Rotd-Alert-Kind", kind)
	if len(w.opts.Secret) > 0 {
		req.Header.Set(SignatureHeader, "sha256="+Sign(payload, w.opts.Secret))
	}

	resp, err := w.opts.Client.Do(req)
	if err != nil {
		metrics.AlertsSent.WithLabelValues(kind, "error").Inc()
		return fault.New(fault.KindTransport, "alert webhook", w.opts.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.AlertsSent.WithLabelValues(kind, "error").Inc()
		return fault.New(fault.KindTransport, "alert webhook", w.opts.URL,
			fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	metrics.AlertsSent.WithLabelValues(kind, "delivered").Inc()
	w.opts.Logger.Debug("alert delivered", "kind", kind, "status", resp.StatusCode)
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) format(a Alert) ([]byte, error) {
	if w.opts.Format == FormatSlack {
		return formatSlack(a)
	}
	return formatJSON(a)
}

func formatJSON(a Alert) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event_id":   a.ID,
		"event_type": string(a.Kind),
		"timestamp":  a.At.UTC().Format(time.RFC3339),
		"source":     "rotd",
		"data": map[string]string{
			"path":     a.Path,
			"detail":   a.Detail,
			"evidence": a.Evidence,
		},
	})
}

func formatSlack(a Alert) ([]byte, error) {
	var text, color string
	switch a.Kind {
	case KindManifestCorrupt, KindRecoveryFailed:
		text = fmt.Sprintf(":x: rotd %s: %s", a.Kind, a.Detail)
		color = "danger"
	case KindDriftAccepted:
		text = fmt.Sprintf(":warning: rotd accepted drift on %s", a.Path)
		color = "warning"
	default:
		text = fmt.Sprintf(":rotating_light: rotd %s on %s", a.Kind, a.Path)
		color = "danger"
	}

	return json.Marshal(map[string]any{
		"attachments": []map[string]any{
			{
				"color":  color,
				"text":   text,
				"ts":     a.At.Unix(),
				"footer": "rotd",
			},
		},
	})
}
