package server

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/rotd/internal/alert"
	"github.com/roach88/rotd/internal/metrics"
)

// maxWebhookBody bounds webhook payloads.
const maxWebhookBody = 64 * 1024

var validate = validator.New()

// MonitorEvent is the payload of POST /webhook/monitor.
type MonitorEvent struct {
	Name   string `json:"name" validate:"required,max=256"`
	Status string `json:"status" validate:"required,max=32"`
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			metrics.WebhookRequests.WithLabelValues(routeLabel(r), "rate_limited").Inc()
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readSigned(w, r)
	if !ok {
		return
	}

	var ev MonitorEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		s.reject(w, r, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := validate.Struct(ev); err != nil {
		s.reject(w, r, http.StatusBadRequest, err.Error())
		return
	}

	scheduled := false
	if strings.EqualFold(ev.Status, "down") && s.opts.Repair != nil {
		s.opts.Repair()
		scheduled = true
	}
	s.opts.Logger.Info("monitor webhook", "name", ev.Name, "status", ev.Status, "repair_scheduled", scheduled)
	s.accept(w, r, scheduled)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.readSigned(w, r); !ok {
		return
	}
	scheduled := false
	if s.opts.Rotate != nil {
		s.opts.Rotate()
		scheduled = true
	}
	s.opts.Logger.Info("push webhook", "rotation_scheduled", scheduled)
	s.accept(w, r, scheduled)
}

// readSigned reads the bounded body and checks the signature when a secret
// is configured. It writes the error response itself.
func (s *Server) readSigned(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.reject(w, r, http.StatusRequestEntityTooLarge, "payload too large")
		} else {
			s.reject(w, r, http.StatusBadRequest, "read body: "+err.Error())
		}
		return nil, false
	}

	if len(s.opts.WebhookSecret) > 0 {
		got := r.Header.Get(alert.SignatureHeader)
		want := "sha256=" + alert.Sign(body, s.opts.WebhookSecret)
		if !hmac.Equal([]byte(got), []byte(want)) {
			metrics.WebhookRequests.WithLabelValues(routeLabel(r), "unauthorized").Inc()
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return nil, false
		}
	}
	return body, true
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request, scheduled bool) {
	metrics.WebhookRequests.WithLabelValues(routeLabel(r), "accepted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "scheduled": scheduled})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, msg string) {
	metrics.WebhookRequests.WithLabelValues(routeLabel(r), "invalid").Inc()
	writeError(w, status, msg)
}

func routeLabel(r *http.Request) string {
	switch r.URL.Path {
	case "/webhook/monitor":
		return "monitor"
	case "/webhook/push":
		return "push"
	default:
		return "other"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
