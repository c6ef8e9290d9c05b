// Package server exposes the restored tree and the event-trigger webhooks
// over HTTP.
//
// GET /file/* restores the current rotation on demand and serves the
// requested file. The restore is cached per manifest and computed once no
// matter how many requests race for it. POST /webhook/monitor and
// POST /webhook/push only schedule work on the watchdog and rotation loops
// and answer 202 straight away.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/manifest"
	"github.com/roach88/rotd/internal/restore"
)

// Restorer produces a restored tree from raw manifest bytes.
type Restorer interface {
	RestoreManifest(ctx context.Context, raw []byte, outDir string) restore.Result
}

// Options configures a Server.
type Options struct {
	Layout   config.Layout
	Restorer Restorer

	// Repair and Rotate schedule a watchdog pass and a rotation cycle. Nil
	// disables the corresponding webhook.
	Repair func()
	Rotate func()

	// WebhookSecret, when set, makes the X-Rotd-Signature-256 header
	// mandatory on webhook requests.
	WebhookSecret []byte
	RateLimit     float64
	Burst         int

	// Health reports extra fields for /healthz.
	Health func() map[string]any

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.RateLimit <= 0 {
		o.RateLimit = 1
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Server is the HTTP surface of a rotd deployment.
type Server struct {
	opts    Options
	router  *chi.Mux
	limiter *rate.Limiter

	group singleflight.Group
	mu    sync.Mutex
	cache *cachedRestore
}

type cachedRestore struct {
	key     string
	dir     string
	result  restore.Result
	entries map[string]restore.EntryResult
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	opts.defaults()
	s := &Server{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/file/*", s.handleFile)

	r.Route("/webhook", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/monitor", s.handleMonitor)
		r.Post("/push", s.handlePush)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.opts.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.opts.Health != nil {
		for k, v := range s.opts.Health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" {
		writeError(w, http.StatusNotFound, "no path")
		return
	}

	cached, err := s.current(r.Context())
	if err != nil {
		s.opts.Logger.Warn("file server: restore unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if cached.result.State == restore.Aborted {
		writeError(w, http.StatusServiceUnavailable, "restore aborted: "+cached.result.Reason)
		return
	}

	entry, ok := cached.entries[rel]
	if !ok {
		writeError(w, http.StatusNotFound, "not in manifest")
		return
	}
	if entry.Status != restore.Restored {
		writeError(w, http.StatusServiceUnavailable, "entry not restored: "+entry.Reason)
		return
	}

	p, err := fsx.SafeJoin(cached.dir, rel)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	f, err := os.Open(p)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "restored file unavailable")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "restored file unavailable")
		return
	}
	http.ServeContent(w, r, filepath.Base(p), info.ModTime(), f)
}

// current returns the restore for the manifest currently on disk, running
// it at most once per distinct manifest.
func (s *Server) current(ctx context.Context) (*cachedRestore, error) {
	raw, err := manifest.ReadFile(s.opts.Layout.Manifest())
	if err != nil {
		return nil, err
	}
	// Keyed by the manifest bytes so any edit, signed or not, is re-verified.
	key := fsx.HashBytes(raw)

	s.mu.Lock()
	if c := s.cache; c != nil && c.key == key {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(key, func() (any, error) {
		dir := filepath.Join(s.opts.Layout.Restored(), ".cache", key[:16])
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("reset cache dir: %w", err)
		}
		res := s.opts.Restorer.RestoreManifest(context.WithoutCancel(ctx), raw, dir)

		c := &cachedRestore{
			key:     key,
			dir:     dir,
			result:  res,
			entries: make(map[string]restore.EntryResult, len(res.Entries)),
		}
		for _, e := range res.Entries {
			c.entries[e.Path] = e
		}

		return s.install(c), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cachedRestore), nil
}

// install makes c the served restore unless the manifest moved on while c
// was being built and a restore of the newer manifest is already in place.
// In that case c is discarded and the newer restore is returned.
func (s *Server) install(c *cachedRestore) *cachedRestore {
	var latest string
	if raw, err := manifest.ReadFile(s.opts.Layout.Manifest()); err == nil {
		latest = fsx.HashBytes(raw)
	}

	s.mu.Lock()
	prev := s.cache
	if latest != c.key && prev != nil && prev.key == latest {
		s.mu.Unlock()
		_ = os.RemoveAll(c.dir)
		return prev
	}
	s.cache = c
	s.mu.Unlock()
	if prev != nil && prev.dir != c.dir {
		_ = os.RemoveAll(prev.dir)
	}
	return c
}
