package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rotd/internal/alert"
	"github.com/roach88/rotd/internal/config"
	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/restore"
	"github.com/roach88/rotd/internal/rotation"
	"github.com/roach88/rotd/internal/secret"
	"github.com/roach88/rotd/internal/testutil"
	"github.com/roach88/rotd/internal/transform"
)

var site = testutil.Tree{
	"index.html":   "<h1>hello</h1>\n",
	"css/site.css": "body{}\n",
}

// countingRestorer counts restores passed through to the real engine.
type countingRestorer struct {
	inner *restore.Engine
	calls atomic.Int32
}

func (c *countingRestorer) RestoreManifest(ctx context.Context, raw []byte, outDir string) restore.Result {
	c.calls.Add(1)
	return c.inner.RestoreManifest(ctx, raw, outDir)
}

type fixture struct {
	layout   config.Layout
	rotator  *rotation.Engine
	restorer *countingRestorer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := secret.New([]byte(testutil.TestKey))
	require.NoError(t, err)

	layout := config.Layout{Base: t.TempDir()}
	testutil.WriteTree(t, layout.Source(), site)

	rot := rotation.New(rotation.Config{
		Layout:   layout,
		Key:      key,
		Defaults: rotation.Options{Mode: transform.ModeRight, Param: 3, Seed: "srv"},
		Now:      testutil.NewStepClock(testutil.Epoch, 0).Now,
	})
	_, err = rot.RotateCycle(context.Background(), rotation.Options{})
	require.NoError(t, err)

	return &fixture{
		layout:   layout,
		rotator:  rot,
		restorer: &countingRestorer{inner: restore.New(layout, key, nil)},
	}
}

func (f *fixture) server(opts Options) *Server {
	opts.Layout = f.layout
	opts.Restorer = f.restorer
	return New(opts)
}

func do(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFile_ServesRestoredContent(t *testing.T) {
	f := newFixture(t)
	srv := f.server(Options{})

	rec := do(t, srv, http.MethodGet, "/file/index.html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, site["index.html"], rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = do(t, srv, http.MethodGet, "/file/css/site.css", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, site["css/site.css"], rec.Body.String())

	assert.EqualValues(t, 1, f.restorer.calls.Load(), "restore is cached for an unchanged manifest")
}

func TestFile_NotInManifest(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.server(Options{}), http.MethodGet, "/file/nope.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFile_TamperedManifestIsUnavailable(t *testing.T) {
	f := newFixture(t)
	srv := f.server(Options{})

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/file/index.html", "", nil).Code)

	raw, err := os.ReadFile(f.layout.Manifest())
	require.NoError(t, err)
	forged := strings.Replace(string(raw), `"seed": "srv"`, `"seed": "evil"`, 1)
	require.NotEqual(t, string(raw), forged)
	require.NoError(t, os.WriteFile(f.layout.Manifest(), []byte(forged), 0o644))

	rec := do(t, srv, http.MethodGet, "/file/index.html", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "hmac mismatch")
	assert.EqualValues(t, 2, f.restorer.calls.Load())
}

func TestFile_FailedEntryIsUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.layout.Rotated(), "index.html"), []byte("defaced"), 0o644))

	srv := f.server(Options{})
	rec := do(t, srv, http.MethodGet, "/file/index.html", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "hash mismatch")

	rec = do(t, srv, http.MethodGet, "/file/css/site.css", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFile_MissingManifest(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.layout.Manifest()))

	rec := do(t, f.server(Options{}), http.MethodGet, "/file/index.html", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, f.restorer.calls.Load())
}

func TestFile_NewRotationInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	srv := f.server(Options{})
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/file/index.html", "", nil).Code)

	testutil.WriteTree(t, f.layout.Source(), testutil.Tree{"index.html": "<h1>v2</h1>\n"})
	_, err := f.rotator.RotateCycle(context.Background(), rotation.Options{Seed: "next"})
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/file/index.html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>v2</h1>\n", rec.Body.String())

	dirs, err := os.ReadDir(filepath.Join(f.layout.Restored(), ".cache"))
	require.NoError(t, err)
	assert.Len(t, dirs, 1, "previous cache directory is removed")
}

// gatedRestorer holds its first restore until release is closed.
type gatedRestorer struct {
	inner   Restorer
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRestorer) RestoreManifest(ctx context.Context, raw []byte, outDir string) restore.Result {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.inner.RestoreManifest(ctx, raw, outDir)
}

func TestFile_SlowRestoreOfOlderManifestDoesNotReplaceNewer(t *testing.T) {
	f := newFixture(t)
	gate := &gatedRestorer{inner: f.restorer, entered: make(chan struct{}), release: make(chan struct{})}
	srv := New(Options{Layout: f.layout, Restorer: gate})

	slow := make(chan *httptest.ResponseRecorder)
	go func() {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/file/index.html", nil))
		slow <- rec
	}()
	<-gate.entered

	testutil.WriteTree(t, f.layout.Source(), testutil.Tree{"index.html": "<h1>v2</h1>\n"})
	_, err := f.rotator.RotateCycle(context.Background(), rotation.Options{Seed: "next"})
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/file/index.html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "<h1>v2</h1>\n", rec.Body.String())

	close(gate.release)
	stale := <-slow
	require.Equal(t, http.StatusOK, stale.Code, stale.Body.String())
	assert.Equal(t, "<h1>v2</h1>\n", stale.Body.String())

	raw, err := os.ReadFile(f.layout.Manifest())
	require.NoError(t, err)
	newest := fsx.HashBytes(raw)
	srv.mu.Lock()
	assert.Equal(t, newest, srv.cache.key)
	srv.mu.Unlock()

	dirs, err := os.ReadDir(filepath.Join(f.layout.Restored(), ".cache"))
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, newest[:16], dirs[0].Name())

	rec = do(t, srv, http.MethodGet, "/file/index.html", "", nil)
	assert.Equal(t, "<h1>v2</h1>\n", rec.Body.String())
	assert.EqualValues(t, 2, f.restorer.calls.Load())
}

func TestFile_ConcurrentRequestsShareOneRestore(t *testing.T) {
	f := newFixture(t)
	srv := f.server(Options{})

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/file/index.html", nil)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for _, c := range codes {
		assert.Equal(t, http.StatusOK, c)
	}
	assert.LessOrEqual(t, f.restorer.calls.Load(), int32(len(codes)))
	assert.GreaterOrEqual(t, f.restorer.calls.Load(), int32(1))
}

func TestMonitorWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantRepair int32
	}{
		{"down schedules repair", `{"name":"site","status":"down"}`, http.StatusAccepted, 1},
		{"status is case insensitive", `{"name":"site","status":"DOWN"}`, http.StatusAccepted, 1},
		{"up is acknowledged only", `{"name":"site","status":"up"}`, http.StatusAccepted, 0},
		{"missing name", `{"status":"down"}`, http.StatusBadRequest, 0},
		{"malformed json", `{"name":`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var repairs atomic.Int32
			srv := New(Options{Repair: func() { repairs.Add(1) }, Burst: 100})

			rec := do(t, srv, http.MethodPost, "/webhook/monitor", tt.body, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantRepair, repairs.Load())

			if tt.wantCode == http.StatusAccepted {
				var resp map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, true, resp["ok"])
				assert.Equal(t, tt.wantRepair == 1, resp["scheduled"])
			}
		})
	}
}

func TestPushWebhook_SchedulesRotation(t *testing.T) {
	var rotations atomic.Int32
	srv := New(Options{Rotate: func() { rotations.Add(1) }})

	rec := do(t, srv, http.MethodPost, "/webhook/push", `{"ref":"refs/heads/main"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"ok":true,"scheduled":true}`, rec.Body.String())
	assert.EqualValues(t, 1, rotations.Load())
}

func TestWebhook_Signature(t *testing.T) {
	secret := []byte("hook-secret")
	body := `{"name":"site","status":"down"}`

	var repairs atomic.Int32
	srv := New(Options{Repair: func() { repairs.Add(1) }, WebhookSecret: secret, Burst: 100})

	rec := do(t, srv, http.MethodPost, "/webhook/monitor", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bad := http.Header{alert.SignatureHeader: {"sha256=" + alert.Sign([]byte(body), []byte("wrong"))}}
	rec = do(t, srv, http.MethodPost, "/webhook/monitor", body, bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	good := http.Header{alert.SignatureHeader: {"sha256=" + alert.Sign([]byte(body), secret)}}
	rec = do(t, srv, http.MethodPost, "/webhook/monitor", body, good)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 1, repairs.Load())
}

func TestWebhook_RateLimited(t *testing.T) {
	var rotations atomic.Int32
	srv := New(Options{Rotate: func() { rotations.Add(1) }, RateLimit: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPost, "/webhook/push", "", nil).Code)
	}
	rec := do(t, srv, http.MethodPost, "/webhook/push", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.EqualValues(t, 2, rotations.Load())
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	srv := New(Options{Rotate: func() {}})
	rec := do(t, srv, http.MethodPost, "/webhook/push", strings.Repeat("x", maxWebhookBody+1), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := New(Options{Health: func() map[string]any { return map[string]any{"watchdog": "Idle"} }})

	rec := do(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","watchdog":"Idle"}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "go_goroutines")
}
