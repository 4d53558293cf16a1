// File: pkg/client/client_test.go
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService serves canned envelopes and records the last request body per path.
type fakeService struct {
	t          *testing.T
	healthy    atomic.Bool
	detected   atomic.Bool
	failBypass atomic.Bool
	healthHits atomic.Int32
	detectHits atomic.Int32
	lastBody   map[string]map[string]interface{}
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	f := &fakeService{t: t, lastBody: make(map[string]map[string]interface{})}
	f.healthy.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		f.healthHits.Add(1)
		if !f.healthy.Load() {
			write(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "starting", "error": "starting"})
			return
		}
		write(w, http.StatusOK, map[string]interface{}{"status": "healthy", "uptime": 5, "browser": "idle", "activeSessions": 0})
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		f.detectHits.Add(1)
		f.record(r)
		write(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]interface{}{
			"url": "https://site.example", "cloudflareDetected": f.detected.Load(), "indicator": "title", "pageTitle": "Just a moment...",
		}})
	})
	bypass := func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.failBypass.Load() {
			write(w, http.StatusBadGateway, map[string]interface{}{"success": false, "error": "browser session unusable: target closed"})
			return
		}
		write(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]interface{}{
			"screenshot":          base64.StdEncoding.EncodeToString([]byte("PNGDATA")),
			"screenshotFormat":    "png",
			"finalUrl":            "https://site.example/home",
			"title":               "Home",
			"cloudflareDetected":  true,
			"cloudflareIndicator": "title",
			"bypassSuccessful":    true,
			"cookies":             []map[string]interface{}{{"name": "cf_clearance", "value": "v"}},
			"timing":              map[string]int64{"total": 4200, "init": 0},
			"timingOrder":         []map[string]interface{}{{"name": "init", "elapsedMs": 0}, {"name": "total", "elapsedMs": 4200}},
		}})
	}
	mux.HandleFunc("/bypass", bypass)
	mux.HandleFunc("/screenshot", bypass)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]interface{}{
			"totalRequests": 4, "successfulBypasses": 1, "failedBypasses": 1, "cloudflareDetections": 2, "successRate": 50.0, "uptimeFormatted": "1m 2s",
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeService) record(r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)
	var m map[string]interface{}
	require.NoError(f.t, json.Unmarshal(body, &m))
	f.lastBody[r.URL.Path] = m
}

func write(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHealth(t *testing.T) {
	f, srv := newFakeService(t)
	c := New(srv.URL + "/")

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "idle", h.Browser)
	assert.True(t, c.IsHealthy(context.Background()))

	f.healthy.Store(false)
	assert.False(t, c.IsHealthy(context.Background()))
	_, err = c.Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "starting", apiErr.Message)
}

func TestWaitForService(t *testing.T) {
	f, srv := newFakeService(t)
	c := New(srv.URL)

	f.healthy.Store(false)
	err := c.WaitForService(context.Background(), 3, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(3), f.healthHits.Load())

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.healthy.Store(true)
	}()
	require.NoError(t, c.WaitForService(context.Background(), 50, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.healthy.Store(false)
	assert.ErrorIs(t, c.WaitForService(ctx, 5, time.Second), context.Canceled)
}

func TestDetect(t *testing.T) {
	f, srv := newFakeService(t)
	f.detected.Store(true)
	c := New(srv.URL)

	res, err := c.Detect(context.Background(), "https://site.example")
	require.NoError(t, err)
	assert.True(t, res.CloudflareDetected)
	assert.Equal(t, "title", res.Indicator)
	assert.Equal(t, "https://site.example", f.lastBody["/detect"]["url"])
	assert.NotContains(t, f.lastBody["/detect"], "options")
}

func TestBypassSendsOptions(t *testing.T) {
	f, srv := newFakeService(t)
	c := New(srv.URL, WithHeader("X-Api-Key", "k"), WithTimeout(5*time.Second))

	res, err := c.Bypass(context.Background(), "https://site.example", BypassOptions{
		TimeoutMs:         30000,
		Headless:          Bool(false),
		WaitAfterBypassMs: Int(0),
		UserAgent:         "ua/1",
	})
	require.NoError(t, err)
	assert.True(t, res.BypassSuccessful)
	assert.Equal(t, "https://site.example/home", res.FinalURL)
	require.Len(t, res.Cookies, 1)
	assert.Equal(t, int64(4200), res.Timing["total"])
	assert.Equal(t, []Checkpoint{{Name: "init"}, {Name: "total", ElapsedMs: 4200}}, res.TimingOrder)

	opts, ok := f.lastBody["/bypass"]["options"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 30000.0, opts["timeout"])
	assert.Equal(t, false, opts["headless"])
	assert.Equal(t, 0.0, opts["waitAfterBypass"])
	assert.Equal(t, "ua/1", opts["userAgent"])
	assert.NotContains(t, opts, "proxy")

	png, err := DecodeScreenshot(res.Screenshot)
	require.NoError(t, err)
	assert.Equal(t, []byte("PNGDATA"), png)
}

func TestBypassError(t *testing.T) {
	f, srv := newFakeService(t)
	f.failBypass.Store(true)

	_, err := New(srv.URL).Screenshot(context.Background(), "https://site.example", BypassOptions{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "target closed")
}

func TestStats(t *testing.T) {
	_, srv := newFakeService(t)
	s, err := New(srv.URL).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), s.TotalRequests)
	assert.Equal(t, 50.0, s.SuccessRate)
	assert.Equal(t, "1m 2s", s.UptimeFormatted)
}

func TestNonJSONErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Stats(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestSaveScreenshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, SaveScreenshot(base64.StdEncoding.EncodeToString([]byte("img")), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)

	assert.Error(t, SaveScreenshot("not base64!", path))
}
