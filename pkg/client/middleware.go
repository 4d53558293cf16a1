// File: pkg/client/middleware.go
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CaptureOptions describe a screenshot request in the terms of a generic capture pipeline.
type CaptureOptions struct {
	FullPage bool
	Width    int
	Height   int
	// Delay is waited after a cleared challenge before capturing. Zero means three seconds.
	Delay time.Duration
}

// BypassInfo summarizes the challenge handling behind a CaptureResult.
type BypassInfo struct {
	Detected   bool
	Indicator  string
	Successful bool
	Timing     map[string]int64
}

// CaptureResult is what a capture pipeline gets back, whichever path produced it.
type CaptureResult struct {
	Screenshot       string
	ScreenshotFormat string
	FinalURL         string
	Cookies          []Cookie
	// Bypass is nil when the page was captured without the service.
	Bypass *BypassInfo
}

// CaptureFunc is an ordinary capture implementation used as a fallback.
type CaptureFunc func(ctx context.Context, url string, opts CaptureOptions) (CaptureResult, error)

// Middleware routes captures of challenge-protected pages through the service and leaves
// everything else to the caller's own capture function.
type Middleware struct {
	client   *Client
	logger   *zap.Logger
	auto     bool
	fallback bool

	availabilityTTL time.Duration
	mu              sync.Mutex
	checkedAt       time.Time
	available       bool
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithAutoDetect toggles detection. When off, NeedsBypass always reports false.
func WithAutoDetect(on bool) MiddlewareOption {
	return func(m *Middleware) { m.auto = on }
}

// WithFallback toggles falling back to the normal capture when the bypass path fails.
func WithFallback(on bool) MiddlewareOption {
	return func(m *Middleware) { m.fallback = on }
}

// WithAvailabilityTTL sets how long a health check result is reused.
func WithAvailabilityTTL(d time.Duration) MiddlewareOption {
	return func(m *Middleware) { m.availabilityTTL = d }
}

// NewMiddleware wraps c. Detection and fallback are on by default.
func NewMiddleware(c *Client, logger *zap.Logger, opts ...MiddlewareOption) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Middleware{
		client:          c,
		logger:          logger.Named("capture_middleware"),
		auto:            true,
		fallback:        true,
		availabilityTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ServiceAvailable reports whether the service is healthy, reusing a recent answer.
func (m *Middleware) ServiceAvailable(ctx context.Context) bool {
	m.mu.Lock()
	if !m.checkedAt.IsZero() && time.Since(m.checkedAt) < m.availabilityTTL {
		ok := m.available
		m.mu.Unlock()
		return ok
	}
	m.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ok := m.client.IsHealthy(checkCtx)
	if !ok {
		m.logger.Warn("Bypass service unavailable.")
	}

	m.mu.Lock()
	m.available = ok
	m.checkedAt = time.Now()
	m.mu.Unlock()
	return ok
}

// NeedsBypass reports whether url shows a challenge. It is false when detection is off, the
// service is down or detection fails.
func (m *Middleware) NeedsBypass(ctx context.Context, url string) bool {
	if !m.auto || !m.ServiceAvailable(ctx) {
		return false
	}
	res, err := m.client.Detect(ctx, url)
	if err != nil {
		m.logger.Error("Challenge detection failed.", zap.String("url", url), zap.Error(err))
		return false
	}
	return res.CloudflareDetected
}

// Capture takes the screenshot through the service.
func (m *Middleware) Capture(ctx context.Context, url string, opts CaptureOptions) (CaptureResult, error) {
	wait := 3000
	if opts.Delay > 0 {
		wait = int(opts.Delay.Milliseconds())
	}
	res, err := m.client.Bypass(ctx, url, BypassOptions{
		Screenshot:        Bool(true),
		FullPage:          Bool(opts.FullPage),
		Width:             opts.Width,
		Height:            opts.Height,
		WaitAfterBypassMs: Int(wait),
	})
	if err != nil {
		return CaptureResult{}, fmt.Errorf("bypass capture of %s: %w", url, err)
	}

	finalURL := res.FinalURL
	if finalURL == "" {
		finalURL = url
	}
	return CaptureResult{
		Screenshot:       res.Screenshot,
		ScreenshotFormat: "png",
		FinalURL:         finalURL,
		Cookies:          res.Cookies,
		Bypass: &BypassInfo{
			Detected:   res.CloudflareDetected,
			Indicator:  res.CloudflareIndicator,
			Successful: res.BypassSuccessful,
			Timing:     res.Timing,
		},
	}, nil
}

// CaptureWithFallback uses the service for protected pages and normal for the rest. When the
// service path fails and fallback is enabled, normal is used as well.
func (m *Middleware) CaptureWithFallback(ctx context.Context, url string, opts CaptureOptions, normal CaptureFunc) (CaptureResult, error) {
	if m.NeedsBypass(ctx, url) {
		m.logger.Info("Challenge detected; capturing through the bypass service.", zap.String("url", url))
		res, err := m.Capture(ctx, url, opts)
		if err == nil {
			return res, nil
		}
		m.logger.Warn("Bypass capture failed.", zap.String("url", url), zap.Error(err))
		if !m.fallback {
			return CaptureResult{}, err
		}
		m.logger.Info("Falling back to normal capture.", zap.String("url", url))
	}
	return normal(ctx, url, opts)
}
