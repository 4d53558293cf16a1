// File: internal/service/options.go
package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/bypass"
	"github.com/xkilldash9x/cfgate/internal/config"
)

// Options are the per-request overrides accepted by Detect, Bypass and Screenshot. Zero values
// (and nil pointers) fall back to the configuration.
type Options struct {
	TimeoutMs         int    `json:"timeout,omitempty"`
	Headless          *bool  `json:"headless,omitempty"`
	Screenshot        *bool  `json:"screenshot,omitempty"`
	FullPage          *bool  `json:"fullPage,omitempty"`
	UserAgent         string `json:"userAgent,omitempty"`
	Proxy             string `json:"proxy,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	WaitAfterBypassMs *int   `json:"waitAfterBypass,omitempty"`
	MaxAttempts       int    `json:"maxAttempts,omitempty"`
	PollIntervalMs    int    `json:"pollIntervalMs,omitempty"`
}

// resolved is Options merged with the configuration.
type resolved struct {
	session         browser.SessionOptions
	run             bypass.RunConfig
	navTimeout      time.Duration
	waitAfterBypass time.Duration
	screenshot      bool
	fullPage        bool
}

func (o Options) resolve(cfg config.Interface) (resolved, error) {
	if o.TimeoutMs < 0 || o.MaxAttempts < 0 || o.PollIntervalMs < 0 || o.Width < 0 || o.Height < 0 {
		return resolved{}, fmt.Errorf("%w: numeric options must not be negative", ErrInvalidOptions)
	}
	if o.WaitAfterBypassMs != nil && *o.WaitAfterBypassMs < 0 {
		return resolved{}, fmt.Errorf("%w: waitAfterBypass must not be negative", ErrInvalidOptions)
	}

	bc := cfg.Browser()
	capture := cfg.Capture()
	r := resolved{
		session: browser.SessionOptions{
			Viewport:        browser.Viewport{Width: capture.Width, Height: capture.Height},
			UserAgent:       o.UserAgent,
			Proxy:           o.Proxy,
			IgnoreTLSErrors: bc.IgnoreTLSErrors,
			Headless:        bc.Headless,
		},
		run:             bypass.RunConfigFrom(cfg.Bypass()),
		navTimeout:      cfg.Bypass().NavigationTimeout,
		waitAfterBypass: cfg.Bypass().WaitAfterBypass,
		screenshot:      capture.Screenshot,
		fullPage:        capture.FullPage,
	}

	if r.session.UserAgent == "" {
		r.session.UserAgent = browser.PickUserAgent(bc.UserAgents)
	}
	if o.Headless != nil {
		r.session.Headless = *o.Headless
	}
	if o.Width > 0 {
		r.session.Viewport.Width = o.Width
	}
	if o.Height > 0 {
		r.session.Viewport.Height = o.Height
	}
	if o.Screenshot != nil {
		r.screenshot = *o.Screenshot
	}
	if o.FullPage != nil {
		r.fullPage = *o.FullPage
	}
	if o.WaitAfterBypassMs != nil {
		r.waitAfterBypass = time.Duration(*o.WaitAfterBypassMs) * time.Millisecond
	}
	if o.TimeoutMs > 0 {
		r.run.GlobalTimeout = time.Duration(o.TimeoutMs) * time.Millisecond
	}
	if o.MaxAttempts > 0 {
		r.run.MaxAttempts = o.MaxAttempts
	}
	if o.PollIntervalMs > 0 {
		r.run.PollInterval = time.Duration(o.PollIntervalMs) * time.Millisecond
	}
	if r.navTimeout <= 0 || r.navTimeout > r.run.GlobalTimeout {
		r.navTimeout = r.run.GlobalTimeout
	}

	if err := r.run.Validate(); err != nil {
		return resolved{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return r, nil
}

// validateTarget accepts absolute http(s) URLs only.
func validateTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidTarget)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	return u.String(), nil
}
