// File: internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/bypass"
	"github.com/xkilldash9x/cfgate/internal/config"
	"github.com/xkilldash9x/cfgate/internal/detector"
	"github.com/xkilldash9x/cfgate/internal/stats"
	"github.com/xkilldash9x/cfgate/internal/store"
)

var (
	// ErrInvalidTarget is returned for a missing or malformed URL. No session is opened.
	ErrInvalidTarget = errors.New("invalid target url")
	// ErrInvalidOptions is returned when request options fail validation.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrHistoryUnavailable is returned by RecentRuns when no database is configured.
	ErrHistoryUnavailable = errors.New("run history is not configured")
)

// SessionFactory opens isolated browser sessions. browser.Manager implements it.
type SessionFactory interface {
	NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error)
	Status() string
	ActiveSessions() int
}

// Runner executes one bypass run on an open session. bypass.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, sess browser.Session, cfg bypass.RunConfig, timing *stats.Timing) (bypass.Outcome, error)
}

// RunSink receives completed runs for persistence. Submit must not block.
type RunSink interface {
	Submit(rec store.RunRecord)
}

// RunHistory reads persisted runs.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Dependencies are the collaborators of a Service. Sink and History are optional.
type Dependencies struct {
	Sessions SessionFactory
	Detector *detector.Detector
	Runner   Runner
	Stats    *stats.Aggregator
	Sink     RunSink
	History  RunHistory
}

// Service implements the detect, bypass, screenshot and stats operations on top of a session
// factory. Each call gets its own session, closed before the call returns.
type Service struct {
	cfg       config.Interface
	logger    *zap.Logger
	deps      Dependencies
	startedAt time.Time
}

// New wires a Service.
func New(cfg config.Interface, logger *zap.Logger, deps Dependencies) *Service {
	return &Service{
		cfg:       cfg,
		logger:    logger.Named("service"),
		deps:      deps,
		startedAt: time.Now(),
	}
}

// DetectResult is the response of Detect.
type DetectResult struct {
	URL                string `json:"url"`
	CloudflareDetected bool   `json:"cloudflareDetected"`
	Indicator          string `json:"indicator,omitempty"`
	PageTitle          string `json:"pageTitle"`
	FinalURL           string `json:"finalUrl"`
	Error              string `json:"error,omitempty"`
}

// BypassResult is the response of Bypass and Screenshot. Screenshot is PNG data and is
// base64-encoded by the JSON encoder.
type BypassResult struct {
	RunID               string                 `json:"runId"`
	URL                 string                 `json:"url"`
	Screenshot          []byte                 `json:"screenshot,omitempty"`
	ScreenshotFormat    string                 `json:"screenshotFormat,omitempty"`
	Cookies             []browser.Cookie       `json:"cookies"`
	FinalURL            string                 `json:"finalUrl"`
	Title               string                 `json:"title"`
	ContentLength       int                    `json:"contentLength"`
	CloudflareDetected  bool                   `json:"cloudflareDetected"`
	CloudflareIndicator string                 `json:"cloudflareIndicator,omitempty"`
	BypassSuccessful    bool                   `json:"bypassSuccessful"`
	State               bypass.State           `json:"state"`
	Attempts            []bypass.AttemptRecord `json:"attempts"`
	Timing              map[string]int64       `json:"timing"`
	// TimingOrder lists the same checkpoints in the order they were reached.
	TimingOrder []stats.Mark `json:"timingOrder"`
	// DetectionError is set when the first page capture failed, so a clean verdict is unverified.
	DetectionError string `json:"detectionError,omitempty"`
}

// StatsResult is the response of Stats.
type StatsResult struct {
	TotalRequests        int64   `json:"totalRequests"`
	SuccessfulBypasses   int64   `json:"successfulBypasses"`
	FailedBypasses       int64   `json:"failedBypasses"`
	CloudflareDetections int64   `json:"cloudflareDetections"`
	SuccessRate          float64 `json:"successRate"`
	UptimeSeconds        int64   `json:"uptime"`
	UptimeFormatted      string  `json:"uptimeFormatted"`
}

// Health summarizes the process for liveness checks.
type Health struct {
	Status         string `json:"status"`
	Uptime         int64  `json:"uptime"`
	Browser        string `json:"browser"`
	ActiveSessions int    `json:"activeSessions"`
}

// Detect loads target and reports whether it shows a challenge. Nothing is clicked.
func (s *Service) Detect(ctx context.Context, target string, opts Options) (DetectResult, error) {
	target, err := validateTarget(target)
	if err != nil {
		return DetectResult{}, err
	}
	r, err := opts.resolve(s.cfg)
	if err != nil {
		return DetectResult{}, err
	}
	r.screenshot = false

	ctx, cancel := context.WithTimeout(ctx, r.run.GlobalTimeout)
	defer cancel()

	logger := s.logger.With(zap.String("url", target))
	sess, err := s.open(ctx, r)
	if err != nil {
		return DetectResult{}, err
	}
	defer s.closeSession(ctx, sess, logger)

	if err := s.navigate(ctx, sess, target, r, logger); err != nil {
		return DetectResult{}, err
	}

	res, view, err := s.deps.Detector.Inspect(ctx, sess)
	if err != nil {
		return DetectResult{}, err
	}
	logger.Info("Detection finished.", zap.Bool("detected", res.Detected), zap.String("indicator", res.Indicator))
	return DetectResult{
		URL:                target,
		CloudflareDetected: res.Detected,
		Indicator:          res.Indicator,
		PageTitle:          view.Title,
		FinalURL:           view.URL,
		Error:              res.Error,
	}, nil
}

// Bypass loads target, tries to clear any challenge and captures the resulting page. An
// uncleared challenge is reported through BypassSuccessful, not as an error.
func (s *Service) Bypass(ctx context.Context, target string, opts Options) (BypassResult, error) {
	timing := stats.NewTiming()
	_ = timing.Mark(stats.CheckpointInit)

	target, err := validateTarget(target)
	if err != nil {
		return BypassResult{}, err
	}
	r, err := opts.resolve(s.cfg)
	if err != nil {
		return BypassResult{}, err
	}

	// Navigation, the run and the final capture share one bound.
	budget := r.navTimeout + r.run.GlobalTimeout + r.waitAfterBypass + s.cfg.Bypass().CleanupGracePeriod
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	runID := uuid.NewString()
	logger := s.logger.With(zap.String("url", target), zap.String("run_id", runID))

	sess, err := s.open(ctx, r)
	if err != nil {
		return BypassResult{}, err
	}
	defer s.closeSession(ctx, sess, logger)
	_ = timing.Mark(stats.CheckpointContextReady)

	if err := s.navigate(ctx, sess, target, r, logger); err != nil {
		return BypassResult{}, err
	}
	_ = timing.Mark(stats.CheckpointNavigated)

	outcome, err := s.deps.Runner.Run(ctx, sess, r.run, timing)
	if err != nil {
		return BypassResult{}, err
	}

	if outcome.Detected && outcome.Success && r.waitAfterBypass > 0 {
		s.sleep(ctx, r.waitAfterBypass)
	}

	result := BypassResult{
		RunID:               runID,
		URL:                 target,
		CloudflareDetected:  outcome.Detected,
		CloudflareIndicator: outcome.Indicator,
		BypassSuccessful:    outcome.Success,
		State:               outcome.State,
		Attempts:            outcome.Attempts,
		DetectionError:      outcome.DetectionError,
		Cookies:             []browser.Cookie{},
	}

	if err := s.capture(ctx, sess, r, &result, timing, logger); err != nil {
		return BypassResult{}, err
	}
	timing.Finish()
	result.Timing = timing.Map()
	result.TimingOrder = timing.Snapshot()

	if s.deps.Sink != nil {
		s.deps.Sink.Submit(store.RunRecord{
			ID:        runID,
			URL:       target,
			State:     outcome.State,
			Detected:  outcome.Detected,
			Indicator: outcome.Indicator,
			Success:   outcome.Success,
			Attempts:  outcome.Attempts,
			ElapsedMs: outcome.ElapsedMs,
			CreatedAt: time.Now(),
		})
	}
	return result, nil
}

// Screenshot is Bypass with the screenshot forced on.
func (s *Service) Screenshot(ctx context.Context, target string, opts Options) (BypassResult, error) {
	on := true
	opts.Screenshot = &on
	return s.Bypass(ctx, target, opts)
}

// Stats reports the aggregated outcome counters.
func (s *Service) Stats() StatsResult {
	snap := s.deps.Stats.Snapshot()
	return StatsResult{
		TotalRequests:        snap.TotalRuns,
		SuccessfulBypasses:   snap.Successes,
		FailedBypasses:       snap.Failures,
		CloudflareDetections: snap.Detections,
		SuccessRate:          snap.SuccessRate,
		UptimeSeconds:        int64(snap.Uptime.Seconds()),
		UptimeFormatted:      stats.FormatUptime(snap.Uptime),
	}
}

// Health reports liveness and the browser state.
func (s *Service) Health() Health {
	return Health{
		Status:         "healthy",
		Uptime:         int64(time.Since(s.startedAt).Seconds()),
		Browser:        s.deps.Sessions.Status(),
		ActiveSessions: s.deps.Sessions.ActiveSessions(),
	}
}

// RecentRuns returns the persisted run history, newest first.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if s.deps.History == nil {
		return nil, ErrHistoryUnavailable
	}
	return s.deps.History.RecentRuns(ctx, limit)
}

func (s *Service) open(ctx context.Context, r resolved) (browser.Session, error) {
	sess, err := s.deps.Sessions.NewSession(ctx, r.session)
	if err != nil {
		return nil, fmt.Errorf("opening browser session: %w", err)
	}
	return sess, nil
}

// closeSession releases sess on a context detached from the request so that cleanup runs even
// after the caller has gone away.
func (s *Service) closeSession(ctx context.Context, sess browser.Session, logger *zap.Logger) {
	cleanupCtx, cancel := context.WithTimeout(browser.Detach(ctx), s.cfg.Bypass().CleanupGracePeriod)
	defer cancel()
	if err := sess.Close(cleanupCtx); err != nil {
		logger.Warn("Failed to close browser session.", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

// navigate loads target. A navigation that merely runs out of time is not fatal: challenge pages
// often never fire their load event, so the run continues with whatever has rendered.
func (s *Service) navigate(ctx context.Context, sess browser.Session, target string, r resolved, logger *zap.Logger) error {
	err := sess.Navigate(ctx, target, browser.WaitDOMReady, r.navTimeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		logger.Warn("Navigation timed out; continuing with the current page.", zap.Duration("timeout", r.navTimeout))
		return nil
	default:
		return fmt.Errorf("navigating to %s: %w", target, err)
	}
}

// capture fills the final page state into result. Only fatal session errors are returned; a
// missing cookie jar or screenshot is logged and left empty.
func (s *Service) capture(ctx context.Context, sess browser.Session, r resolved, result *BypassResult, timing *stats.Timing, logger *zap.Logger) error {
	view, err := detector.Capture(ctx, sess)
	switch {
	case err == nil:
		result.FinalURL = view.URL
		result.Title = view.Title
		result.ContentLength = len(view.Markup)
	case browser.IsFatal(err):
		return err
	default:
		logger.Warn("Failed to capture final page state.", zap.Error(err))
	}

	cookies, err := sess.Cookies(ctx)
	switch {
	case err == nil:
		if cookies != nil {
			result.Cookies = cookies
		}
	case browser.IsFatal(err):
		return err
	default:
		logger.Warn("Failed to read cookies.", zap.Error(err))
	}

	if !r.screenshot {
		return nil
	}
	png, err := sess.Screenshot(ctx, r.fullPage)
	switch {
	case err == nil:
		result.Screenshot = png
		result.ScreenshotFormat = "png"
		_ = timing.Mark(stats.CheckpointScreenshotTaken)
	case browser.IsFatal(err):
		return err
	default:
		logger.Warn("Failed to take screenshot.", zap.Error(err))
	}
	return nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
