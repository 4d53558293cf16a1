// File: internal/service/service_test.go
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/bypass"
	"github.com/xkilldash9x/cfgate/internal/config"
	"github.com/xkilldash9x/cfgate/internal/detector"
	"github.com/xkilldash9x/cfgate/internal/mocks"
	"github.com/xkilldash9x/cfgate/internal/observability"
	"github.com/xkilldash9x/cfgate/internal/stats"
	"github.com/xkilldash9x/cfgate/internal/store"
)

func TestMain(m *testing.M) {
	cfg := config.NewDefaultConfig()
	observability.InitializeLogger(cfg.Logger())
	exitCode := m.Run()
	observability.Sync()
	os.Exit(exitCode)
}

// mockRunner is a mock implementation of Runner.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, sess browser.Session, cfg bypass.RunConfig, timing *stats.Timing) (bypass.Outcome, error) {
	args := m.Called(ctx, sess, cfg, timing)
	return args.Get(0).(bypass.Outcome), args.Error(1)
}

// mockSink is a mock implementation of RunSink.
type mockSink struct {
	mock.Mock
}

func (m *mockSink) Submit(rec store.RunRecord) {
	m.Called(rec)
}

type fixture struct {
	svc      *Service
	cfg      *config.Config
	sessions *mocks.MockSessionFactory
	sess     *mocks.MockSession
	runner   *mockRunner
	sink     *mockSink
	agg      *stats.Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.BypassCfg.WaitAfterBypass = 0
	cfg.BypassCfg.CleanupGracePeriod = time.Second

	f := &fixture{
		cfg:      cfg,
		sessions: new(mocks.MockSessionFactory),
		sess:     new(mocks.MockSession),
		runner:   new(mockRunner),
		sink:     new(mockSink),
		agg:      stats.NewAggregator(),
	}
	f.sess.On("ID").Return("sess-1").Maybe()
	f.svc = New(cfg, zaptest.NewLogger(t), Dependencies{
		Sessions: f.sessions,
		Detector: detector.New(cfg.Detector()),
		Runner:   f.runner,
		Stats:    f.agg,
		Sink:     f.sink,
	})
	return f
}

func (f *fixture) expectSession() {
	f.sessions.On("NewSession", mock.Anything, mock.AnythingOfType("browser.SessionOptions")).Return(f.sess, nil).Once()
	f.sess.On("Close", mock.Anything).Return(nil).Once()
}

func (f *fixture) assert(t *testing.T) {
	f.sessions.AssertExpectations(t)
	f.sess.AssertExpectations(t)
	f.runner.AssertExpectations(t)
	f.sink.AssertExpectations(t)
}

var (
	challengePage = detector.PageView{
		Title:  "Just a moment...",
		URL:    "https://protected.example/",
		Markup: `<html><div id="challenge-stage"></div></html>`,
		Text:   "Checking your browser",
	}
	plainPage = detector.PageView{
		Title:  "Example Domain",
		URL:    "https://example.com/",
		Markup: "<html><body><h1>Example Domain</h1></body></html>",
		Text:   "Example Domain",
	}
)

func TestDetectRejectsInvalidTargets(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"", "   ", "example.com", "ftp://example.com/file", "https://", "http://[::1"} {
		t.Run(fmt.Sprintf("%q", target), func(t *testing.T) {
			_, err := f.svc.Detect(context.Background(), target, Options{})
			assert.ErrorIs(t, err, ErrInvalidTarget)
			_, err = f.svc.Bypass(context.Background(), target, Options{})
			assert.ErrorIs(t, err, ErrInvalidTarget)
		})
	}
	f.sessions.AssertNotCalled(t, "NewSession", mock.Anything, mock.Anything)
}

func TestDetectRejectsInvalidOptions(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Detect(context.Background(), "https://example.com", Options{TimeoutMs: -5})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	f.sessions.AssertNotCalled(t, "NewSession", mock.Anything, mock.Anything)
}

func TestDetectChallengePage(t *testing.T) {
	f := newFixture(t)
	f.expectSession()
	f.sess.On("Navigate", mock.Anything, "https://protected.example/", browser.WaitDOMReady, mock.Anything).Return(nil)
	f.sess.On("Evaluate", mock.Anything, mock.Anything).Return(challengePage, nil)

	res, err := f.svc.Detect(context.Background(), "https://protected.example/", Options{})
	require.NoError(t, err)
	assert.True(t, res.CloudflareDetected)
	assert.Equal(t, detector.IndicatorTitle, res.Indicator)
	assert.Equal(t, "Just a moment...", res.PageTitle)
	assert.Equal(t, "https://protected.example/", res.FinalURL)
	f.assert(t)
	assert.Zero(t, f.agg.Snapshot().TotalRuns, "detection alone is not a bypass run")
}

func TestDetectCleanPageAfterNavigationTimeout(t *testing.T) {
	f := newFixture(t)
	f.expectSession()
	f.sess.On("Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("waiting for load: %w", context.DeadlineExceeded))
	f.sess.On("Evaluate", mock.Anything, mock.Anything).Return(plainPage, nil)

	res, err := f.svc.Detect(context.Background(), "https://example.com", Options{})
	require.NoError(t, err)
	assert.False(t, res.CloudflareDetected)
	assert.Empty(t, res.Indicator)
	assert.Equal(t, "Example Domain", res.PageTitle)
	f.assert(t)
}

func TestDetectNavigationFailureClosesSession(t *testing.T) {
	f := newFixture(t)
	f.expectSession()
	f.sess.On("Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("%w: net::ERR_NAME_NOT_RESOLVED", browser.ErrNavigation))

	_, err := f.svc.Detect(context.Background(), "https://nowhere.invalid", Options{})
	assert.ErrorIs(t, err, browser.ErrNavigation)
	f.assert(t)
}

func TestDetectSessionUnavailable(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("NewSession", mock.Anything, mock.Anything).Return(nil, browser.ErrManagerClosed)

	_, err := f.svc.Detect(context.Background(), "https://example.com", Options{})
	assert.ErrorIs(t, err, browser.ErrManagerClosed)
}

func TestDetectPassesSessionOptions(t *testing.T) {
	f := newFixture(t)
	headful := false
	f.sessions.On("NewSession", mock.Anything, mock.MatchedBy(func(o browser.SessionOptions) bool {
		return o.UserAgent == "custom-agent/1.0" && !o.Headless && o.Viewport == browser.Viewport{Width: 800, Height: 600} && o.Proxy == "http://proxy:8080"
	})).Return(f.sess, nil).Once()
	f.sess.On("Close", mock.Anything).Return(nil).Once()
	f.sess.On("Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.sess.On("Evaluate", mock.Anything, mock.Anything).Return(plainPage, nil)

	_, err := f.svc.Detect(context.Background(), "https://example.com", Options{
		UserAgent: "custom-agent/1.0",
		Headless:  &headful,
		Width:     800,
		Height:    600,
		Proxy:     "http://proxy:8080",
	})
	require.NoError(t, err)
	f.assert(t)
}

func TestBypassSuccess(t *testing.T) {
	f := newFixture(t)
	f.expectSession()
	f.sess.On("Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	outcome := bypass.Outcome{
		State:     bypass.StateDoneSuccess,
		Detected:  true,
		Indicator: detector.IndicatorTitle,
		Success:   true,
		Attempts:  []bypass.AttemptRecord{{Index: 0, TimestampMs: 10, Strategy: "frame-checkbox", InteractionAttempted: true, PredicateSatisfied: true}},
		ElapsedMs: 2600,
	}
	f.runner.On("Run", mock.Anything, f.sess, mock.MatchedBy(func(c bypass.RunConfig) bool {
		return c.MaxAttempts == 5 && c.PollInterval == 100*time.Millisecond && c.GlobalTimeout == 20*time.Second
	}), mock.Anything).Return(outcome, nil)

	cleared := detector.PageView{Title: "Home", URL: "https://protected.example/home", Markup: strings.Repeat("x", 4096)}
	f.sess.On("Evaluate", mock.Anything, mock.Anything).Return(cleared, nil)
	f.sess.On("Cookies", mock.Anything).Return([]browser.Cookie{{Name: "cf_clearance", Value: "abc", Domain: ".protected.example"}}, nil)
	f.sess.On("Screenshot", mock.Anything, true).Return([]byte("\x89PNG"), nil)
	f.sink.On("Submit", mock.MatchedBy(func(r store.RunRecord) bool {
		return r.State == bypass.StateDoneSuccess && r.Success && r.Detected && r.URL == "https://protected.example/" && len(r.Attempts) == 1
	})).Once()

	res, err := f.svc.Bypass(context.Background(), "https://protected.example/", Options{
		TimeoutMs:      20000,
		MaxAttempts:    5,
		PollIntervalMs: 100,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.CloudflareDetected)
	assert.Equal(t, detector.IndicatorTitle, res.CloudflareIndicator)
	assert.True(t, res.BypassSuccessful)
	assert.Equal(t, bypass.StateDoneSuccess, res.State)
	assert.Equal(t, "https://protected.example/home", res.FinalURL)
	assert.Equal(t, "Home", res.Title)
	assert.Equal(t, 4096, res.ContentLength)
	assert.Equal(t, []byte("\x89PNG"), res.Screenshot)
	assert.Equal(t, "png", res.ScreenshotFormat)
	require.Len(t, res.Cookies, 1)
	assert.Equal(t, "cf_clearance", res.Cookies[0].Name)
	for _, name := range []string{stats.CheckpointInit, stats.CheckpointContextReady, stats.CheckpointNavigated, stats.CheckpointScreenshotTaken, stats.CheckpointTotal} {
		assert.Contains(t, res.Timing, name)
	}

	order := make([]string, 0, len(res.TimingOrder))
	for i, m := range res.TimingOrder {
		order = append(order, m.Name)
		if i > 0 {
			assert.GreaterOrEqual(t, m.ElapsedMs, res.TimingOrder[i-1].ElapsedMs)
		}
		assert.Equal(t, res.Timing[m.Name], m.ElapsedMs)
	}
	assert.Equal(t, []string{stats.CheckpointInit, stats.CheckpointContextReady, stats.CheckpointNavigated, stats.CheckpointScreenshotTaken, stats.CheckpointTotal}, order)
	assert.Empty(t, res.DetectionError)
	f.assert(t)
}

func TestBypassReportsDetectionError(t *testing.T) {
	f := newFixture(t)
	f.expectSession()
	f.sess.On("Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.runner.On("Run", mock.Anything, f.sess, mock.Anything, mock.Anything).Return(bypass.Outcome{
		State:          bypass.StateDoneClean,
		Success:        true,
		Attempts:       []bypass.AttemptRecord{},
		DetectionError: "capturing page: Runtime.evaluate timed out",
	}, nil)
	f.sess.On("Evaluate", mock.Anything, mock.Anything).Return(plainPage, nil)
	f.sess.On("Cookies", mock.Anything).Return([]browser.Cookie{}, nil)
	f.sink.On("Submit", mock.Anything).Once()

	noShot := false
	res, err := f.svc.Bypass(context.Background(), "https://example.com/", Options{Screenshot: &noShot})
	require.NoError(t, err)
	assert.Equal(t, bypass.StateDoneClean, res.State)
	assert.True(t, res.BypassSuccessful)
	assert.Equal(t, "capturing page: Runtime.evaluate timed out", res.DetectionError)
	f.assert(t)
}

func TestBypassFailureIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.expectSession()
	f.sess.On("Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.runner.On("Run", mock.Anything, f.sess, mock.Anything, mock.Anything).Return(bypass.Outcome{
		State:    bypass.StateDoneFailedSoft,
		Detected: true,
		Attempts: []bypass.AttemptRecord{{Index: 0}, {Index: 1}, {Index: 2}},
	}, nil)
	f.sess.On("Evaluate", mock.Anything, mock.Anything).Return(challengePage, nil)
	f.sess.On("Cookies", mock.Anything).Return(nil, errors.New("cookie jar unavailable"))
	f.sink.On("Submit", mock.Anything).Once()

	noShot := false
	res, err := f.svc.Bypass(context.Background(), "https://protected.example/", Options{Screenshot: &noShot})
	require.NoError(t, err)
	assert.False(t, res.BypassSuccessful)
	assert.Len(t, res.Attempts, 3)
	assert.Empty(t, res.Screenshot)
	assert.NotNil(t, res.Cookies)
	f.sess.AssertNotCalled(t, "Screenshot", mock.Anything, mock.Anything)
	f.assert(t)
}

func TestBypassFatalSessionError(t *testing.T) {
	f := newFixture(t)
	f.expectSession()
	f.sess.On("Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.runner.On("Run", mock.Anything, f.sess, mock.Anything, mock.Anything).
		Return(bypass.Outcome{}, fmt.Errorf("attempt 0: %w: target closed", browser.ErrSessionUnusable))

	_, err := f.svc.Bypass(context.Background(), "https://protected.example/", Options{})
	assert.ErrorIs(t, err, browser.ErrSessionUnusable)
	f.sink.AssertNotCalled(t, "Submit", mock.Anything)
	f.assert(t)
}

func TestScreenshotForcesCapture(t *testing.T) {
	f := newFixture(t)
	f.cfg.CaptureCfg.Screenshot = false
	f.expectSession()
	f.sess.On("Navigate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.runner.On("Run", mock.Anything, f.sess, mock.Anything, mock.Anything).Return(bypass.Outcome{State: bypass.StateDoneClean, Success: true}, nil)
	f.sess.On("Evaluate", mock.Anything, mock.Anything).Return(plainPage, nil)
	f.sess.On("Cookies", mock.Anything).Return([]browser.Cookie{}, nil)
	f.sess.On("Screenshot", mock.Anything, false).Return([]byte("png"), nil)
	f.sink.On("Submit", mock.Anything).Once()

	noFull := false
	res, err := f.svc.Screenshot(context.Background(), "https://example.com", Options{FullPage: &noFull})
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), res.Screenshot)
	assert.True(t, res.BypassSuccessful)
	f.assert(t)
}

func TestStatsReportsAggregator(t *testing.T) {
	f := newFixture(t)
	f.agg.RecordRun(true, stats.Bool(true))
	f.agg.RecordRun(true, stats.Bool(false))
	f.agg.RecordRun(false, nil)

	s := f.svc.Stats()
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(2), s.CloudflareDetections)
	assert.Equal(t, int64(1), s.SuccessfulBypasses)
	assert.Equal(t, int64(1), s.FailedBypasses)
	assert.InDelta(t, 50.0, s.SuccessRate, 0.001)
	assert.NotEmpty(t, s.UptimeFormatted)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Status").Return("idle")
	f.sessions.On("ActiveSessions").Return(0)

	h := f.svc.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "idle", h.Browser)
	assert.Zero(t, h.ActiveSessions)
}

func TestRecentRunsWithoutHistory(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecentRuns(context.Background(), 10)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestResolveOptions(t *testing.T) {
	cfg := config.NewDefaultConfig()

	r, err := Options{}.resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, r.run.GlobalTimeout)
	assert.Equal(t, 3, r.run.MaxAttempts)
	assert.Equal(t, 2500*time.Millisecond, r.run.PollInterval)
	assert.Equal(t, 3*time.Second, r.waitAfterBypass)
	assert.True(t, r.session.Headless)
	assert.True(t, r.screenshot)
	assert.True(t, r.fullPage)
	assert.Equal(t, browser.Viewport{Width: 1920, Height: 1080}, r.session.Viewport)
	assert.Contains(t, cfg.Browser().UserAgents, r.session.UserAgent)

	zero := 0
	r, err = Options{TimeoutMs: 5000, WaitAfterBypassMs: &zero}.resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, r.run.GlobalTimeout)
	assert.Equal(t, 5*time.Second, r.navTimeout, "navigation never outlives the run budget")
	assert.Zero(t, r.waitAfterBypass)

	neg := -1
	_, err = Options{WaitAfterBypassMs: &neg}.resolve(cfg)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
