// File: internal/interactor/interactor_test.go
package interactor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/config"
	"github.com/xkilldash9x/cfgate/internal/mocks"
)

const (
	domain      = "challenges.cloudflare.com"
	widgetURL   = "https://challenges.cloudflare.com/cdn-cgi/challenge-platform/h/g/turnstile/if/ov2/av0/rcv0/0/abc"
	stepTimeout = 200 * time.Millisecond
)

var (
	mainFrame   = browser.Frame{ID: "MAIN", URL: "https://site.example/", Origin: "https://site.example"}
	widgetFrame = browser.Frame{ID: "W1", ParentID: "MAIN", URL: widgetURL, Origin: "https://challenges.cloudflare.com"}
	errBoom     = errors.New("node not found")
	errFatal    = fmt.Errorf("%w: target closed", browser.ErrSessionUnusable)
)

func newTestInteractor(t *testing.T, settle time.Duration) *Interactor {
	t.Helper()
	cfg := config.NewDefaultConfig().Interactor()
	cfg.StepTimeout = stepTimeout
	cfg.SettleDelay = settle
	cfg.FrameSelectors = []string{`input[type="checkbox"]`, `[role="checkbox"]`}
	cfg.DocumentSelectors = []string{"#challenge-stage input", "#cf-stage"}
	return New(zaptest.NewLogger(t), cfg, domain)
}

func TestStrategyOrder(t *testing.T) {
	i := newTestInteractor(t, 0)
	assert.Equal(t, DefaultOrder, i.Strategies())

	cfg := config.NewDefaultConfig().Interactor()
	cfg.Strategies = []string{StrategyKeyboardFallback, "teleport", StrategyFrameCheckbox}
	custom := New(zaptest.NewLogger(t), cfg, domain)
	assert.Equal(t, []string{StrategyKeyboardFallback, StrategyFrameCheckbox}, custom.Strategies())
}

func TestAttemptFrameCheckbox(t *testing.T) {
	t.Run("clicks a checkbox inside the challenge frame", func(t *testing.T) {
		sess := new(mocks.MockSession)
		sess.On("Frames", mock.Anything).Return([]browser.Frame{mainFrame, widgetFrame}, nil)
		sess.On("Evaluate", mock.Anything, hostingFramesScript).Return([]string{widgetURL}, nil)
		sess.On("ClickInFrame", mock.Anything, widgetFrame, `input[type="checkbox"]`, stepTimeout).Return(browser.ErrElementNotFound).Once()
		sess.On("ClickInFrame", mock.Anything, widgetFrame, `[role="checkbox"]`, stepTimeout).Return(nil).Once()

		att, err := newTestInteractor(t, 0).Attempt(context.Background(), sess)
		require.NoError(t, err)
		assert.Equal(t, Attempt{Strategy: StrategyFrameCheckbox, Attempted: true}, att)
		sess.AssertExpectations(t)
		sess.AssertNotCalled(t, "Click", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("falls back to the hosting iframe for out-of-process frames", func(t *testing.T) {
		sess := new(mocks.MockSession)
		sess.On("Frames", mock.Anything).Return([]browser.Frame{mainFrame}, nil)
		sess.On("Evaluate", mock.Anything, hostingFramesScript).Return([]string{"", "https://ads.example/frame", widgetURL}, nil)
		sess.On("ClickInFrame", mock.Anything, browser.Frame{URL: widgetURL}, "", stepTimeout).Return(nil).Once()

		att, err := newTestInteractor(t, 0).Attempt(context.Background(), sess)
		require.NoError(t, err)
		assert.Equal(t, Attempt{Strategy: StrategyFrameCheckbox, Attempted: true}, att)
		sess.AssertExpectations(t)
	})
}

func TestAttemptFallsThroughStrategies(t *testing.T) {
	noFrames := func(sess *mocks.MockSession) {
		sess.On("Frames", mock.Anything).Return([]browser.Frame{mainFrame}, nil)
		sess.On("Evaluate", mock.Anything, hostingFramesScript).Return([]string{}, nil)
	}

	t.Run("document selector clicks the first visible match", func(t *testing.T) {
		sess := new(mocks.MockSession)
		noFrames(sess)
		sess.On("IsVisible", mock.Anything, "#challenge-stage input", time.Duration(0)).Return(false, nil)
		sess.On("IsVisible", mock.Anything, "#cf-stage", time.Duration(0)).Return(true, nil)
		sess.On("Click", mock.Anything, "#cf-stage", stepTimeout).Return(nil).Once()

		att, err := newTestInteractor(t, 0).Attempt(context.Background(), sess)
		require.NoError(t, err)
		assert.Equal(t, Attempt{Strategy: StrategyDocumentSelector, Attempted: true}, att)
		sess.AssertExpectations(t)
	})

	t.Run("keyboard fallback clicks body then sends Tab and Enter", func(t *testing.T) {
		sess := new(mocks.MockSession)
		noFrames(sess)
		sess.On("IsVisible", mock.Anything, mock.Anything, time.Duration(0)).Return(false, nil)
		sess.On("Click", mock.Anything, "body", stepTimeout).Return(nil).Once()
		tab := sess.On("SendKey", mock.Anything, browser.KeyTab).Return(nil).Once()
		sess.On("SendKey", mock.Anything, browser.KeyEnter).Return(nil).Once().NotBefore(tab)

		att, err := newTestInteractor(t, 0).Attempt(context.Background(), sess)
		require.NoError(t, err)
		assert.Equal(t, Attempt{Strategy: StrategyKeyboardFallback, Attempted: true}, att)
		sess.AssertExpectations(t)
	})

	t.Run("per-element errors are swallowed", func(t *testing.T) {
		sess := new(mocks.MockSession)
		sess.On("Frames", mock.Anything).Return(nil, errBoom)
		sess.On("IsVisible", mock.Anything, mock.Anything, time.Duration(0)).Return(false, errBoom)
		sess.On("Click", mock.Anything, "body", stepTimeout).Return(errBoom)

		att, err := newTestInteractor(t, 0).Attempt(context.Background(), sess)
		require.NoError(t, err)
		assert.Equal(t, Attempt{}, att)
		sess.AssertNotCalled(t, "SendKey", mock.Anything, mock.Anything)
	})
}

func TestAttemptFatalErrors(t *testing.T) {
	sess := new(mocks.MockSession)
	sess.On("Frames", mock.Anything).Return(nil, errFatal)

	att, err := newTestInteractor(t, 0).Attempt(context.Background(), sess)
	assert.ErrorIs(t, err, browser.ErrSessionUnusable)
	assert.False(t, att.Attempted)
	sess.AssertNotCalled(t, "IsVisible", mock.Anything, mock.Anything, mock.Anything)
}

func TestAttemptSettles(t *testing.T) {
	settle := 60 * time.Millisecond
	sess := new(mocks.MockSession)
	sess.On("Frames", mock.Anything).Return([]browser.Frame{mainFrame, widgetFrame}, nil)
	sess.On("Evaluate", mock.Anything, hostingFramesScript).Return([]string{widgetURL}, nil)
	sess.On("ClickInFrame", mock.Anything, widgetFrame, mock.Anything, stepTimeout).Return(nil)

	t.Run("waits the settle delay after acting", func(t *testing.T) {
		start := time.Now()
		att, err := newTestInteractor(t, settle).Attempt(context.Background(), sess)
		require.NoError(t, err)
		assert.True(t, att.Attempted)
		assert.GreaterOrEqual(t, time.Since(start), settle)
	})

	t.Run("settling stops with the context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		att, err := newTestInteractor(t, 5*time.Second).Attempt(ctx, sess)
		require.NoError(t, err)
		assert.True(t, att.Attempted)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestAttemptWithExhaustedBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := new(mocks.MockSession)

	att, err := newTestInteractor(t, 0).Attempt(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, Attempt{}, att)
	sess.AssertExpectations(t)
}
