// File: internal/browser/cdp_session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/config"
)

const (
	isolatedWorldName = "cfgate"
	// checkboxOffsetX is where a challenge widget draws its checkbox, from the iframe's left edge.
	checkboxOffsetX = 30.0
	closeTimeout    = 10 * time.Second
)

// cdpSession is the chromedp implementation of Session. Each one owns a dedicated browser
// context, so cookies and storage never leak between sessions.
type cdpSession struct {
	id     string
	logger *zap.Logger

	// ctx carries the chromedp target; cancel disposes the tab and its browser context.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	onClose   func()
}

var _ Session = (*cdpSession)(nil)

// newCDPSession creates a tab in a fresh browser context of the process behind browserCtx and
// applies the per-session emulation settings.
func newCDPSession(ctx context.Context, browserCtx context.Context, opts SessionOptions, cfg config.BrowserConfig, logger *zap.Logger) (*cdpSession, error) {
	id := uuid.NewString()
	tabCtx, cancel := chromedp.NewContext(browserCtx,
		chromedp.WithNewBrowserContext(func(p *target.CreateBrowserContextParams) *target.CreateBrowserContextParams {
			if opts.Proxy != "" {
				p = p.WithProxyServer(opts.Proxy)
			}
			return p
		}),
	)

	s := &cdpSession{
		id:     id,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		ctx:    tabCtx,
		cancel: cancel,
	}

	if err := runWithin(ctx, cfg.LaunchTimeout, func() error { return chromedp.Run(tabCtx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: creating browser context: %v", ErrSessionUnusable, err)
	}

	if err := s.run(ctx, cfg.LaunchTimeout, s.setupActions(opts, cfg)...); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: configuring session: %v", ErrSessionUnusable, err)
	}
	return s, nil
}

func (s *cdpSession) setupActions(opts SessionOptions, cfg config.BrowserConfig) []chromedp.Action {
	var actions []chromedp.Action
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		actions = append(actions,
			emulation.SetDeviceMetricsOverride(int64(opts.Viewport.Width), int64(opts.Viewport.Height), 1, false))
	}
	if opts.UserAgent != "" {
		override := emulation.SetUserAgentOverride(opts.UserAgent)
		if platform := platformFor(opts.UserAgent); platform != "" {
			override = override.WithPlatform(platform)
		}
		if cfg.Locale != "" {
			override = override.WithAcceptLanguage(cfg.Locale)
		}
		actions = append(actions, override)
	}
	if cfg.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(cfg.Timezone))
	}
	if opts.IgnoreTLSErrors {
		actions = append(actions, security.SetIgnoreCertificateErrors(true))
	}
	return actions
}

func (s *cdpSession) ID() string { return s.id }

// run executes actions on the session target under the caller's cancellation and an optional
// timeout.
func (s *cdpSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	return classify(s.ctx, chromedp.Run(runCtx, actions...))
}

func (s *cdpSession) Navigate(ctx context.Context, rawURL string, policy WaitPolicy, timeout time.Duration) error {
	actions := []chromedp.Action{chromedp.Navigate(rawURL)}
	if policy == WaitDOMReady {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}

	err := s.run(ctx, timeout, actions...)
	switch {
	case err == nil, IsFatal(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		// Challenge pages often never finish loading; the caller inspects whatever is there.
		return fmt.Errorf("navigation to %s did not settle within %s: %w", rawURL, timeout, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrNavigation, rawURL, err)
	}
}

func (s *cdpSession) Evaluate(ctx context.Context, script string, res interface{}) error {
	return s.run(ctx, 0, chromedp.Evaluate(script, res))
}

func (s *cdpSession) EvaluateInFrame(ctx context.Context, frame Frame, script string, res interface{}) error {
	return s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		execID, err := page.CreateIsolatedWorld(cdp.FrameID(frame.ID)).WithWorldName(isolatedWorldName).Do(ctx)
		if err != nil {
			return fmt.Errorf("creating isolated world in frame %s: %w", frame.ID, err)
		}
		return chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithContextID(execID)
		}).Do(ctx)
	}))
}

func (s *cdpSession) Frames(ctx context.Context) ([]Frame, error) {
	var tree *page.FrameTree
	err := s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	var frames []Frame
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		if t == nil || t.Frame == nil {
			return
		}
		frames = append(frames, Frame{
			ID:       string(t.Frame.ID),
			ParentID: string(t.Frame.ParentID),
			URL:      t.Frame.URL,
			Origin:   t.Frame.SecurityOrigin,
		})
		for _, child := range t.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
	return frames, nil
}

func (s *cdpSession) IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	script, err := visibleScript(selector)
	if err != nil {
		return false, err
	}
	return Poll(ctx, func(ctx context.Context) (bool, error) {
		var visible bool
		if err := s.Evaluate(ctx, script, &visible); err != nil {
			return false, err
		}
		return visible, nil
	}, timeout, 100*time.Millisecond)
}

func (s *cdpSession) Click(ctx context.Context, selector string, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return err
}

// ClickInFrame clicks inside the frame's isolated world. Out-of-process frames cannot be reached
// from the page target, so it falls back to a mouse click on the hosting <iframe> element.
func (s *cdpSession) ClickInFrame(ctx context.Context, frame Frame, selector string, timeout time.Duration) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if frame.ID != "" {
		script, err := clickScript(selector)
		if err != nil {
			return err
		}
		var clicked bool
		err = s.EvaluateInFrame(stepCtx, frame, script, &clicked)
		switch {
		case IsFatal(err):
			return err
		case err == nil && clicked:
			return nil
		case err == nil:
			return fmt.Errorf("%w: %s in frame %s", ErrElementNotFound, selector, frame.URL)
		default:
			s.logger.Debug("In-frame click failed, trying the hosting iframe.", zap.String("frame_url", frame.URL), zap.Error(err))
		}
	}
	return s.clickHostingIframe(stepCtx, frame)
}

// iframeRect is the viewport rectangle of an <iframe> element.
type iframeRect struct {
	Found  bool    `json:"found"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s *cdpSession) clickHostingIframe(ctx context.Context, frame Frame) error {
	needle := frame.URL
	if u, err := url.Parse(frame.URL); err == nil && u.Host != "" {
		needle = u.Host
	}
	script, err := iframeRectScript(needle)
	if err != nil {
		return err
	}

	var rect iframeRect
	if err := s.Evaluate(ctx, script, &rect); err != nil {
		return err
	}
	if !rect.Found || rect.Width <= 0 || rect.Height <= 0 {
		return fmt.Errorf("%w: iframe hosting %s", ErrElementNotFound, needle)
	}

	x := rect.X + min(checkboxOffsetX, rect.Width/2)
	y := rect.Y + rect.Height/2
	return s.run(ctx, 0,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
}

var keyEvents = map[Key]string{
	KeyTab:   kb.Tab,
	KeyEnter: kb.Enter,
	KeySpace: " ",
}

func (s *cdpSession) SendKey(ctx context.Context, key Key) error {
	ev, ok := keyEvents[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return s.run(ctx, 0, chromedp.KeyEvent(ev))
}

func (s *cdpSession) WaitForPredicate(ctx context.Context, fn PredicateFunc, timeout, poll time.Duration) (bool, error) {
	return Poll(ctx, fn, timeout, poll)
}

func (s *cdpSession) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return cookies, nil
}

func (s *cdpSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if fullPage {
		// Quality 100 keeps the PNG encoding.
		action = chromedp.FullScreenshot(&buf, 100)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := s.run(ctx, 0, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the tab and disposes its browser context, waiting at most closeTimeout.
func (s *cdpSession) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		err = runWithin(ctx, closeTimeout, func() error { return chromedp.Cancel(s.ctx) })
		s.cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Browser context did not close cleanly.", zap.Error(err))
		} else {
			err = nil
		}
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("Browser session closed.")
	})
	return err
}
