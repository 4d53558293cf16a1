// File: internal/interactor/strategies.go
package interactor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/config"
)

// Strategy names, in their default order.
const (
	StrategyFrameCheckbox    = "frame-checkbox"
	StrategyDocumentSelector = "document-selector"
	StrategyKeyboardFallback = "keyboard-fallback"
)

// DefaultOrder is used when the configuration names no strategies.
var DefaultOrder = []string{StrategyFrameCheckbox, StrategyDocumentSelector, StrategyKeyboardFallback}

func buildStrategies(logger *zap.Logger, cfg config.InteractorConfig, challengeDomain string) []Strategy {
	names := cfg.Strategies
	if len(names) == 0 {
		names = DefaultOrder
	}

	var out []Strategy
	for _, name := range names {
		switch name {
		case StrategyFrameCheckbox:
			out = append(out, &FrameCheckbox{Domain: challengeDomain, Selectors: cfg.FrameSelectors, StepTimeout: cfg.StepTimeout})
		case StrategyDocumentSelector:
			out = append(out, &DocumentSelector{Selectors: cfg.DocumentSelectors, StepTimeout: cfg.StepTimeout})
		case StrategyKeyboardFallback:
			out = append(out, &KeyboardFallback{StepTimeout: cfg.StepTimeout})
		default:
			logger.Warn("Ignoring unknown interaction strategy.", zap.String("strategy", name))
		}
	}
	return out
}

// -- frame-checkbox --

// FrameCheckbox clicks a checkbox-like control inside frames served from the challenge domain.
type FrameCheckbox struct {
	Domain      string
	Selectors   []string
	StepTimeout time.Duration
}

func (f *FrameCheckbox) Name() string { return StrategyFrameCheckbox }

const hostingFramesScript = `Array.from(document.querySelectorAll('iframe')).map(f => f.src || '')`

func (f *FrameCheckbox) Try(ctx context.Context, sess browser.Session) (bool, error) {
	if f.Domain == "" {
		return false, nil
	}
	targets, err := f.challengeFrames(ctx, sess)
	if err != nil {
		return false, err
	}

	for _, frame := range targets {
		if frame.ID != "" {
			for _, sel := range f.Selectors {
				err := sess.ClickInFrame(ctx, frame, sel, f.StepTimeout)
				if err == nil {
					return true, nil
				}
				if browser.IsFatal(err) {
					return false, err
				}
			}
		}
		// The widget may draw its checkbox where selectors cannot reach; click the hosting iframe.
		err := sess.ClickInFrame(ctx, browser.Frame{URL: frame.URL}, "", f.StepTimeout)
		if err == nil {
			return true, nil
		}
		if browser.IsFatal(err) {
			return false, err
		}
	}
	return false, nil
}

// challengeFrames lists frames on the challenge domain. Out-of-process frames may be missing from
// the frame tree, so the iframe elements of the main document are consulted as well.
func (f *FrameCheckbox) challengeFrames(ctx context.Context, sess browser.Session) ([]browser.Frame, error) {
	frames, err := sess.Frames(ctx)
	if err != nil {
		return nil, err
	}

	var targets []browser.Frame
	seen := make(map[string]bool)
	for _, fr := range frames {
		if fr.IsMain() || !f.matches(fr.URL, fr.Origin) {
			continue
		}
		targets = append(targets, fr)
		seen[fr.URL] = true
	}

	var srcs []string
	if err := sess.Evaluate(ctx, hostingFramesScript, &srcs); err != nil {
		if browser.IsFatal(err) {
			return nil, err
		}
		return targets, nil
	}
	for _, src := range srcs {
		if src != "" && !seen[src] && f.matches(src) {
			targets = append(targets, browser.Frame{URL: src})
			seen[src] = true
		}
	}
	return targets, nil
}

func (f *FrameCheckbox) matches(values ...string) bool {
	domain := strings.ToLower(f.Domain)
	for _, v := range values {
		if v != "" && strings.Contains(strings.ToLower(v), domain) {
			return true
		}
	}
	return false
}

// -- document-selector --

// DocumentSelector clicks the first visible match of an ordered selector list in the main document.
type DocumentSelector struct {
	Selectors   []string
	StepTimeout time.Duration
}

func (d *DocumentSelector) Name() string { return StrategyDocumentSelector }

func (d *DocumentSelector) Try(ctx context.Context, sess browser.Session) (bool, error) {
	for _, sel := range d.Selectors {
		// A zero timeout checks visibility once.
		visible, err := sess.IsVisible(ctx, sel, 0)
		if err != nil {
			if browser.IsFatal(err) {
				return false, err
			}
			continue
		}
		if !visible {
			continue
		}
		if err := sess.Click(ctx, sel, d.StepTimeout); err != nil {
			if browser.IsFatal(err) {
				return false, err
			}
			continue
		}
		return true, nil
	}
	return false, nil
}

// -- keyboard-fallback --

// KeyboardFallback focuses the page and presses Tab then Enter, which activates the first
// focusable control on most challenge pages.
type KeyboardFallback struct {
	StepTimeout time.Duration
}

func (k *KeyboardFallback) Name() string { return StrategyKeyboardFallback }

func (k *KeyboardFallback) Try(ctx context.Context, sess browser.Session) (bool, error) {
	if err := sess.Click(ctx, "body", k.StepTimeout); err != nil {
		return false, fmt.Errorf("focusing body: %w", err)
	}
	for _, key := range []browser.Key{browser.KeyTab, browser.KeyEnter} {
		if err := sess.SendKey(ctx, key); err != nil {
			return false, fmt.Errorf("sending %s: %w", key, err)
		}
	}
	return true, nil
}
