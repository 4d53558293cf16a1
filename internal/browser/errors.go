// File: internal/browser/errors.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

var (
	// ErrSessionUnusable marks a session whose page, target or browser process is gone.
	// Callers abort the run when they see it.
	ErrSessionUnusable = errors.New("browser session unusable")
	// ErrElementNotFound is returned when a selector matched nothing within its timeout.
	ErrElementNotFound = errors.New("element not found")
	// ErrNavigation is returned when the target could not be loaded at all.
	ErrNavigation = errors.New("navigation failed")
	// ErrManagerClosed is returned by NewSession after Shutdown.
	ErrManagerClosed = errors.New("browser manager is shut down")
)

// IsFatal reports whether err leaves the session unusable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionUnusable)
}

// fatalMarkers are substrings of CDP transport errors raised once the target is gone.
var fatalMarkers = []string{
	"target closed",
	"session closed",
	"websocket",
	"browser has disconnected",
	"no such target",
	"inspected target navigated or closed",
}

// classify wraps err with ErrSessionUnusable when it reflects a dead session rather than a failed
// step. sessionCtx is the long-lived context of the browsing context.
func classify(sessionCtx context.Context, err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	if sessionCtx.Err() != nil ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrChannelClosed) {
		return fmt.Errorf("%w: %v", ErrSessionUnusable, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrSessionUnusable, err)
		}
	}
	return err
}
