// File: internal/browser/session.go
package browser

import (
	"context"
	"time"
)

// Session is an isolated browsing context: its own cookies, storage and viewport, sharing only the
// browser process with other sessions. Every method takes the caller's context; timeouts given as
// arguments are applied on top of it.
//
// Implementations wrap errors that leave the session unusable with ErrSessionUnusable. All other
// errors are local to the call.
type Session interface {
	ID() string

	Navigate(ctx context.Context, url string, policy WaitPolicy, timeout time.Duration) error

	// Evaluate runs script in the main document and unmarshals the result into res.
	Evaluate(ctx context.Context, script string, res interface{}) error
	// EvaluateInFrame runs script in an isolated world created inside frame.
	EvaluateInFrame(ctx context.Context, frame Frame, script string, res interface{}) error
	// Frames lists every frame of the page, main frame first.
	Frames(ctx context.Context) ([]Frame, error)

	IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	Click(ctx context.Context, selector string, timeout time.Duration) error
	// ClickInFrame clicks the first element matching selector inside frame.
	ClickInFrame(ctx context.Context, frame Frame, selector string, timeout time.Duration) error
	SendKey(ctx context.Context, key Key) error

	// WaitForPredicate polls fn every poll until it holds or timeout elapses.
	WaitForPredicate(ctx context.Context, fn PredicateFunc, timeout, poll time.Duration) (bool, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	// Screenshot returns PNG bytes of the viewport, or of the whole page when fullPage is set.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	// Close releases the browsing context. It is safe to call more than once.
	Close(ctx context.Context) error
}

// PredicateFunc is evaluated against the live page while waiting.
type PredicateFunc func(ctx context.Context) (bool, error)

// WaitPolicy selects the navigation milestone Navigate waits for.
type WaitPolicy int

const (
	// WaitLoad waits for the load event.
	WaitLoad WaitPolicy = iota
	// WaitDOMReady waits for the load event and a ready body element.
	WaitDOMReady
)

func (w WaitPolicy) String() string {
	switch w {
	case WaitLoad:
		return "load"
	case WaitDOMReady:
		return "domready"
	default:
		return "unknown"
	}
}

// Key is a named keyboard key.
type Key string

const (
	KeyTab   Key = "Tab"
	KeyEnter Key = "Enter"
	KeySpace Key = "Space"
)

// Frame identifies one browsing frame of a page.
type Frame struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	URL      string `json:"url"`
	Origin   string `json:"origin"`
}

// IsMain reports whether the frame is the top-level document.
func (f Frame) IsMain() bool { return f.ParentID == "" }

// Cookie is a browser cookie as reported to API callers.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionOptions configure one isolated session.
type SessionOptions struct {
	Viewport        Viewport
	UserAgent       string
	Proxy           string
	IgnoreTLSErrors bool
	Headless        bool
}
