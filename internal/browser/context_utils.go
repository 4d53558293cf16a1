// File: internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values of sessionCtx (the chromedp target)
// and is canceled when either sessionCtx or opCtx is done. chromedp actions must run on a
// context holding the target, while deadlines come from the caller.
func CombineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(sessionCtx)
	if deadline, ok := opCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		parentCancel := cancel
		cancel = func() {
			cancelDeadline()
			parentCancel()
		}
	}

	stop := context.AfterFunc(opCtx, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext keeps the parent's values but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context with the values of ctx that is never canceled. Session cleanup runs on
// it so that it outlives a canceled request.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
