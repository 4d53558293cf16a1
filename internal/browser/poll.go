// File: internal/browser/poll.go
package browser

import (
	"context"
	"time"
)

// Poll evaluates fn immediately and then every interval until it holds, timeout elapses or ctx
// is done. The last sleep is shortened so that a final evaluation happens at the deadline.
//
// Each evaluation runs under a context that expires half an interval after the deadline, so a
// stalled evaluation cannot hold Poll past timeout plus interval.
//
// Errors from fn count as "not yet" unless they mark the session unusable, in which case Poll
// returns them. Running out of time is not an error.
func Poll(ctx context.Context, fn PredicateFunc, timeout, interval time.Duration) (bool, error) {
	if interval <= 0 {
		interval = timeout
	}
	deadline := time.Now().Add(timeout)
	evalDeadline := deadline.Add(interval / 2)

	for {
		ok, err := evaluate(ctx, fn, evalDeadline)
		if err != nil && IsFatal(err) {
			return false, err
		}
		if ok && err == nil {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, nil
		case <-timer.C:
		}
	}
}

func evaluate(ctx context.Context, fn PredicateFunc, deadline time.Time) (bool, error) {
	evalCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return fn(evalCtx)
}
