// File: internal/browser/context_utils_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type ctxKey string

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	const key ctxKey = "target"

	t.Run("inherits values from the session context", func(t *testing.T) {
		sessionCtx := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(sessionCtx, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("canceled by the session context", func(t *testing.T) {
		sessionCtx, cancelSession := context.WithCancel(context.Background())
		combined, cancel := CombineContext(sessionCtx, context.Background())
		defer cancel()

		cancelSession()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("canceled by the operation context", func(t *testing.T) {
		opCtx, cancelOp := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), opCtx)
		defer cancel()

		cancelOp()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("adopts the operation deadline", func(t *testing.T) {
		opCtx, cancelOp := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancelOp()
		combined, cancel := CombineContext(context.Background(), opCtx)
		defer cancel()

		deadline, ok := combined.Deadline()
		require.True(t, ok)
		want, _ := opCtx.Deadline()
		assert.Equal(t, want, deadline)

		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.DeadlineExceeded)
	})

	t.Run("explicit cancel", func(t *testing.T) {
		combined, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	const key ctxKey = "target"

	t.Run("keeps values and ignores cancellation", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.WithValue(context.Background(), key, "tab-2"))
		detached := Detach(parent)
		cancel()

		assert.Equal(t, "tab-2", detached.Value(key))
		assert.NoError(t, detached.Err())
		assert.Nil(t, detached.Done())
	})

	t.Run("drops the parent deadline", func(t *testing.T) {
		parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		detached := Detach(parent)
		<-parent.Done()

		_, ok := detached.Deadline()
		assert.False(t, ok)
		assert.NoError(t, detached.Err())
	})

	t.Run("derived contexts keep their own timeout", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		derived, cancel := context.WithTimeout(Detach(parent), 20*time.Millisecond)
		defer cancel()
		cancelParent()

		assert.NoError(t, derived.Err())
		<-derived.Done()
		assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
	})
}
