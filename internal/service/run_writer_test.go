// File: internal/service/run_writer_test.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cfgate/internal/store"
)

// mockPersister is a mock implementation of RunPersister that also keeps every run it saw.
type mockPersister struct {
	mock.Mock
	mu   sync.Mutex
	seen []store.RunRecord
}

func (m *mockPersister) PersistRuns(ctx context.Context, runs []store.RunRecord) error {
	m.mu.Lock()
	m.seen = append(m.seen, runs...)
	m.mu.Unlock()
	return m.Called(ctx, runs).Error(0)
}

func (m *mockPersister) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func TestDrainRuns(t *testing.T) {
	ch := make(chan store.RunRecord, 3)
	ch <- store.RunRecord{ID: "1"}
	ch <- store.RunRecord{ID: "2"}
	close(ch)

	var batch []store.RunRecord
	drainRuns(ch, &batch)

	require.Len(t, batch, 2)
	assert.Equal(t, "1", batch[0].ID)
	assert.Equal(t, "2", batch[1].ID)
}

func TestRunWriter(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("BatchProcessing", func(t *testing.T) {
		persister := new(mockPersister)
		persister.On("PersistRuns", mock.Anything, mock.MatchedBy(func(runs []store.RunRecord) bool {
			return len(runs) > 0 && len(runs) <= runBatchSize
		})).Return(nil)

		w := StartRunWriter(context.Background(), persister, zap.NewNop())
		for i := 0; i < runBatchSize+5; i++ {
			w.Submit(store.RunRecord{ID: fmt.Sprint(i)})
		}
		w.Close()

		assert.Equal(t, runBatchSize+5, persister.count(), "every run is flushed on close")
		persister.AssertExpectations(t)
	})

	t.Run("SubmitAfterClose", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		persister := new(mockPersister)

		w := StartRunWriter(context.Background(), persister, zap.New(core))
		w.Close()
		w.Close()
		w.Submit(store.RunRecord{ID: "late"})

		assert.Zero(t, persister.count())
		assert.Equal(t, 1, logs.FilterMessage("Run submitted after shutdown; dropping.").Len())
	})

	t.Run("ContextCancellationFlushes", func(t *testing.T) {
		persister := new(mockPersister)
		persister.On("PersistRuns", mock.Anything, mock.Anything).Return(nil)

		ctx, cancel := context.WithCancel(context.Background())
		w := StartRunWriter(ctx, persister, zap.NewNop())
		w.Submit(store.RunRecord{ID: "a"})
		w.Submit(store.RunRecord{ID: "b"})
		cancel()
		w.Close()

		assert.Equal(t, 2, persister.count())
	})

	t.Run("PersistErrorsAreLogged", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		persister := new(mockPersister)
		persister.On("PersistRuns", mock.Anything, mock.Anything).Return(errors.New("db down"))

		w := StartRunWriter(context.Background(), persister, zap.New(core))
		w.Submit(store.RunRecord{ID: "x"})
		w.Close()

		assert.Equal(t, 1, logs.FilterMessage("Failed to persist run batch. Data may be lost.").Len())
	})
}
