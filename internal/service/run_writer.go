// File: internal/service/run_writer.go
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/store"
)

const (
	runBatchSize    = 50
	runBatchTimeout = 2 * time.Second
	runBufferSize   = 1024
	persistTimeout  = 30 * time.Second
)

// RunPersister writes batches of runs. store.Store implements it.
type RunPersister interface {
	PersistRuns(ctx context.Context, runs []store.RunRecord) error
}

// RunWriter decouples run persistence from request handling. Runs are buffered and written in
// batches by a single goroutine.
type RunWriter struct {
	ch      chan store.RunRecord
	wg      sync.WaitGroup
	logger  *zap.Logger
	persist RunPersister

	mu     sync.RWMutex
	closed bool
}

// StartRunWriter launches the consumer goroutine. It stops when Close is called or ctx is done,
// flushing whatever is buffered first.
func StartRunWriter(ctx context.Context, persist RunPersister, logger *zap.Logger) *RunWriter {
	w := &RunWriter{
		ch:      make(chan store.RunRecord, runBufferSize),
		logger:  logger.Named("run_writer"),
		persist: persist,
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return w
}

// Submit queues rec. When the buffer is full the run is dropped and logged.
func (w *RunWriter) Submit(rec store.RunRecord) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn("Run submitted after shutdown; dropping.", zap.String("run_id", rec.ID))
		return
	}
	select {
	case w.ch <- rec:
	default:
		w.logger.Warn("Run buffer is full; dropping.", zap.String("run_id", rec.ID))
	}
}

// Close stops accepting runs and waits for the buffer to be written.
func (w *RunWriter) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *RunWriter) loop(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Debug("Run writer started.")
	defer w.logger.Debug("Run writer stopped.")

	batch := make([]store.RunRecord, 0, runBatchSize)
	ticker := time.NewTicker(runBatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Persistence outlives the main context so a shutdown does not lose the last batch.
		persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := w.persist.PersistRuns(persistCtx, batch); err != nil {
			w.logger.Error("Failed to persist run batch. Data may be lost.", zap.Error(err), zap.Int("batch_size", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-w.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= runBatchSize {
				flush()
				ticker.Reset(runBatchTimeout)
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			drainRuns(w.ch, &batch)
			flush()
			return
		}
	}
}

// drainRuns moves whatever is buffered in ch into batch without blocking.
func drainRuns(ch <-chan store.RunRecord, batch *[]store.RunRecord) {
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			*batch = append(*batch, rec)
		default:
			return
		}
	}
}
