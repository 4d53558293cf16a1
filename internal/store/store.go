// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/bypass"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunRecord is one completed bypass run as kept in the history table.
type RunRecord struct {
	ID        string                 `json:"id"`
	URL       string                 `json:"url"`
	State     bypass.State           `json:"state"`
	Detected  bool                   `json:"detected"`
	Indicator string                 `json:"indicator,omitempty"`
	Success   bool                   `json:"success"`
	Attempts  []bypass.AttemptRecord `json:"attempts"`
	ElapsedMs int64                  `json:"elapsedMs"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Store persists bypass run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bypass_runs (
    id          UUID PRIMARY KEY,
    url         TEXT NOT NULL,
    state       TEXT NOT NULL,
    detected    BOOLEAN NOT NULL,
    indicator   TEXT NOT NULL DEFAULT '',
    success     BOOLEAN NOT NULL,
    attempts    JSONB NOT NULL DEFAULT '[]',
    elapsed_ms  BIGINT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bypass_runs_created_at_idx ON bypass_runs (created_at DESC);
`

// Migrate creates the history table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	s.log.Debug("Schema is up to date.")
	return nil
}

var runColumns = []string{"id", "url", "state", "detected", "indicator", "success", "attempts", "elapsed_ms", "created_at"}

// RecordRun stores a single run.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	return s.PersistRuns(ctx, []RunRecord{rec})
}

// PersistRuns writes a batch of runs in one transaction.
func (s *Store) PersistRuns(ctx context.Context, runs []RunRecord) error {
	if len(runs) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(runs))
	for i, r := range runs {
		attempts := r.Attempts
		if attempts == nil {
			attempts = []bypass.AttemptRecord{}
		}
		raw, err := json.Marshal(attempts)
		if err != nil {
			return fmt.Errorf("failed to encode attempts of run %s: %w", r.ID, err)
		}
		rows[i] = []interface{}{
			r.ID, r.URL, string(r.State), r.Detected, r.Indicator, r.Success,
			raw, r.ElapsedMs, r.CreatedAt.UTC(),
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"bypass_runs"}, runColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy runs: %w", err)
	}
	if int(n) != len(runs) {
		return fmt.Errorf("mismatch in copied runs count: expected %d, got %d", len(runs), n)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT id, url, state, detected, indicator, success, attempts, elapsed_ms, created_at
        FROM bypass_runs
        ORDER BY created_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			r     RunRecord
			state string
			raw   []byte
		)
		if err := rows.Scan(&r.ID, &r.URL, &state, &r.Detected, &r.Indicator, &r.Success, &raw, &r.ElapsedMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.State = bypass.State(state)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Attempts); err != nil {
				return nil, fmt.Errorf("failed to decode attempts of run %s: %w", r.ID, err)
			}
		}
		if r.Attempts == nil {
			r.Attempts = []bypass.AttemptRecord{}
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
