// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/stats"
)

// Components holds every long-lived dependency of a running service and owns their shutdown.
type Components struct {
	Service        *Service
	BrowserManager *browser.Manager
	Stats          *stats.Aggregator
	RunWriter      *RunWriter
	DBPool         *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown releases the components in dependency order: pending runs are flushed while the
// browser winds down, then the database pool is closed. ctx bounds the wait for open sessions.
func (c *Components) Shutdown(ctx context.Context) error {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	g, gctx := errgroup.WithContext(ctx)
	if c.RunWriter != nil {
		g.Go(func() error {
			c.RunWriter.Close()
			logger.Debug("Run writer flushed.")
			return nil
		})
	}
	if c.BrowserManager != nil {
		g.Go(func() error {
			return c.BrowserManager.Shutdown(gctx)
		})
	}
	err := g.Wait()
	if err != nil {
		logger.Warn("Error during browser manager shutdown.", zap.Error(err))
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
	return err
}

// shutdownTimeout bounds the cleanup of a partially built component set.
const shutdownTimeout = 30 * time.Second
