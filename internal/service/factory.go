// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/bypass"
	"github.com/xkilldash9x/cfgate/internal/config"
	"github.com/xkilldash9x/cfgate/internal/detector"
	"github.com/xkilldash9x/cfgate/internal/interactor"
	"github.com/xkilldash9x/cfgate/internal/stats"
	"github.com/xkilldash9x/cfgate/internal/store"
)

// ComponentFactory builds the component set of a service. It exists so commands can be tested
// without a browser or a database.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory returns the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the detector, interactor, orchestrator and browser manager around one shared
// stats aggregator. A database is connected only when database.url is set.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			shutdownCtx, cancel := context.WithTimeout(browser.Detach(ctx), shutdownTimeout)
			defer cancel()
			_ = components.Shutdown(shutdownCtx)
		}
	}()

	deps := Dependencies{}

	// 1. Optional run history.
	if cfg.Database().URL != "" {
		pool, err := store.Connect(ctx, cfg.Database())
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.DBPool = pool

		runStore, err := store.New(ctx, pool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		if err := runStore.Migrate(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.RunWriter = StartRunWriter(browser.Detach(ctx), runStore, logger)
		deps.Sink = components.RunWriter
		deps.History = runStore
		logger.Debug("Run history enabled.")
	} else {
		logger.Info("No database configured; run history is disabled.")
	}

	// 2. Browser manager. No process starts until the first request.
	components.BrowserManager = browser.NewManager(ctx, logger, cfg.Browser())
	deps.Sessions = components.BrowserManager

	// 3. Detection and bypass.
	components.Stats = stats.NewAggregator()
	det := detector.New(cfg.Detector())
	inter := interactor.New(logger, cfg.Interactor(), det.ChallengeDomain())
	deps.Detector = det
	deps.Runner = bypass.New(logger, det, inter, components.Stats)
	deps.Stats = components.Stats

	components.Service = New(cfg, logger, deps)
	logger.Info("All components initialized.",
		zap.Strings("strategies", inter.Strategies()),
		zap.Int("max_sessions", cfg.Browser().MaxSessions))
	return components, nil
}
