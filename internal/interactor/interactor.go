// File: internal/interactor/interactor.go
package interactor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/config"
)

// Attempt reports what one invocation of the interactor did.
type Attempt struct {
	Strategy  string `json:"strategy,omitempty"`
	Attempted bool   `json:"attempted"`
}

// Strategy is one way of advancing past a challenge widget. Try reports whether it acted on the
// page. Errors other than browser.ErrSessionUnusable mean "did not act" and are not propagated.
type Strategy interface {
	Name() string
	Try(ctx context.Context, sess browser.Session) (bool, error)
}

// Interactor runs its strategies in order until one acts.
type Interactor struct {
	logger      *zap.Logger
	strategies  []Strategy
	stepTimeout time.Duration
	settleDelay time.Duration
}

// New builds an Interactor from configuration. challengeDomain identifies challenge frames.
func New(logger *zap.Logger, cfg config.InteractorConfig, challengeDomain string) *Interactor {
	logger = logger.Named("interactor")
	return &Interactor{
		logger:      logger,
		strategies:  buildStrategies(logger, cfg, challengeDomain),
		stepTimeout: cfg.StepTimeout,
		settleDelay: cfg.SettleDelay,
	}
}

// NewWithStrategies builds an Interactor around an explicit strategy list.
func NewWithStrategies(logger *zap.Logger, stepTimeout, settleDelay time.Duration, strategies ...Strategy) *Interactor {
	return &Interactor{
		logger:      logger.Named("interactor"),
		strategies:  strategies,
		stepTimeout: stepTimeout,
		settleDelay: settleDelay,
	}
}

// Strategies returns the names of the configured strategies in the order they are tried.
func (i *Interactor) Strategies() []string {
	names := make([]string, len(i.strategies))
	for n, s := range i.strategies {
		names[n] = s.Name()
	}
	return names
}

// Attempt tries each strategy under its own step timeout and stops at the first one that acts,
// then lets the page settle. Not clearing the challenge is never an error; only an unusable
// session is returned.
func (i *Interactor) Attempt(ctx context.Context, sess browser.Session) (Attempt, error) {
	for _, s := range i.strategies {
		if ctx.Err() != nil {
			break
		}

		acted, err := i.try(ctx, s, sess)
		if err != nil {
			if browser.IsFatal(err) {
				return Attempt{Strategy: s.Name()}, err
			}
			i.logger.Debug("Strategy failed.", zap.String("strategy", s.Name()), zap.Error(err))
			continue
		}
		if !acted {
			continue
		}

		i.logger.Debug("Strategy acted on the page.", zap.String("strategy", s.Name()))
		i.settle(ctx)
		return Attempt{Strategy: s.Name(), Attempted: true}, nil
	}
	return Attempt{}, nil
}

func (i *Interactor) try(ctx context.Context, s Strategy, sess browser.Session) (bool, error) {
	if i.stepTimeout <= 0 {
		return s.Try(ctx, sess)
	}
	stepCtx, cancel := context.WithTimeout(ctx, i.stepTimeout)
	defer cancel()
	return s.Try(stepCtx, sess)
}

// settle waits for the effects of an interaction, returning early if ctx ends.
func (i *Interactor) settle(ctx context.Context) {
	if i.settleDelay <= 0 {
		return
	}
	timer := time.NewTimer(i.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
