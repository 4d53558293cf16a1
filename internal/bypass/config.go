// File: internal/bypass/config.go
package bypass

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/cfgate/internal/config"
)

// RunConfig holds the budgets and success heuristics of one run. It is copied into the run and
// never changes while the run is in progress.
//
// The three time scopes combine as follows: the run never extends past GlobalTimeout, each wait
// for the success predicate lasts min(PerAttemptTimeout, remaining global budget), and the
// predicate is re-evaluated every PollInterval within that wait.
type RunConfig struct {
	GlobalTimeout     time.Duration
	MaxAttempts       int
	PollInterval      time.Duration
	PerAttemptTimeout time.Duration

	// MinContentLength is the markup length a cleared page must exceed.
	MinContentLength int
	// StrictPredicate additionally requires a recognizable content marker.
	StrictPredicate bool
	ContentMarkers  []string
}

// RunConfigFrom derives a RunConfig from the bypass section of the configuration.
func RunConfigFrom(cfg config.BypassConfig) RunConfig {
	return RunConfig{
		GlobalTimeout:     cfg.Timeout,
		MaxAttempts:       cfg.MaxAttempts,
		PollInterval:      cfg.PollInterval,
		PerAttemptTimeout: cfg.PerAttemptTimeout,
		MinContentLength:  cfg.MinContentLength,
		StrictPredicate:   cfg.StrictPredicate,
		ContentMarkers:    append([]string(nil), cfg.ContentMarkers...),
	}
}

// Validate rejects budgets that would make the loop meaningless.
func (c RunConfig) Validate() error {
	if c.GlobalTimeout <= 0 {
		return fmt.Errorf("global timeout must be positive, got %s", c.GlobalTimeout)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.PerAttemptTimeout <= 0 {
		return fmt.Errorf("per-attempt timeout must be positive, got %s", c.PerAttemptTimeout)
	}
	if c.MinContentLength < 0 {
		return fmt.Errorf("minimum content length must not be negative, got %d", c.MinContentLength)
	}
	return nil
}
