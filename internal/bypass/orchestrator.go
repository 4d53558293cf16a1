// File: internal/bypass/orchestrator.go
package bypass

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cfgate/internal/browser"
	"github.com/xkilldash9x/cfgate/internal/detector"
	"github.com/xkilldash9x/cfgate/internal/interactor"
	"github.com/xkilldash9x/cfgate/internal/stats"
)

// State is the terminal state of a run.
type State string

const (
	// StateDoneClean means no challenge was detected and nothing was attempted.
	StateDoneClean State = "DONE_CLEAN"
	// StateDoneSuccess means the success predicate held after an attempt.
	StateDoneSuccess State = "DONE_SUCCESS"
	// StateDoneFailedSoft means attempts or time ran out. It is an ordinary outcome.
	StateDoneFailedSoft State = "DONE_FAILED_SOFT"
)

// AttemptRecord describes one iteration of the attempt loop.
type AttemptRecord struct {
	Index                int    `json:"index"`
	TimestampMs          int64  `json:"timestampMs"`
	Strategy             string `json:"strategy,omitempty"`
	InteractionAttempted bool   `json:"interactionAttempted"`
	PredicateSatisfied   bool   `json:"predicateSatisfied"`
}

// Outcome is the result of one run, produced exactly once when the run terminates.
type Outcome struct {
	State     State           `json:"state"`
	Detected  bool            `json:"detected"`
	Indicator string          `json:"indicator,omitempty"`
	Success   bool            `json:"success"`
	Attempts  []AttemptRecord `json:"attempts"`
	ElapsedMs int64           `json:"elapsedMs"`
	// DetectionError carries a swallowed capture failure from the initial detection.
	DetectionError string `json:"detectionError,omitempty"`
}

// Interactor advances a challenge by one step.
type Interactor interface {
	Attempt(ctx context.Context, sess browser.Session) (interactor.Attempt, error)
}

// RunRecorder receives the verdict of every completed run.
type RunRecorder interface {
	RecordRun(detected bool, succeeded *bool)
}

// Orchestrator coordinates detection, interaction and the success predicate for one session at
// a time. It keeps no per-run state and is shared between concurrent runs.
type Orchestrator struct {
	logger     *zap.Logger
	detector   *detector.Detector
	interactor Interactor
	recorder   RunRecorder
}

// New builds an Orchestrator. recorder may be nil.
func New(logger *zap.Logger, det *detector.Detector, inter Interactor, recorder RunRecorder) *Orchestrator {
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		detector:   det,
		interactor: inter,
		recorder:   recorder,
	}
}

// run holds the mutable state of a single orchestration.
type run struct {
	cfg       RunConfig
	start     time.Time
	deadline  time.Time
	outcome   Outcome
	finalized bool
}

func (r *run) elapsedMs() int64 { return time.Since(r.start).Milliseconds() }

func (r *run) record(rec AttemptRecord) {
	rec.Index = len(r.outcome.Attempts)
	rec.TimestampMs = r.elapsedMs()
	if n := len(r.outcome.Attempts); n > 0 && rec.TimestampMs < r.outcome.Attempts[n-1].TimestampMs {
		rec.TimestampMs = r.outcome.Attempts[n-1].TimestampMs
	}
	r.outcome.Attempts = append(r.outcome.Attempts, rec)
}

// Run detects a challenge on the session's current page and, if one is present, tries to clear
// it within the budgets of cfg. Failing to clear it is reported through the Outcome; the only
// errors are an invalid cfg and a session that became unusable. timing may be nil.
func (o *Orchestrator) Run(ctx context.Context, sess browser.Session, cfg RunConfig, timing *stats.Timing) (Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("invalid run configuration: %w", err)
	}

	r := &run{cfg: cfg, start: time.Now()}
	r.deadline = r.start.Add(cfg.GlobalTimeout)
	r.outcome.Attempts = []AttemptRecord{}
	logger := o.logger.With(zap.String("session_id", sess.ID()))

	// DETECTING, inside the global budget.
	detectCtx, cancelDetect := context.WithDeadline(ctx, r.deadline)
	res, _, err := o.detector.Inspect(detectCtx, sess)
	cancelDetect()
	if err != nil {
		return o.abort(r, fmt.Errorf("detecting challenge: %w", err))
	}
	mark(timing, stats.CheckpointDetected)
	r.outcome.Detected = res.Detected
	r.outcome.Indicator = res.Indicator
	r.outcome.DetectionError = res.Error

	if !res.Detected {
		if res.Error != "" {
			logger.Debug("Detection failed; treating page as clean.", zap.String("error", res.Error))
		}
		return o.finalize(logger, r, StateDoneClean, timing), nil
	}
	logger.Info("Challenge detected.", zap.String("indicator", res.Indicator))

	predicate := NewSuccessPredicate(o.detector, cfg)
	check := func(ctx context.Context) (bool, error) {
		view, err := detector.Capture(ctx, sess)
		if err != nil {
			return false, err
		}
		return predicate.Satisfied(view), nil
	}

	for i := 0; i < cfg.MaxAttempts; i++ {
		if ctx.Err() != nil || !time.Now().Before(r.deadline) {
			break
		}

		// INTERACTING, bounded by the remaining global budget.
		attemptCtx, cancel := context.WithDeadline(ctx, r.deadline)
		att, err := o.interactor.Attempt(attemptCtx, sess)
		cancel()
		if err != nil {
			return o.abort(r, fmt.Errorf("attempt %d: %w", i, err))
		}

		// WAITING
		wait := min(cfg.PerAttemptTimeout, time.Until(r.deadline))
		if wait < 0 {
			wait = 0
		}
		// A final check may start at the deadline; it gets at most one poll interval.
		waitCtx, cancelWait := context.WithDeadline(ctx, r.deadline.Add(cfg.PollInterval))
		ok, err := sess.WaitForPredicate(waitCtx, check, wait, cfg.PollInterval)
		cancelWait()
		if err != nil {
			return o.abort(r, fmt.Errorf("waiting after attempt %d: %w", i, err))
		}

		r.record(AttemptRecord{
			Strategy:             att.Strategy,
			InteractionAttempted: att.Attempted,
			PredicateSatisfied:   ok,
		})
		logger.Debug("Attempt finished.",
			zap.Int("attempt", i),
			zap.String("strategy", att.Strategy),
			zap.Bool("interaction_attempted", att.Attempted),
			zap.Bool("cleared", ok))

		if ok {
			return o.finalize(logger, r, StateDoneSuccess, timing), nil
		}
	}

	return o.finalize(logger, r, StateDoneFailedSoft, timing), nil
}

// finalize closes the outcome and reports it to the recorder. It runs once per completed run.
func (o *Orchestrator) finalize(logger *zap.Logger, r *run, state State, timing *stats.Timing) Outcome {
	if r.finalized {
		return r.outcome
	}
	r.finalized = true

	r.outcome.State = state
	r.outcome.Success = state != StateDoneFailedSoft
	r.outcome.ElapsedMs = r.elapsedMs()

	if r.outcome.Detected {
		mark(timing, stats.CheckpointBypassed)
	}
	if o.recorder != nil {
		if r.outcome.Detected {
			o.recorder.RecordRun(true, stats.Bool(r.outcome.Success))
		} else {
			o.recorder.RecordRun(false, nil)
		}
	}

	logger.Info("Bypass run finished.",
		zap.String("state", string(state)),
		zap.Bool("detected", r.outcome.Detected),
		zap.Bool("success", r.outcome.Success),
		zap.Int("attempts", len(r.outcome.Attempts)),
		zap.Int64("elapsed_ms", r.outcome.ElapsedMs))
	return r.outcome
}

// abort ends a run whose session became unusable. The run is not counted.
func (o *Orchestrator) abort(r *run, err error) (Outcome, error) {
	r.outcome.ElapsedMs = r.elapsedMs()
	o.logger.Error("Bypass run aborted.", zap.Error(err), zap.Int64("elapsed_ms", r.outcome.ElapsedMs))
	return r.outcome, err
}

func mark(timing *stats.Timing, name string) {
	if timing != nil {
		_ = timing.Mark(name)
	}
}
