// File: internal/tracker/trigger.go
package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/config"
)

// Trigger reason strings surfaced in run records and CLI output.
const (
	ReasonInsufficientVolume   = "insufficient_volume"
	ReasonSuccessRateBelow     = "success_rate_below_threshold"
	ReasonExecutionVolume      = "execution_volume_reached"
	ReasonIntervalElapsed      = "evolution_interval_elapsed"
	ReasonNegativeFeedback     = "negative_feedback_threshold"
	ReasonNotEvolvable         = "not_evolvable"
	ReasonNoConditionSatisfied = "no_condition_satisfied"
)

// Trigger decides whether a behavior is due for an evolution run. It is
// driven by a scheduler or an operator invocation, never by an in-process
// polling loop.
type Trigger struct {
	store   schemas.BehaviorStore
	tracker *Tracker
	cfg     config.TriggerConfig
	logger  *zap.Logger
}

// NewTrigger creates a Trigger sharing the tracker's ledger view.
func NewTrigger(store schemas.BehaviorStore, tr *Tracker, cfg config.TriggerConfig, logger *zap.Logger) *Trigger {
	return &Trigger{store: store, tracker: tr, cfg: cfg, logger: logger.Named("trigger")}
}

// ShouldEvolve reports whether the behavior is due for evolution and why.
// Conditions are checked in a fixed order and the first satisfied one names
// the reason. The volume veto runs before everything else: with fewer than
// the minimum executions since the last run, any measured success rate is
// noise and no other condition may fire.
func (t *Trigger) ShouldEvolve(ctx context.Context, behaviorID string) (bool, string, error) {
	b, err := t.store.Load(ctx, behaviorID)
	if err != nil {
		return false, "", err
	}
	if !b.Evolution.Evolvable {
		return false, ReasonNotEvolvable, nil
	}

	lastRun, err := t.lastCompletedRun(ctx, behaviorID)
	if err != nil {
		return false, "", err
	}

	since := b.CreatedAt
	if lastRun != nil {
		since = lastRun.FinishedAt
	}
	recs, err := t.store.ListExecutions(ctx, schemas.ExecutionQuery{BehaviorID: behaviorID, Since: since})
	if err != nil {
		return false, "", err
	}

	if len(recs) < t.cfg.MinExecutions {
		t.logger.Debug("Volume veto",
			zap.String("behavior_id", behaviorID),
			zap.Int("executions", len(recs)),
			zap.Int("minimum", t.cfg.MinExecutions))
		return false, ReasonInsufficientVolume, nil
	}

	rate, n, err := t.tracker.SuccessRate(ctx, behaviorID, t.cfg.SuccessRateWindow)
	if err != nil {
		return false, "", err
	}
	if n > 0 && rate < t.cfg.SuccessRateThreshold {
		return true, ReasonSuccessRateBelow, nil
	}

	if time.Since(since) >= time.Duration(t.cfg.MaxDaysSinceLastRun)*24*time.Hour {
		return true, ReasonIntervalElapsed, nil
	}

	negative := 0
	for _, r := range recs {
		if r.Feedback != nil && r.Feedback.Signal == schemas.FeedbackNegative {
			negative++
		}
	}
	if negative >= t.cfg.NegativeFeedbackMin {
		return true, ReasonNegativeFeedback, nil
	}

	// Past the veto the volume condition always holds, so it is checked
	// last as the routine catch-all reason. Any earlier and it would
	// shadow the more specific interval and feedback reasons.
	if len(recs) >= t.cfg.MinExecutions {
		return true, ReasonExecutionVolume, nil
	}

	return false, ReasonNoConditionSatisfied, nil
}

func (t *Trigger) lastCompletedRun(ctx context.Context, behaviorID string) (*schemas.EvolutionRun, error) {
	runs, err := t.store.ListRuns(ctx, behaviorID, 10)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.Status == schemas.RunCompleted {
			return run, nil
		}
	}
	return nil, nil
}
