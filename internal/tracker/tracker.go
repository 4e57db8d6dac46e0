// File: internal/tracker/tracker.go
//
// Package tracker owns the execution ledger read/write path and the
// scheduled evolution trigger. Every learning signal the engine consumes
// (success rates, failure patterns, feedback counts) derives from the
// append-only ledger kept in the behavior store.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatsSink receives per-execution rollup updates. The registry satisfies
// this so the behavior's denormalized counters stay in step with the ledger.
type StatsSink interface {
	UpdateStats(ctx context.Context, behaviorID string, success bool, latency time.Duration) error
}

// Tracker records executions and answers aggregate questions about them.
type Tracker struct {
	store  schemas.BehaviorStore
	sink   StatsSink
	logger *zap.Logger
}

// New creates a Tracker. sink may be nil when no rollup is wanted.
func New(store schemas.BehaviorStore, sink StatsSink, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, sink: sink, logger: logger.Named("tracker")}
}

// Record appends one execution to the ledger. The store guarantees
// idempotency by ExecutionID, so at-least-once callers are safe. The rollup
// update is best-effort; a sink failure never loses the ledger entry.
func (t *Tracker) Record(ctx context.Context, rec *schemas.ExecutionRecord) error {
	if rec.ExecutionID == "" {
		return &schemas.ValidationError{Field: "execution_id", Reason: "must not be empty"}
	}
	if rec.BehaviorID == "" {
		return &schemas.ValidationError{Field: "behavior_id", Reason: "must not be empty"}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if err := t.store.RecordExecution(ctx, rec); err != nil {
		return fmt.Errorf("recording execution %q: %w", rec.ExecutionID, err)
	}

	if t.sink != nil {
		if err := t.sink.UpdateStats(ctx, rec.BehaviorID, rec.Success, rec.Latency); err != nil {
			t.logger.Warn("Stats rollup failed after ledger write",
				zap.String("behavior_id", rec.BehaviorID),
				zap.Error(err))
		}
	}
	return nil
}

// SuccessRate computes the fraction of successful executions within the
// trailing window. A behavior with no executions in the window reports 0
// alongside a zero count so callers can distinguish "no data" from "failing".
func (t *Tracker) SuccessRate(ctx context.Context, behaviorID string, window time.Duration) (rate float64, count int, err error) {
	recs, err := t.store.ListExecutions(ctx, schemas.ExecutionQuery{
		BehaviorID: behaviorID,
		Since:      time.Now().UTC().Add(-window),
	})
	if err != nil {
		return 0, 0, err
	}
	if len(recs) == 0 {
		return 0, 0, nil
	}
	successes := 0
	for _, r := range recs {
		if r.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(recs)), len(recs), nil
}

// maxPatternExamples caps how many raw inputs each cluster carries.
const maxPatternExamples = 3

// FailurePatterns clusters the behavior's failing executions by outcome and
// shared input shape, most frequent first. Clusters seed new test cases so
// the next evolution run trains against the observed failure modes.
func (t *Tracker) FailurePatterns(ctx context.Context, behaviorID string) ([]schemas.FailurePattern, error) {
	recs, err := t.store.ListExecutions(ctx, schemas.ExecutionQuery{BehaviorID: behaviorID})
	if err != nil {
		return nil, err
	}

	type cluster struct {
		pattern schemas.FailurePattern
	}
	clusters := make(map[string]*cluster)
	var order []string

	for _, r := range recs {
		if r.Success {
			continue
		}
		feature := inputFeature(r)
		key := string(r.Outcome) + "|" + feature
		c, ok := clusters[key]
		if !ok {
			c = &cluster{pattern: schemas.FailurePattern{Outcome: r.Outcome, Feature: feature}}
			clusters[key] = c
			order = append(order, key)
		}
		c.pattern.Count++
		if len(c.pattern.ExampleInputs) < maxPatternExamples && len(r.Input) > 0 {
			c.pattern.ExampleInputs = append(c.pattern.ExampleInputs, r.Input)
		}
	}

	out := make([]schemas.FailurePattern, 0, len(clusters))
	for _, key := range order {
		out = append(out, clusters[key].pattern)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

// SeedCases turns the behavior's failure patterns into open-ended test
// cases, one per example input, so an evolution run trains against the
// failure modes seen in production. Cases carry no Expected output; the LM
// judge scores them. limit caps the total number of seeded cases.
func (t *Tracker) SeedCases(ctx context.Context, behaviorID string, limit int) ([]schemas.TestCase, error) {
	patterns, err := t.FailurePatterns(ctx, behaviorID)
	if err != nil {
		return nil, err
	}

	var cases []schemas.TestCase
	for _, p := range patterns {
		for i, input := range p.ExampleInputs {
			if limit > 0 && len(cases) >= limit {
				return cases, nil
			}
			cases = append(cases, schemas.TestCase{
				ID:       fmt.Sprintf("seeded-%s-%d", p.Feature, i),
				Scenario: "failure:" + string(p.Outcome),
				Input:    input,
			})
		}
	}
	if len(cases) > 0 {
		t.logger.Info("Seeded test cases from production failure patterns",
			zap.String("behavior_id", behaviorID),
			zap.Int("cases", len(cases)))
	}
	return cases, nil
}

// inputFeature derives a cluster key from an execution: the action name plus
// the sorted top-level keys of the input object. Non-object inputs collapse
// onto the action name alone.
func inputFeature(r *schemas.ExecutionRecord) string {
	var obj map[string]jsoniter.RawMessage
	if err := json.Unmarshal(r.Input, &obj); err != nil || len(obj) == 0 {
		return r.ActionName
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return r.ActionName + ":" + strings.Join(keys, ",")
}
