// File: internal/registry/registry.go
//
// Package registry manages the behavior catalog: registration, lookup,
// trigger matching, stat rollups, and the lifecycle promotion state machine.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
)

// TestGate reports whether a behavior currently passes its test suite. The
// caller supplies it because test execution (and its LLM collaborators) lives
// outside the registry.
type TestGate func(ctx context.Context, b *schemas.Behavior) (bool, error)

// LockChecker reports whether an evolution run currently holds the behavior.
// Promotion while a run is rewriting the instruction text would race the
// engine's final compare-and-swap.
type LockChecker func(behaviorID string) bool

// Registry fronts the behavior store with validation, trigger matching and
// lifecycle enforcement.
type Registry struct {
	store     schemas.BehaviorStore
	logger    *zap.Logger
	minSoak   time.Duration
	testGate  TestGate
	lockCheck LockChecker
}

// Options configures optional registry collaborators.
type Options struct {
	// MinSoak is the minimum time a behavior must spend in STAGING before it
	// may be promoted to ACTIVE.
	MinSoak time.Duration
	// TestGate guards the TESTING -> STAGING edge. Nil means no gate.
	TestGate TestGate
	// LockChecker guards promotion against concurrent evolution runs. Nil
	// means no check.
	LockChecker LockChecker
}

// New creates a Registry backed by the given store.
func New(store schemas.BehaviorStore, opts Options, logger *zap.Logger) *Registry {
	return &Registry{
		store:     store,
		logger:    logger.Named("registry"),
		minSoak:   opts.MinSoak,
		testGate:  opts.TestGate,
		lockCheck: opts.LockChecker,
	}
}

// Register validates and persists a new behavior. New behaviors always enter
// the catalog as DRAFT version 1.0.0 unless the definition already carries a
// version (imports of existing catalogs keep their lineage).
func (r *Registry) Register(ctx context.Context, b *schemas.Behavior) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	if b.Lifecycle == "" {
		b.Lifecycle = schemas.LifecycleDraft
	}
	if b.Version == "" {
		b.Version = "1.0.0"
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.LifecycleChangedAt.IsZero() {
		b.LifecycleChangedAt = now
	}

	id, err := r.store.Save(ctx, b)
	if err != nil {
		return "", fmt.Errorf("registering behavior %q: %w", b.ID, err)
	}
	r.logger.Info("Behavior registered",
		zap.String("behavior_id", id),
		zap.String("tier", string(b.Tier)),
		zap.String("version", b.Version))
	return id, nil
}

// Get returns the current version of a behavior.
func (r *Registry) Get(ctx context.Context, id string) (*schemas.Behavior, error) {
	return r.store.Load(ctx, id)
}

// List returns behaviors matching the filter.
func (r *Registry) List(ctx context.Context, filter schemas.BehaviorFilter) ([]*schemas.Behavior, error) {
	return r.store.Search(ctx, "", filter)
}

// Search returns behaviors ranked by relevance to the query.
func (r *Registry) Search(ctx context.Context, query string, filter schemas.BehaviorFilter) ([]*schemas.Behavior, error) {
	return r.store.Search(ctx, query, filter)
}

// FindByTrigger returns ACTIVE behaviors with a trigger of the given kind
// matching text, ordered by trigger priority (highest first).
func (r *Registry) FindByTrigger(ctx context.Context, kind schemas.TriggerKind, text string) ([]*schemas.Behavior, error) {
	candidates, err := r.store.Search(ctx, "", schemas.BehaviorFilter{Lifecycle: schemas.LifecycleActive})
	if err != nil {
		return nil, err
	}

	type scored struct {
		b        *schemas.Behavior
		priority int
	}
	var matched []scored
	for _, b := range candidates {
		for _, t := range b.Triggers {
			if t.Kind != kind {
				continue
			}
			ok, err := triggerMatches(t, text)
			if err != nil {
				r.logger.Warn("Skipping unmatchable trigger pattern",
					zap.String("behavior_id", b.ID),
					zap.String("pattern", t.Pattern),
					zap.Error(err))
				continue
			}
			if ok {
				matched = append(matched, scored{b: b, priority: t.Priority})
				break
			}
		}
	}

	// Insertion sort by priority descending. Catalogs are small.
	for i := 1; i < len(matched); i++ {
		for j := i; j > 0 && matched[j].priority > matched[j-1].priority; j-- {
			matched[j], matched[j-1] = matched[j-1], matched[j]
		}
	}

	out := make([]*schemas.Behavior, len(matched))
	for i, m := range matched {
		out[i] = m.b
	}
	return out, nil
}

func triggerMatches(t schemas.Trigger, text string) (bool, error) {
	switch t.Kind {
	case schemas.TriggerFilePattern:
		return filepath.Match(t.Pattern, filepath.Base(text))
	case schemas.TriggerCommand, schemas.TriggerEvent:
		return strings.EqualFold(t.Pattern, text), nil
	case schemas.TriggerQuery:
		re, err := regexp.Compile("(?i)" + t.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	default:
		return false, nil
	}
}

// UpdateStats folds one execution into the behavior's denormalized rollup.
// Mean latency uses a running average over the total execution count.
func (r *Registry) UpdateStats(ctx context.Context, id string, success bool, latency time.Duration) error {
	b, err := r.store.Load(ctx, id)
	if err != nil {
		return err
	}

	prevTotal := b.Stats.TotalExecutions()
	if success {
		b.Stats.SuccessCount++
	} else {
		b.Stats.FailureCount++
	}
	total := prevTotal + 1
	b.Stats.MeanLatency = time.Duration((int64(b.Stats.MeanLatency)*prevTotal + int64(latency)) / total)
	b.UpdatedAt = time.Now().UTC()

	if _, err := r.store.Save(ctx, b); err != nil {
		return fmt.Errorf("updating stats for %q: %w", id, err)
	}
	return nil
}

// Promote moves a behavior along the lifecycle DAG. Edges are enforced, the
// TESTING -> STAGING edge additionally requires the test gate, and
// STAGING -> ACTIVE requires the minimum soak duration.
func (r *Registry) Promote(ctx context.Context, id string, target schemas.Lifecycle) error {
	if r.lockCheck != nil && r.lockCheck(id) {
		return fmt.Errorf("promote %q: %w", id, schemas.ErrEvolutionInProgress)
	}

	b, err := r.store.Load(ctx, id)
	if err != nil {
		return err
	}

	if !TransitionAllowed(b.Lifecycle, target) {
		return &schemas.InvalidTransitionError{BehaviorID: id, From: b.Lifecycle, To: target}
	}

	switch target {
	case schemas.LifecycleStaging:
		if r.testGate != nil {
			passed, err := r.testGate(ctx, b)
			if err != nil {
				return fmt.Errorf("test gate for %q: %w", id, err)
			}
			if !passed {
				return &schemas.PromotionError{
					BehaviorID: id,
					Target:     target,
					Condition:  "test gate not passing",
				}
			}
		}
	case schemas.LifecycleActive:
		// Soak measures time since the behavior ENTERED staging, not since
		// its last write; production traffic updating stats must not restart
		// the clock. Behaviors predating the field fall back to UpdatedAt.
		enteredStaging := b.LifecycleChangedAt
		if enteredStaging.IsZero() {
			enteredStaging = b.UpdatedAt
		}
		if soaked := time.Since(enteredStaging); soaked < r.minSoak {
			return &schemas.PromotionError{
				BehaviorID: id,
				Target:     target,
				Condition:  fmt.Sprintf("staging soak %s below minimum %s", soaked.Round(time.Minute), r.minSoak),
			}
		}
	}

	from := b.Lifecycle
	b.Lifecycle = target
	now := time.Now().UTC()
	b.UpdatedAt = now
	b.LifecycleChangedAt = now
	if _, err := r.store.Save(ctx, b); err != nil {
		return fmt.Errorf("promoting %q: %w", id, err)
	}

	r.logger.Info("Behavior promoted",
		zap.String("behavior_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(target)))
	return nil
}
