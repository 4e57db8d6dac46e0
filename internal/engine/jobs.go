// File: internal/engine/jobs.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
)

// Manager launches and tracks evolution jobs. It enforces the per-behavior
// lock: at most one run may touch a behavior at a time, and promotion is
// blocked while a run holds the lock.
type Manager struct {
	engine     *Engine
	store      schemas.BehaviorStore
	jobTimeout time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running map[string]*job
	wg      sync.WaitGroup
}

type job struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a job manager around an Engine.
func NewManager(engine *Engine, store schemas.BehaviorStore, jobTimeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		engine:     engine,
		store:      store,
		jobTimeout: jobTimeout,
		logger:     logger.Named("jobs"),
		running:    make(map[string]*job),
	}
}

// Holds reports whether an evolution run currently owns the behavior. The
// registry uses it as its promotion lock check.
func (m *Manager) Holds(behaviorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.running[behaviorID]
	return held
}

// Evolve runs a job synchronously under the behavior lock. A second caller
// for the same behavior fails fast instead of queueing.
func (m *Manager) Evolve(ctx context.Context, behaviorID string, opts EvolveOptions) (*schemas.EvolutionResult, error) {
	release, err := m.acquire(ctx, behaviorID)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, m.jobTimeout)
	defer cancel()
	return m.engine.Evolve(runCtx, behaviorID, opts)
}

// Launch starts a background job and returns immediately. The job's outcome
// lands in the run history.
func (m *Manager) Launch(ctx context.Context, behaviorID string, opts EvolveOptions) error {
	release, err := m.acquire(ctx, behaviorID)
	if err != nil {
		return err
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.jobTimeout)

	m.mu.Lock()
	j := m.running[behaviorID]
	j.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer release()
		defer close(j.done)

		result, err := m.engine.Evolve(jobCtx, behaviorID, opts)
		if err != nil {
			m.logger.Error("Background evolution failed",
				zap.String("behavior_id", behaviorID),
				zap.Error(err))
			return
		}
		m.logger.Info("Background evolution finished",
			zap.String("behavior_id", behaviorID),
			zap.Bool("improved", result.Improved),
			zap.Float64("best_fitness", result.BestFitness))
	}()
	return nil
}

// Cancel stops the running job for a behavior, if any. The engine keeps its
// best-so-far partial result.
func (m *Manager) Cancel(behaviorID string) error {
	m.mu.Lock()
	j, held := m.running[behaviorID]
	m.mu.Unlock()
	if !held {
		return fmt.Errorf("no running evolution for %q: %w", behaviorID, schemas.ErrNotFound)
	}
	if j.cancel != nil {
		j.cancel()
	}
	return nil
}

// Shutdown waits for all background jobs to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, j := range m.running {
		if j.cancel != nil {
			j.cancel()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) acquire(ctx context.Context, behaviorID string) (func(), error) {
	// Validate before taking the lock so a bogus ID never holds it.
	if _, err := m.store.Load(ctx, behaviorID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.running[behaviorID]; held {
		return nil, fmt.Errorf("behavior %q: %w", behaviorID, schemas.ErrEvolutionInProgress)
	}
	m.running[behaviorID] = &job{done: make(chan struct{})}
	return func() {
		m.mu.Lock()
		delete(m.running, behaviorID)
		m.mu.Unlock()
	}, nil
}

// Status returns the most recent run for the behavior, which is the live one
// while a job is executing (the engine checkpoints every generation).
func (m *Manager) Status(ctx context.Context, behaviorID string) (*schemas.EvolutionRun, error) {
	runs, err := m.store.ListRuns(ctx, behaviorID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no evolution runs for %q: %w", behaviorID, schemas.ErrNotFound)
	}
	return runs[0], nil
}

// History returns past runs, newest first.
func (m *Manager) History(ctx context.Context, behaviorID string, limit int) ([]*schemas.EvolutionRun, error) {
	return m.store.ListRuns(ctx, behaviorID, limit)
}

// CompareVersions diffs two persisted versions of a behavior and recommends
// one based on run fitness and ledger success rates.
func (m *Manager) CompareVersions(ctx context.Context, behaviorID, versionA, versionB string) (*schemas.VersionComparison, error) {
	a, err := m.store.LoadVersion(ctx, behaviorID, versionA)
	if err != nil {
		return nil, fmt.Errorf("loading version %s: %w", versionA, err)
	}
	b, err := m.store.LoadVersion(ctx, behaviorID, versionB)
	if err != nil {
		return nil, fmt.Errorf("loading version %s: %w", versionB, err)
	}

	cmpResult := &schemas.VersionComparison{
		Diff: promptDiff(joinInstructions(a), joinInstructions(b)),
	}

	runs, err := m.store.ListRuns(ctx, behaviorID, 0)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.ToVersion == versionA {
			cmpResult.FitnessA = run.BestFitness
		}
		if run.ToVersion == versionB {
			cmpResult.FitnessB = run.BestFitness
		}
	}

	cmpResult.SuccessRateA, err = m.versionSuccessRate(ctx, behaviorID, versionA)
	if err != nil {
		return nil, err
	}
	cmpResult.SuccessRateB, err = m.versionSuccessRate(ctx, behaviorID, versionB)
	if err != nil {
		return nil, err
	}

	scoreA := cmpResult.FitnessA + cmpResult.SuccessRateA
	scoreB := cmpResult.FitnessB + cmpResult.SuccessRateB
	switch {
	case scoreB > scoreA:
		cmpResult.RecommendedChoice = versionB
		cmpResult.Recommendation = fmt.Sprintf("version %s scores higher on fitness and observed success rate", versionB)
	case scoreA > scoreB:
		cmpResult.RecommendedChoice = versionA
		cmpResult.Recommendation = fmt.Sprintf("version %s scores higher on fitness and observed success rate", versionA)
	default:
		cmpResult.RecommendedChoice = versionB
		cmpResult.Recommendation = "versions score equally; preferring the newer one"
	}
	return cmpResult, nil
}

func (m *Manager) versionSuccessRate(ctx context.Context, behaviorID, version string) (float64, error) {
	recs, err := m.store.ListExecutions(ctx, schemas.ExecutionQuery{BehaviorID: behaviorID})
	if err != nil {
		return 0, err
	}
	var total, successes int
	for _, r := range recs {
		if r.BehaviorVersion != version {
			continue
		}
		total++
		if r.Success {
			successes++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(successes) / float64(total), nil
}

func joinInstructions(b *schemas.Behavior) string {
	parts := make([]string, 0, len(b.Actions))
	for _, a := range b.Actions {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", a.Name, a.Instruction))
	}
	return strings.Join(parts, "\n\n")
}
