// File: internal/engine/engine.go
//
// Package engine runs the genetic evolution loop over a behavior's action
// instruction and manages evolution jobs. One run: seed a population from
// the production prompt, score candidates on the training split, gate elites
// on the holdout split, breed the next generation, and promote the winner as
// a new behavior version with a single compare-and-swap write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/config"
	"github.com/draagonlabs/evoforge/internal/fitness"
	"github.com/draagonlabs/evoforge/internal/mutation"
	"github.com/draagonlabs/evoforge/internal/overfit"
)

// Engine executes evolution runs.
type Engine struct {
	cfg       config.EvolutionConfig
	store     schemas.BehaviorStore
	mutator   *mutation.Mutator
	evaluator *fitness.Evaluator
	detector  *overfit.Detector
	logger    *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an Engine. The seed drives tournament selection; tests pass a
// fixed seed for reproducible runs.
func New(cfg config.EvolutionConfig, store schemas.BehaviorStore, mutator *mutation.Mutator, evaluator *fitness.Evaluator, detector *overfit.Detector, seed int64, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		mutator:   mutator,
		evaluator: evaluator,
		detector:  detector,
		logger:    logger.Named("engine"),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// EvolveOptions parameterizes one run.
type EvolveOptions struct {
	// ActionName selects which action's instruction to evolve. Empty means
	// the behavior's first action.
	ActionName string
	// Reason records why the run was triggered.
	Reason string
	// Cases is the full test case set; the engine splits it into train and
	// holdout partitions.
	Cases []schemas.TestCase
}

// candidate pairs a prompt variant with its training fitness.
type candidate struct {
	schemas.PromptCandidate
	holdout float64
	scored  bool
}

// Evolve runs the loop to completion, cancellation, or failure. The behavior
// is written at most once: the compare-and-swap promotion of the winning
// prompt as a new version. Run records are checkpointed at every generation
// boundary.
func (e *Engine) Evolve(ctx context.Context, behaviorID string, opts EvolveOptions) (*schemas.EvolutionResult, error) {
	b, err := e.store.Load(ctx, behaviorID)
	if err != nil {
		return nil, err
	}
	if !b.Evolution.Evolvable {
		return nil, fmt.Errorf("behavior %q: %w", behaviorID, schemas.ErrNotEvolvable)
	}

	actionName := opts.ActionName
	if actionName == "" {
		actionName = b.Actions[0].Name
	}
	action, err := b.ActionByName(actionName)
	if err != nil {
		return nil, err
	}
	if len(opts.Cases) < 2 {
		return nil, errors.New("evolution requires at least two test cases for a train/holdout split")
	}

	train, holdout := e.detector.Split(opts.Cases, e.cfg.TrainRatio)
	if len(holdout) == 0 {
		return nil, errors.New("holdout split is empty; add cases or more scenarios")
	}

	run := &schemas.EvolutionRun{
		RunID:       uuid.New().String(),
		BehaviorID:  behaviorID,
		ActionName:  actionName,
		FromVersion: b.Version,
		Status:      schemas.RunRunning,
		Reason:      opts.Reason,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}

	e.logger.Info("Evolution run started",
		zap.String("run_id", run.RunID),
		zap.String("behavior_id", behaviorID),
		zap.String("action", actionName),
		zap.String("reason", opts.Reason),
		zap.Int("train_cases", len(train)),
		zap.Int("holdout_cases", len(holdout)))

	preference := e.preferenceScore(ctx, behaviorID)

	result, runErr := e.runLoop(ctx, b, *action, train, holdout, preference, run)

	run.FinishedAt = time.Now().UTC()
	switch {
	case runErr != nil && ctx.Err() != nil:
		run.Status = schemas.RunCancelled
	case runErr != nil:
		run.Status = schemas.RunFailed
	default:
		run.Status = schemas.RunCompleted
	}
	if result != nil {
		run.Improved = result.Improved
		run.BestFitness = result.BestFitness
		run.Holdout = result.HoldoutFitness
		run.PromptDiff = result.PromptDiff
	}
	// Persist the final record on a fresh context so cancellation does not
	// lose the run outcome.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.SaveRun(saveCtx, run); err != nil {
		e.logger.Error("Failed to persist final run record",
			zap.String("run_id", run.RunID),
			zap.Error(err))
	}

	if runErr != nil && ctx.Err() != nil && result != nil {
		// Cooperative cancellation keeps the best partial result.
		return result, nil
	}
	return result, runErr
}

// preferenceScore derives the user_preference fitness term from explicit
// human feedback in the behavior's execution ledger: the fraction of
// positive signals among all signals. Returns -1 when the ledger carries no
// feedback, which the evaluator maps to its neutral default.
func (e *Engine) preferenceScore(ctx context.Context, behaviorID string) float64 {
	recs, err := e.store.ListExecutions(ctx, schemas.ExecutionQuery{BehaviorID: behaviorID})
	if err != nil {
		e.logger.Warn("Could not read feedback from the execution ledger, using neutral preference",
			zap.String("behavior_id", behaviorID),
			zap.Error(err))
		return -1
	}
	positive, total := 0, 0
	for _, r := range recs {
		if r.Feedback == nil {
			continue
		}
		total++
		if r.Feedback.Signal == schemas.FeedbackPositive {
			positive++
		}
	}
	if total == 0 {
		return -1
	}
	score := float64(positive) / float64(total)
	e.logger.Debug("Derived preference score from ledger feedback",
		zap.String("behavior_id", behaviorID),
		zap.Int("signals", total),
		zap.Float64("preference", score))
	return score
}

func (e *Engine) runLoop(ctx context.Context, b *schemas.Behavior, action schemas.Action, train, holdout []schemas.TestCase, preference float64, run *schemas.EvolutionRun) (*schemas.EvolutionResult, error) {
	// Production is candidate zero; its train fitness is the bar every
	// challenger must clear.
	prod := candidate{PromptCandidate: schemas.PromptCandidate{
		ID:     uuid.New().String(),
		Prompt: action.Instruction,
	}}
	prodFit, err := e.evaluator.Evaluate(ctx, prod.Prompt, action, train, preference)
	if err != nil {
		return nil, fmt.Errorf("evaluating production prompt: %w", err)
	}
	prod.Fitness = prodFit.Composite
	prod.scored = true

	population := []candidate{prod}
	for i := 1; i < e.cfg.PopulationSize; i++ {
		mutant, err := e.spawnMutant(ctx, prod, action, b.Constraints, 0)
		if err != nil {
			if ctx.Err() != nil {
				return e.partialResult(prod, prod), ctx.Err()
			}
			e.logger.Warn("Seed mutant generation failed", zap.Error(err))
			continue
		}
		population = append(population, mutant)
	}
	if len(population) < 2 {
		// Persistent collaborator outage before any challenger existed.
		// Production is the best-so-far candidate; the run ends without it.
		e.logger.Error("Could not seed an initial population, ending run with production unchanged")
		return e.partialResult(prod, prod), nil
	}

	best := prod
	bestHoldout := 0.0
	stale := 0

	for gen := 1; gen <= e.cfg.MaxGenerations; gen++ {
		genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
		report, err := e.runGeneration(genCtx, gen, &population, action, train, holdout, preference, &best, &bestHoldout, &stale)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return e.partialResult(prod, best), ctx.Err()
			}
			// A persistent outage ends the loop but not the job: the best
			// candidate found so far still goes through promotion.
			e.logger.Error("Generation aborted, ending run with best so far",
				zap.Int("generation", gen),
				zap.Error(err))
			break
		}

		run.Generations = append(run.Generations, *report)
		if err := e.store.SaveRun(ctx, run); err != nil {
			e.logger.Warn("Generation checkpoint write failed",
				zap.String("run_id", run.RunID),
				zap.Int("generation", gen),
				zap.Error(err))
		}
		e.detector.ObserveHoldout(run.Generations)

		if best.Fitness >= e.cfg.TargetFitness {
			e.logger.Info("Target fitness reached",
				zap.Int("generation", gen),
				zap.Float64("fitness", best.Fitness))
			break
		}
		if stale >= e.cfg.EarlyStopGenerations {
			e.logger.Info("Stopping early, holdout fitness stalled",
				zap.Int("generation", gen),
				zap.Int("stale_generations", stale))
			break
		}
		if gen == e.cfg.MaxGenerations {
			break
		}

		next, err := e.breed(ctx, population, action, b.Constraints, gen)
		if err != nil {
			if ctx.Err() != nil {
				return e.partialResult(prod, best), ctx.Err()
			}
			e.logger.Error("Breeding aborted, ending run with best so far",
				zap.Int("generation", gen),
				zap.Error(err))
			break
		}
		population = next
	}

	return e.promote(ctx, b, action, prod, best, bestHoldout, run)
}

// runGeneration scores the population on the training split, gates elites on
// the holdout split, and updates the running best.
func (e *Engine) runGeneration(ctx context.Context, gen int, population *[]candidate, action schemas.Action, train, holdout []schemas.TestCase, preference float64, best *candidate, bestHoldout *float64, stale *int) (*schemas.GenerationReport, error) {
	pop := *population

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EvalConcurrency)
	for i := range pop {
		if pop[i].scored {
			continue
		}
		i := i
		g.Go(func() error {
			fit, err := e.evaluator.Evaluate(gctx, pop[i].Prompt, action, train, preference)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// One broken candidate must not sink the generation.
				e.logger.Warn("Candidate evaluation failed, scoring zero",
					zap.String("candidate_id", pop[i].ID),
					zap.Error(err))
				pop[i].Fitness = 0
				pop[i].scored = true
				return nil
			}
			pop[i].Fitness = fit.Composite
			pop[i].scored = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(pop, func(i, j int) bool { return pop[i].Fitness > pop[j].Fitness })

	// Holdout-gate the elites. An overfit elite is dropped and the next
	// candidate takes its place, so selection pressure stays honest.
	report := &schemas.GenerationReport{Generation: gen, Evaluated: len(pop)}
	elites := make([]candidate, 0, e.cfg.EliteCount)
	for i := 0; i < len(pop) && len(elites) < e.cfg.EliteCount; i++ {
		c := pop[i]
		holdoutFit, err := e.evaluator.Evaluate(ctx, c.Prompt, action, holdout, preference)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("Holdout evaluation failed, skipping elite",
				zap.String("candidate_id", c.ID),
				zap.Error(err))
			continue
		}
		c.holdout = holdoutFit.Composite

		verdict, checkErr := e.detector.Check(c.ID, c.Fitness, c.holdout)
		if verdict == overfit.VerdictReject {
			report.Rejected++
			e.logger.Info("Elite rejected as overfit",
				zap.Int("generation", gen),
				zap.Error(checkErr))
			continue
		}
		elites = append(elites, c)
	}
	if len(elites) == 0 {
		// Every top candidate overfit this generation.
		*stale++
		report.BestFitness = best.Fitness
		report.HoldoutFitness = *bestHoldout
		*population = pop
		return report, nil
	}

	top := elites[0]
	if top.Fitness > best.Fitness {
		*best = top
	}
	if top.holdout > *bestHoldout {
		*bestHoldout = top.holdout
		*stale = 0
	} else {
		*stale++
	}

	report.BestFitness = top.Fitness
	report.HoldoutFitness = top.holdout

	// Reorder so elites occupy the head of the population; breed carries
	// them into the next generation unchanged.
	reordered := make([]candidate, 0, len(pop))
	seen := make(map[string]bool, len(elites))
	for _, c := range elites {
		reordered = append(reordered, c)
		seen[c.ID] = true
	}
	for _, c := range pop {
		if !seen[c.ID] {
			reordered = append(reordered, c)
		}
	}
	*population = reordered

	e.logger.Info("Generation complete",
		zap.Int("generation", gen),
		zap.Float64("best_train", report.BestFitness),
		zap.Float64("best_holdout", report.HoldoutFitness),
		zap.Int("rejected_overfit", report.Rejected))
	return report, nil
}

// breed builds the next generation: elites carried unchanged, the remainder
// bred from tournament-selected parents through crossover and mutation.
func (e *Engine) breed(ctx context.Context, pop []candidate, action schemas.Action, constraints schemas.BehaviorConstraints, gen int) ([]candidate, error) {
	next := make([]candidate, 0, e.cfg.PopulationSize)
	for i := 0; i < e.cfg.EliteCount && i < len(pop); i++ {
		next = append(next, pop[i])
	}

	for len(next) < e.cfg.PopulationSize {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		child, err := e.spawnOffspring(ctx, pop, action, constraints, gen)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("Offspring generation failed, substituting elite mutant", zap.Error(err))
			mutant, merr := e.spawnMutant(ctx, pop[0], action, constraints, gen)
			if merr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.logger.Warn("Elite mutant substitution also failed", zap.Error(merr))
				break
			}
			child = mutant
		}
		next = append(next, child)
	}
	if len(next) < 2 {
		return nil, errors.New("population collapsed, cannot continue breeding")
	}
	return next, nil
}

func (e *Engine) spawnOffspring(ctx context.Context, pop []candidate, action schemas.Action, constraints schemas.BehaviorConstraints, gen int) (candidate, error) {
	doCrossover, doMutate := e.mutator.PlanOffspring()

	parentA := e.tournament(pop)
	prompt := parentA.Prompt
	parents := []string{parentA.ID}
	var mutations []string

	if doCrossover {
		parentB := e.tournament(pop)
		if parentB.ID == parentA.ID {
			parentB = e.tournament(pop)
		}
		if parentB.ID != parentA.ID {
			merged, err := e.mutator.Crossover(ctx, parentA.Prompt, parentB.Prompt, action, constraints)
			if err != nil {
				return candidate{}, err
			}
			prompt = merged
			parents = append(parents, parentB.ID)
			mutations = append(mutations, "crossover")
		}
	}

	if doMutate {
		strategy := e.mutator.PickStrategy()
		mutated, desc, err := e.mutator.Mutate(ctx, prompt, action, constraints, strategy)
		if err != nil {
			return candidate{}, err
		}
		prompt = mutated
		mutations = append(mutations, desc)
	}

	return candidate{PromptCandidate: schemas.PromptCandidate{
		ID:         uuid.New().String(),
		Prompt:     prompt,
		Generation: gen + 1,
		ParentIDs:  parents,
		Mutations:  mutations,
	}}, nil
}

func (e *Engine) spawnMutant(ctx context.Context, parent candidate, action schemas.Action, constraints schemas.BehaviorConstraints, gen int) (candidate, error) {
	strategy := e.mutator.PickStrategy()
	prompt, desc, err := e.mutator.Mutate(ctx, parent.Prompt, action, constraints, strategy)
	if err != nil {
		return candidate{}, err
	}
	return candidate{PromptCandidate: schemas.PromptCandidate{
		ID:         uuid.New().String(),
		Prompt:     prompt,
		Generation: gen + 1,
		ParentIDs:  []string{parent.ID},
		Mutations:  []string{desc},
	}}, nil
}

// tournament picks the fittest of a random sample. Selection only ever sees
// training fitness; holdout scores gate elites but never drive breeding.
func (e *Engine) tournament(pop []candidate) candidate {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()

	best := pop[e.rng.Intn(len(pop))]
	for i := 1; i < e.cfg.TournamentSize; i++ {
		challenger := pop[e.rng.Intn(len(pop))]
		if challenger.Fitness > best.Fitness {
			best = challenger
		}
	}
	return best
}

// promote writes the winning prompt as a new behavior version, or reports
// Improved=false with production untouched.
func (e *Engine) promote(ctx context.Context, b *schemas.Behavior, action schemas.Action, prod, best candidate, bestHoldout float64, run *schemas.EvolutionRun) (*schemas.EvolutionResult, error) {
	result := &schemas.EvolutionResult{
		BestFitness:    best.Fitness,
		HoldoutFitness: bestHoldout,
		GenerationsRun: len(run.Generations),
	}

	if best.ID == prod.ID || best.Fitness <= prod.Fitness || best.Fitness < b.Evolution.MinFitness {
		e.logger.Info("No candidate beat production, behavior unchanged",
			zap.String("behavior_id", b.ID),
			zap.Float64("production_fitness", prod.Fitness),
			zap.Float64("best_fitness", best.Fitness))
		result.Improved = false
		return result, nil
	}

	next := *b
	next.Actions = make([]schemas.Action, len(b.Actions))
	copy(next.Actions, b.Actions)
	for i := range next.Actions {
		if next.Actions[i].Name == action.Name {
			next.Actions[i].Instruction = best.Prompt
		}
	}
	next.Version = nextVersion(b.Version)
	next.Generation = b.Generation + 1
	next.UpdatedAt = time.Now().UTC()

	if err := e.store.CompareAndSwapVersion(ctx, &next, b.Version); err != nil {
		return nil, fmt.Errorf("promoting version %s: %w", next.Version, err)
	}

	run.ToVersion = next.Version
	result.Improved = true
	result.PromptDiff = promptDiff(action.Instruction, best.Prompt)

	e.logger.Info("Evolution promoted a new version",
		zap.String("behavior_id", b.ID),
		zap.String("from_version", b.Version),
		zap.String("to_version", next.Version),
		zap.Float64("fitness_gain", best.Fitness-prod.Fitness))
	return result, nil
}

func (e *Engine) partialResult(prod, best candidate) *schemas.EvolutionResult {
	return &schemas.EvolutionResult{
		Improved:       false,
		BestFitness:    best.Fitness,
		HoldoutFitness: best.holdout,
		PromptDiff:     promptDiff(prod.Prompt, best.Prompt),
	}
}
