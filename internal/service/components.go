// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/config"
	"github.com/draagonlabs/evoforge/internal/engine"
	"github.com/draagonlabs/evoforge/internal/fitness"
	"github.com/draagonlabs/evoforge/internal/mutation"
	"github.com/draagonlabs/evoforge/internal/overfit"
	"github.com/draagonlabs/evoforge/internal/registry"
	"github.com/draagonlabs/evoforge/internal/structcompare"
	"github.com/draagonlabs/evoforge/internal/tracker"
)

// Components holds the wired dependency graph shared by the CLI commands.
type Components struct {
	Store    schemas.BehaviorStore
	LLM      schemas.LLMClient
	Registry *registry.Registry
	Tracker  *tracker.Tracker
	Trigger  *tracker.Trigger
	Engine   *engine.Engine
	Jobs     *engine.Manager

	logger       *zap.Logger
	storeCleanup func()
}

// BuildComponents wires the full graph from configuration. executor may be
// nil, in which case the LLM-backed default executor is used.
func BuildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, executor schemas.ActionExecutor, useInMemoryStore bool) (*Components, error) {
	st, cleanup, err := InitializeStore(ctx, cfg.Database, logger, useInMemoryStore)
	if err != nil {
		return nil, err
	}

	llm, err := InitializeLLMRouter(cfg.LLM, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	if executor == nil {
		executor = NewLLMActionExecutor(llm, logger)
	}

	seed := time.Now().UnixNano()
	mutator := mutation.New(llm, cfg.Evolution.MutationRate, cfg.Evolution.CrossoverRate, seed, logger)
	comparer := structcompare.New(logger)
	evaluator := fitness.New(executor, llm, comparer, cfg.Evolution.EvalConcurrency, cfg.Evolution.CaseTimeout, logger)
	detector := overfit.New(seed, logger)

	eng := engine.New(cfg.Evolution, st, mutator, evaluator, detector, seed, logger)
	jobs := engine.NewManager(eng, st, cfg.Evolution.JobTimeout, logger)

	reg := registry.New(st, registry.Options{
		MinSoak:     cfg.Registry.MinSoak,
		LockChecker: jobs.Holds,
	}, logger)
	trk := tracker.New(st, reg, logger)
	trg := tracker.NewTrigger(st, trk, cfg.Trigger, logger)

	return &Components{
		Store:        st,
		LLM:          llm,
		Registry:     reg,
		Tracker:      trk,
		Trigger:      trg,
		Engine:       eng,
		Jobs:         jobs,
		logger:       logger,
		storeCleanup: cleanup,
	}, nil
}

// Shutdown releases resources: running jobs first, then the LLM client, then
// the store pool.
func (c *Components) Shutdown() {
	c.logger.Debug("Beginning components shutdown sequence.")

	if c.Jobs != nil {
		c.Jobs.Shutdown()
		c.logger.Debug("Evolution jobs stopped.")
	}
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			c.logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}
	if c.storeCleanup != nil {
		c.storeCleanup()
	}
	c.logger.Debug("Components shutdown complete.")
}
