// File: internal/service/initializers.go
//
// Package service is the composition root: it turns configuration into wired
// component graphs for the CLI commands.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/config"
	"github.com/draagonlabs/evoforge/internal/llmclient"
	"github.com/draagonlabs/evoforge/internal/store"
)

// InitializeStore connects to the configured behavior store. The cleanup
// function closes the underlying pool; it is a no-op for the in-memory
// store. useInMemory forces the in-memory store regardless of config.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger, useInMemory bool) (schemas.BehaviorStore, func(), error) {
	inMemoryByDefault := !useInMemory && (cfg.Type == "memory" || cfg.Type == "")

	if useInMemory || inMemoryByDefault {
		if inMemoryByDefault {
			logger.Warn("No persistent store configured; defaulting to a temporary in-memory store. All behaviors and run history will be lost on exit.")
		}
		logger.Info("Initializing in-memory behavior store.")
		return store.NewMemoryStore(), func() {}, nil
	}

	if cfg.Type == "postgres" {
		logger.Info("Initializing PostgreSQL behavior store.")
		poolConfig, err := pgxpool.ParseConfig(cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
		}
		poolConfig.MaxConns = 10
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = 1 * time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
		}

		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup := func() {
			logger.Info("Closing PostgreSQL connection pool.")
			pool.Close()
		}
		return st, cleanup, nil
	}

	return nil, nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
}

// InitializeLLMRouter creates the tiered LLM router from configuration.
func InitializeLLMRouter(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	router, err := llmclient.NewRouterFromConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM router. Evolution runs will fail.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM router: %w", err)
	}
	return router, nil
}
