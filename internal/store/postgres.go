// File: internal/store/postgres.go
//
// Package store persists behaviors, the execution ledger, and evolution run
// history. The Postgres implementation keeps the full behavior document as
// JSONB next to the columns the queries filter on.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL implementation of schemas.BehaviorStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.BehaviorStore = (*Store)(nil)

// New creates a Store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS behaviors (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    tier        TEXT NOT NULL,
    lifecycle   TEXT NOT NULL,
    domains     TEXT[] NOT NULL DEFAULT '{}',
    version     TEXT NOT NULL,
    document    JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS behavior_versions (
    behavior_id TEXT NOT NULL,
    version     TEXT NOT NULL,
    document    JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (behavior_id, version)
);
CREATE TABLE IF NOT EXISTS executions (
    execution_id TEXT PRIMARY KEY,
    behavior_id  TEXT NOT NULL,
    ts           TIMESTAMPTZ NOT NULL,
    success      BOOLEAN NOT NULL,
    document     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_behavior_ts ON executions (behavior_id, ts DESC);
CREATE TABLE IF NOT EXISTS evolution_runs (
    run_id      TEXT PRIMARY KEY,
    behavior_id TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    document    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_behavior_started ON evolution_runs (behavior_id, started_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Save upserts the current behavior document and records its version in the
// lineage table, in one transaction.
func (s *Store) Save(ctx context.Context, b *schemas.Behavior) (string, error) {
	doc, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to marshal behavior: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO behaviors (id, name, description, tier, lifecycle, domains, version, document, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			tier = EXCLUDED.tier, lifecycle = EXCLUDED.lifecycle,
			domains = EXCLUDED.domains, version = EXCLUDED.version,
			document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		b.ID, b.Name, b.Description, string(b.Tier), string(b.Lifecycle),
		b.Domains, b.Version, doc, b.UpdatedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to upsert behavior: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO behavior_versions (behavior_id, version, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (behavior_id, version) DO UPDATE SET document = EXCLUDED.document`,
		b.ID, b.Version, doc, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to record behavior version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return b.ID, nil
}

// Load returns the current version of a behavior.
func (s *Store) Load(ctx context.Context, id string) (*schemas.Behavior, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM behaviors WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("behavior %q: %w", id, schemas.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load behavior: %w", err)
	}
	return unmarshalBehavior(doc)
}

// LoadVersion returns a specific persisted version of a behavior.
func (s *Store) LoadVersion(ctx context.Context, id, version string) (*schemas.Behavior, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM behavior_versions WHERE behavior_id = $1 AND version = $2`,
		id, version).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("behavior %q version %q: %w", id, version, schemas.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load behavior version: %w", err)
	}
	return unmarshalBehavior(doc)
}

// Search returns behaviors ranked by a name/description match against the
// query, newest first among equal ranks. An empty query lists everything
// passing the filter.
func (s *Store) Search(ctx context.Context, query string, filter schemas.BehaviorFilter) ([]*schemas.Behavior, error) {
	sql := `
		SELECT document
		FROM behaviors
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR tier = $2)
		  AND ($3 = '' OR lifecycle = $3)
		  AND ($4 = '' OR $4 = ANY(domains))
		ORDER BY
			CASE WHEN $1 <> '' AND name ILIKE '%' || $1 || '%' THEN 0 ELSE 1 END,
			updated_at DESC`

	rows, err := s.pool.Query(ctx, sql, query, string(filter.Tier), string(filter.Lifecycle), filter.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to search behaviors: %w", err)
	}
	defer rows.Close()

	var out []*schemas.Behavior
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan behavior row: %w", err)
		}
		b, err := unmarshalBehavior(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CompareAndSwapVersion promotes a new version only if the stored current
// version still equals expect. Losing the race returns ErrVersionConflict.
func (s *Store) CompareAndSwapVersion(ctx context.Context, b *schemas.Behavior, expect string) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal behavior: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE behaviors SET
			version = $1, document = $2, lifecycle = $3, updated_at = $4
		WHERE id = $5 AND version = $6`,
		b.Version, doc, string(b.Lifecycle), b.UpdatedAt.UTC(), b.ID, expect)
	if err != nil {
		return fmt.Errorf("failed to swap behavior version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("behavior %q expected version %q: %w", b.ID, expect, schemas.ErrVersionConflict)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO behavior_versions (behavior_id, version, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (behavior_id, version) DO UPDATE SET document = EXCLUDED.document`,
		b.ID, b.Version, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record behavior version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordExecution appends to the ledger. Replays of the same execution ID
// are no-ops.
func (s *Store) RecordExecution(ctx context.Context, rec *schemas.ExecutionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (execution_id, behavior_id, ts, success, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (execution_id) DO NOTHING`,
		rec.ExecutionID, rec.BehaviorID, rec.Timestamp.UTC(), rec.Success, doc)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// ListExecutions reads ledger entries matching the query, newest first.
func (s *Store) ListExecutions(ctx context.Context, q schemas.ExecutionQuery) ([]*schemas.ExecutionRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT document FROM executions
		WHERE ($1 = '' OR behavior_id = $1) AND ts >= $2
		ORDER BY ts DESC
		LIMIT $3`,
		q.BehaviorID, q.Since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*schemas.ExecutionRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		var rec schemas.ExecutionRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SaveRun upserts one evolution run record.
func (s *Store) SaveRun(ctx context.Context, run *schemas.EvolutionRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal evolution run: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO evolution_runs (run_id, behavior_id, started_at, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET document = EXCLUDED.document`,
		run.RunID, run.BehaviorID, run.StartedAt.UTC(), doc)
	if err != nil {
		return fmt.Errorf("failed to save evolution run: %w", err)
	}
	return nil
}

// ListRuns returns past runs for a behavior, newest first. limit <= 0 means
// no limit.
func (s *Store) ListRuns(ctx context.Context, behaviorID string, limit int) ([]*schemas.EvolutionRun, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT document FROM evolution_runs
		WHERE behavior_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		behaviorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evolution runs: %w", err)
	}
	defer rows.Close()

	var out []*schemas.EvolutionRun
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		var run schemas.EvolutionRun
		if err := json.Unmarshal(doc, &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evolution run: %w", err)
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

func unmarshalBehavior(doc []byte) (*schemas.Behavior, error) {
	var b schemas.Behavior
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal behavior document: %w", err)
	}
	return &b, nil
}
