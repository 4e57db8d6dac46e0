package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/store"
)

func memBehavior(id, name, description string) *schemas.Behavior {
	now := time.Now().UTC()
	return &schemas.Behavior{
		ID:          id,
		Name:        name,
		Description: description,
		Tier:        schemas.TierGenerated,
		Lifecycle:   schemas.LifecycleActive,
		Actions: []schemas.Action{
			{Name: "act", Instruction: "do the thing"},
		},
		Version:   "1.0.0",
		Evolution: schemas.EvolutionConfig{Evolvable: true},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	b := memBehavior("bhv-1", "summarize", "")
	id, err := st.Save(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "bhv-1", id)

	loaded, err := st.Load(ctx, "bhv-1")
	require.NoError(t, err)
	assert.Equal(t, "summarize", loaded.Name)

	// Returned copies never alias stored state.
	loaded.Name = "tampered"
	again, err := st.Load(ctx, "bhv-1")
	require.NoError(t, err)
	assert.Equal(t, "summarize", again.Name)

	_, err = st.Load(ctx, "no-such")
	assert.ErrorIs(t, err, schemas.ErrNotFound)
}

func TestMemoryStoreVersionLineage(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	b := memBehavior("bhv-1", "summarize", "")
	_, err := st.Save(ctx, b)
	require.NoError(t, err)

	next := *b
	next.Version = "1.1.0"
	next.Actions = []schemas.Action{{Name: "act", Instruction: "do the thing better"}}
	require.NoError(t, st.CompareAndSwapVersion(ctx, &next, "1.0.0"))

	current, err := st.Load(ctx, "bhv-1")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", current.Version)

	old, err := st.LoadVersion(ctx, "bhv-1", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "do the thing", old.Actions[0].Instruction)

	_, err = st.LoadVersion(ctx, "bhv-1", "3.0.0")
	assert.ErrorIs(t, err, schemas.ErrNotFound)
}

func TestMemoryStoreCompareAndSwapConflict(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	b := memBehavior("bhv-1", "summarize", "")
	_, err := st.Save(ctx, b)
	require.NoError(t, err)

	// First writer wins.
	winner := *b
	winner.Version = "1.1.0"
	require.NoError(t, st.CompareAndSwapVersion(ctx, &winner, "1.0.0"))

	// Second writer raced on the same expected version and loses.
	loser := *b
	loser.Version = "1.2.0"
	err = st.CompareAndSwapVersion(ctx, &loser, "1.0.0")
	assert.ErrorIs(t, err, schemas.ErrVersionConflict)

	current, err := st.Load(ctx, "bhv-1")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", current.Version)

	err = st.CompareAndSwapVersion(ctx, &loser, "no-such-version")
	assert.ErrorIs(t, err, schemas.ErrVersionConflict)
}

func TestMemoryStoreRecordExecutionIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	rec := &schemas.ExecutionRecord{
		ExecutionID: "ex-1",
		BehaviorID:  "bhv-1",
		Success:     true,
		Timestamp:   time.Now().UTC(),
	}
	require.NoError(t, st.RecordExecution(ctx, rec))

	replay := *rec
	replay.Success = false
	require.NoError(t, st.RecordExecution(ctx, &replay))

	out, err := st.ListExecutions(ctx, schemas.ExecutionQuery{BehaviorID: "bhv-1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Success, "replayed record must not overwrite the original")
}

func TestMemoryStoreListExecutionsWindowAndLimit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordExecution(ctx, &schemas.ExecutionRecord{
			ExecutionID: string(rune('a' + i)),
			BehaviorID:  "bhv-1",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	out, err := st.ListExecutions(ctx, schemas.ExecutionQuery{
		BehaviorID: "bhv-1",
		Since:      base.Add(90 * time.Second),
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	// Newest first.
	assert.True(t, out[0].Timestamp.After(out[1].Timestamp))
	assert.Equal(t, base.Add(4*time.Minute), out[0].Timestamp)
}

func TestMemoryStoreSearchRanksNameMatches(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	byName := memBehavior("bhv-name", "summarize docs", "renders output")
	byName.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	byDesc := memBehavior("bhv-desc", "renderer", "can summarize long inputs")
	miss := memBehavior("bhv-miss", "formatter", "formats tables")
	draft := memBehavior("bhv-draft", "summarize emails", "")
	draft.Lifecycle = schemas.LifecycleDraft

	for _, b := range []*schemas.Behavior{byName, byDesc, miss, draft} {
		_, err := st.Save(ctx, b)
		require.NoError(t, err)
	}

	results, err := st.Search(ctx, "summarize", schemas.BehaviorFilter{Lifecycle: schemas.LifecycleActive})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "bhv-name", results[0].ID, "name matches rank above description matches")
	assert.Equal(t, "bhv-desc", results[1].ID)

	all, err := st.Search(ctx, "", schemas.BehaviorFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemoryStoreListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.SaveRun(ctx, &schemas.EvolutionRun{
			RunID:      string(rune('x' + i)),
			BehaviorID: "bhv-1",
			Status:     schemas.RunCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := st.ListRuns(ctx, "bhv-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, base.Add(2*time.Hour), runs[0].StartedAt)
	assert.Equal(t, base.Add(time.Hour), runs[1].StartedAt)
}
