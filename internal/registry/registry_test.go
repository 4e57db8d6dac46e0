package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/registry"
	"github.com/draagonlabs/evoforge/internal/store"
)

func newBehavior(id string) *schemas.Behavior {
	return &schemas.Behavior{
		ID:        id,
		Name:      "Summarizer",
		Tier:      schemas.TierGenerated,
		Lifecycle: schemas.LifecycleDraft,
		Actions: []schemas.Action{
			{Name: "summarize", Instruction: "Summarize the input text."},
		},
		Triggers: []schemas.Trigger{
			{Kind: schemas.TriggerQuery, Pattern: "summar", Priority: 5},
		},
		Domains:   []string{"docs"},
		Evolution: schemas.EvolutionConfig{Evolvable: true},
	}
}

func newRegistry(t *testing.T, opts registry.Options) (*registry.Registry, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return registry.New(st, opts, zaptest.NewLogger(t)), st
}

func TestRegisterAssignsDefaults(t *testing.T) {
	reg, st := newRegistry(t, registry.Options{})
	ctx := context.Background()

	b := newBehavior("bhv-1")
	b.Lifecycle = ""
	b.Version = ""

	id, err := reg.Register(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "bhv-1", id)

	stored, err := st.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schemas.LifecycleDraft, stored.Lifecycle)
	assert.Equal(t, "1.0.0", stored.Version)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestRegisterRejectsInvalidDefinition(t *testing.T) {
	reg, _ := newRegistry(t, registry.Options{})

	b := newBehavior("bhv-2")
	b.Actions = nil

	_, err := reg.Register(context.Background(), b)
	var verr *schemas.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestTransitionAllowed(t *testing.T) {
	tests := []struct {
		from, to schemas.Lifecycle
		want     bool
	}{
		{schemas.LifecycleDraft, schemas.LifecycleTesting, true},
		{schemas.LifecycleTesting, schemas.LifecycleStaging, true},
		{schemas.LifecycleTesting, schemas.LifecycleDraft, true},
		{schemas.LifecycleStaging, schemas.LifecycleActive, true},
		{schemas.LifecycleActive, schemas.LifecycleDeprecated, true},
		{schemas.LifecycleDeprecated, schemas.LifecycleRetired, true},
		{schemas.LifecycleDraft, schemas.LifecycleActive, false},
		{schemas.LifecycleActive, schemas.LifecycleDraft, false},
		{schemas.LifecycleRetired, schemas.LifecycleActive, false},
		{schemas.LifecycleStaging, schemas.LifecycleTesting, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, registry.TransitionAllowed(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestPromoteFollowsLifecycle(t *testing.T) {
	reg, _ := newRegistry(t, registry.Options{})
	ctx := context.Background()

	b := newBehavior("bhv-3")
	_, err := reg.Register(ctx, b)
	require.NoError(t, err)

	// Skipping TESTING is not permitted.
	err = reg.Promote(ctx, "bhv-3", schemas.LifecycleActive)
	var terr *schemas.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, schemas.LifecycleDraft, terr.From)
	assert.Equal(t, schemas.LifecycleActive, terr.To)

	require.NoError(t, reg.Promote(ctx, "bhv-3", schemas.LifecycleTesting))

	got, err := reg.Get(ctx, "bhv-3")
	require.NoError(t, err)
	assert.Equal(t, schemas.LifecycleTesting, got.Lifecycle)
}

func TestPromoteTestingRegression(t *testing.T) {
	reg, _ := newRegistry(t, registry.Options{})
	ctx := context.Background()

	b := newBehavior("bhv-4")
	b.Lifecycle = schemas.LifecycleTesting
	_, err := reg.Register(ctx, b)
	require.NoError(t, err)

	require.NoError(t, reg.Promote(ctx, "bhv-4", schemas.LifecycleDraft))
}

func TestPromoteStagingRequiresTestGate(t *testing.T) {
	gate := func(ctx context.Context, b *schemas.Behavior) (bool, error) {
		return false, nil
	}
	reg, _ := newRegistry(t, registry.Options{TestGate: gate})
	ctx := context.Background()

	b := newBehavior("bhv-5")
	b.Lifecycle = schemas.LifecycleTesting
	_, err := reg.Register(ctx, b)
	require.NoError(t, err)

	err = reg.Promote(ctx, "bhv-5", schemas.LifecycleStaging)
	var perr *schemas.PromotionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, schemas.LifecycleStaging, perr.Target)

	// Behavior stays in TESTING after the blocked promotion.
	got, err := reg.Get(ctx, "bhv-5")
	require.NoError(t, err)
	assert.Equal(t, schemas.LifecycleTesting, got.Lifecycle)
}

func TestPromoteActiveRequiresSoak(t *testing.T) {
	reg, st := newRegistry(t, registry.Options{MinSoak: 72 * time.Hour})
	ctx := context.Background()

	b := newBehavior("bhv-6")
	b.Lifecycle = schemas.LifecycleStaging
	_, err := reg.Register(ctx, b)
	require.NoError(t, err)

	err = reg.Promote(ctx, "bhv-6", schemas.LifecycleActive)
	var perr *schemas.PromotionError
	require.ErrorAs(t, err, &perr)

	// Backdate the staging entry past the soak minimum.
	aged, err := st.Load(ctx, "bhv-6")
	require.NoError(t, err)
	aged.LifecycleChangedAt = time.Now().UTC().Add(-100 * time.Hour)
	_, err = st.Save(ctx, aged)
	require.NoError(t, err)

	require.NoError(t, reg.Promote(ctx, "bhv-6", schemas.LifecycleActive))

	// Promotion stamps the lifecycle clock for the next stage.
	got, err := st.Load(ctx, "bhv-6")
	require.NoError(t, err)
	assert.False(t, got.LifecycleChangedAt.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), got.LifecycleChangedAt, time.Minute)
}

func TestPromoteSoakSurvivesStatUpdates(t *testing.T) {
	reg, st := newRegistry(t, registry.Options{MinSoak: time.Hour})
	ctx := context.Background()

	b := newBehavior("bhv-soak")
	b.Lifecycle = schemas.LifecycleStaging
	_, err := reg.Register(ctx, b)
	require.NoError(t, err)

	aged, err := st.Load(ctx, "bhv-soak")
	require.NoError(t, err)
	aged.LifecycleChangedAt = time.Now().UTC().Add(-2 * time.Hour)
	_, err = st.Save(ctx, aged)
	require.NoError(t, err)

	// Stat rollups rewrite UpdatedAt; the soak clock must not notice.
	require.NoError(t, reg.UpdateStats(ctx, "bhv-soak", true, 50*time.Millisecond))
	require.NoError(t, reg.UpdateStats(ctx, "bhv-soak", false, 150*time.Millisecond))

	require.NoError(t, reg.Promote(ctx, "bhv-soak", schemas.LifecycleActive))

	got, err := st.Load(ctx, "bhv-soak")
	require.NoError(t, err)
	assert.Equal(t, schemas.LifecycleActive, got.Lifecycle)
}

func TestPromoteFailsFastUnderEvolutionLock(t *testing.T) {
	locked := func(behaviorID string) bool { return behaviorID == "bhv-7" }
	reg, _ := newRegistry(t, registry.Options{LockChecker: locked})
	ctx := context.Background()

	b := newBehavior("bhv-7")
	_, err := reg.Register(ctx, b)
	require.NoError(t, err)

	err = reg.Promote(ctx, "bhv-7", schemas.LifecycleTesting)
	assert.True(t, errors.Is(err, schemas.ErrEvolutionInProgress))
}

func TestUpdateStatsRunningAverage(t *testing.T) {
	reg, st := newRegistry(t, registry.Options{})
	ctx := context.Background()

	_, err := reg.Register(ctx, newBehavior("bhv-8"))
	require.NoError(t, err)

	require.NoError(t, reg.UpdateStats(ctx, "bhv-8", true, 100*time.Millisecond))
	require.NoError(t, reg.UpdateStats(ctx, "bhv-8", false, 300*time.Millisecond))

	got, err := st.Load(ctx, "bhv-8")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Stats.SuccessCount)
	assert.Equal(t, int64(1), got.Stats.FailureCount)
	assert.Equal(t, 200*time.Millisecond, got.Stats.MeanLatency)
}

func TestFindByTrigger(t *testing.T) {
	reg, _ := newRegistry(t, registry.Options{})
	ctx := context.Background()

	low := newBehavior("bhv-low")
	low.Lifecycle = schemas.LifecycleActive
	low.Triggers = []schemas.Trigger{{Kind: schemas.TriggerQuery, Pattern: "summar", Priority: 1}}
	_, err := reg.Register(ctx, low)
	require.NoError(t, err)

	high := newBehavior("bhv-high")
	high.Lifecycle = schemas.LifecycleActive
	high.Triggers = []schemas.Trigger{{Kind: schemas.TriggerQuery, Pattern: "summar", Priority: 9}}
	_, err = reg.Register(ctx, high)
	require.NoError(t, err)

	// DRAFT behaviors never match.
	draft := newBehavior("bhv-draft")
	_, err = reg.Register(ctx, draft)
	require.NoError(t, err)

	matches, err := reg.FindByTrigger(ctx, schemas.TriggerQuery, "please summarize this report")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "bhv-high", matches[0].ID)
	assert.Equal(t, "bhv-low", matches[1].ID)

	none, err := reg.FindByTrigger(ctx, schemas.TriggerQuery, "translate this")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindByTriggerFilePattern(t *testing.T) {
	reg, _ := newRegistry(t, registry.Options{})
	ctx := context.Background()

	b := newBehavior("bhv-files")
	b.Lifecycle = schemas.LifecycleActive
	b.Triggers = []schemas.Trigger{{Kind: schemas.TriggerFilePattern, Pattern: "*.md", Priority: 1}}
	_, err := reg.Register(ctx, b)
	require.NoError(t, err)

	matches, err := reg.FindByTrigger(ctx, schemas.TriggerFilePattern, "docs/README.md")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "bhv-files", matches[0].ID)
}
