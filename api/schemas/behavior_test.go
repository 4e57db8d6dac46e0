package schemas_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draagonlabs/evoforge/api/schemas"
)

func validBehavior() *schemas.Behavior {
	return &schemas.Behavior{
		ID:        "bhv-summarize",
		Name:      "Summarizer",
		Tier:      schemas.TierGenerated,
		Lifecycle: schemas.LifecycleDraft,
		Actions: []schemas.Action{
			{Name: "summarize", Instruction: "Summarize the input text.", Timeout: 30 * time.Second},
		},
		Triggers: []schemas.Trigger{
			{Kind: schemas.TriggerQuery, Pattern: "summar", Priority: 1},
		},
		Version: "1.0.0",
		Evolution: schemas.EvolutionConfig{
			Evolvable:  true,
			MinFitness: 0.7,
		},
	}
}

func TestBehaviorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(b *schemas.Behavior)
		wantErr string
	}{
		{name: "valid", mutate: func(b *schemas.Behavior) {}},
		{
			name:    "empty id",
			mutate:  func(b *schemas.Behavior) { b.ID = "" },
			wantErr: "id",
		},
		{
			name:    "empty name",
			mutate:  func(b *schemas.Behavior) { b.Name = "" },
			wantErr: "name",
		},
		{
			name:    "bad tier",
			mutate:  func(b *schemas.Behavior) { b.Tier = "mystery" },
			wantErr: "tier",
		},
		{
			name:    "no actions",
			mutate:  func(b *schemas.Behavior) { b.Actions = nil },
			wantErr: "actions",
		},
		{
			name: "duplicate action names",
			mutate: func(b *schemas.Behavior) {
				b.Actions = append(b.Actions, b.Actions[0])
			},
			wantErr: "actions",
		},
		{
			name: "empty instruction",
			mutate: func(b *schemas.Behavior) {
				b.Actions[0].Instruction = ""
			},
			wantErr: "actions",
		},
		{
			name: "bad trigger kind",
			mutate: func(b *schemas.Behavior) {
				b.Triggers[0].Kind = "psychic"
			},
			wantErr: "triggers",
		},
		{
			name: "min fitness out of range",
			mutate: func(b *schemas.Behavior) {
				b.Evolution.MinFitness = 1.5
			},
			wantErr: "min_fitness",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := validBehavior()
			tc.mutate(b)
			err := b.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *schemas.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Field, tc.wantErr)
		})
	}
}

func TestActionByName(t *testing.T) {
	b := validBehavior()

	a, err := b.ActionByName("summarize")
	require.NoError(t, err)
	assert.Equal(t, "summarize", a.Name)

	_, err = b.ActionByName("nonexistent")
	assert.True(t, errors.Is(err, schemas.ErrNotFound))
}

func TestBehaviorStatsTotalExecutions(t *testing.T) {
	s := schemas.BehaviorStats{SuccessCount: 40, FailureCount: 10}
	assert.Equal(t, int64(50), s.TotalExecutions())
}

func TestOverfitRejectedErrorGap(t *testing.T) {
	err := &schemas.OverfitRejectedError{CandidateID: "c1", Train: 0.95, Holdout: 0.60}
	assert.InDelta(t, 0.35, err.Gap(), 1e-9)
	assert.Contains(t, err.Error(), "overfit")
}
