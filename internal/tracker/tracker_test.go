package tracker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/mocks"
	"github.com/draagonlabs/evoforge/internal/store"
	"github.com/draagonlabs/evoforge/internal/tracker"
)

func record(id string, success bool, ts time.Time) *schemas.ExecutionRecord {
	return &schemas.ExecutionRecord{
		ExecutionID: id,
		BehaviorID:  "bhv-1",
		ActionName:  "summarize",
		Input:       json.RawMessage(`{"text":"hello"}`),
		Success:     success,
		Outcome:     schemas.OutcomeCorrect,
		Latency:     50 * time.Millisecond,
		Timestamp:   ts,
	}
}

func TestRecordValidatesAndAppends(t *testing.T) {
	st := store.NewMemoryStore()
	tr := tracker.New(st, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	err := tr.Record(ctx, &schemas.ExecutionRecord{BehaviorID: "bhv-1"})
	var verr *schemas.ValidationError
	require.ErrorAs(t, err, &verr)

	require.NoError(t, tr.Record(ctx, record("ex-1", true, time.Now())))

	recs, err := st.ListExecutions(ctx, schemas.ExecutionQuery{BehaviorID: "bhv-1"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecordIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	tr := tracker.New(st, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	rec := record("ex-dup", true, time.Now())
	require.NoError(t, tr.Record(ctx, rec))
	require.NoError(t, tr.Record(ctx, rec))

	recs, err := st.ListExecutions(ctx, schemas.ExecutionQuery{BehaviorID: "bhv-1"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecordConcurrentWriters(t *testing.T) {
	st := store.NewMemoryStore()
	tr := tracker.New(st, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := tr.Record(ctx, record(fmt.Sprintf("ex-%d", i), true, time.Now()))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	recs, err := st.ListExecutions(ctx, schemas.ExecutionQuery{BehaviorID: "bhv-1"})
	require.NoError(t, err)
	assert.Len(t, recs, writers)
}

func TestRecordFeedsStatsSink(t *testing.T) {
	st := store.NewMemoryStore()
	sink := new(mocks.MockStatsSink)
	sink.On("UpdateStats", mock.Anything, "bhv-1", true, 50*time.Millisecond).Return(nil).Once()

	tr := tracker.New(st, sink, zaptest.NewLogger(t))
	require.NoError(t, tr.Record(context.Background(), record("ex-1", true, time.Now())))

	sink.AssertExpectations(t)
}

func TestSuccessRateWindow(t *testing.T) {
	st := store.NewMemoryStore()
	tr := tracker.New(st, nil, zaptest.NewLogger(t))
	ctx := context.Background()
	now := time.Now().UTC()

	// Inside the window: 3 successes, 1 failure.
	for i, ok := range []bool{true, true, true, false} {
		require.NoError(t, tr.Record(ctx, record(fmt.Sprintf("in-%d", i), ok, now.Add(-time.Hour))))
	}
	// Outside the window: failures that must not count.
	for i := 0; i < 4; i++ {
		require.NoError(t, tr.Record(ctx, record(fmt.Sprintf("out-%d", i), false, now.Add(-40*24*time.Hour))))
	}

	rate, count, err := tr.SuccessRate(ctx, "bhv-1", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.InDelta(t, 0.75, rate, 1e-9)
}

func TestSuccessRateNoData(t *testing.T) {
	st := store.NewMemoryStore()
	tr := tracker.New(st, nil, zaptest.NewLogger(t))

	rate, count, err := tr.SuccessRate(context.Background(), "bhv-none", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, rate)
}

func TestFailurePatternsClustersByOutcomeAndShape(t *testing.T) {
	st := store.NewMemoryStore()
	tr := tracker.New(st, nil, zaptest.NewLogger(t))
	ctx := context.Background()
	now := time.Now()

	add := func(id string, outcome schemas.Outcome, input string) {
		rec := record(id, false, now)
		rec.Outcome = outcome
		rec.Input = json.RawMessage(input)
		require.NoError(t, tr.Record(ctx, rec))
	}

	// Three incorrect results on {text} inputs, two errors on {url} inputs,
	// one success that must be ignored.
	add("f-1", schemas.OutcomeIncorrect, `{"text":"a"}`)
	add("f-2", schemas.OutcomeIncorrect, `{"text":"b"}`)
	add("f-3", schemas.OutcomeIncorrect, `{"text":"c"}`)
	add("f-4", schemas.OutcomeError, `{"url":"http://x"}`)
	add("f-5", schemas.OutcomeError, `{"url":"http://y"}`)
	require.NoError(t, tr.Record(ctx, record("ok-1", true, now)))

	patterns, err := tr.FailurePatterns(ctx, "bhv-1")
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	assert.Equal(t, schemas.OutcomeIncorrect, patterns[0].Outcome)
	assert.Equal(t, 3, patterns[0].Count)
	assert.Contains(t, patterns[0].Feature, "text")
	assert.NotEmpty(t, patterns[0].ExampleInputs)

	assert.Equal(t, schemas.OutcomeError, patterns[1].Outcome)
	assert.Equal(t, 2, patterns[1].Count)
	assert.Contains(t, patterns[1].Feature, "url")
}

func TestSeedCasesFromFailurePatterns(t *testing.T) {
	st := store.NewMemoryStore()
	tr := tracker.New(st, nil, zaptest.NewLogger(t))
	ctx := context.Background()
	now := time.Now()

	add := func(id string, outcome schemas.Outcome, input string) {
		rec := record(id, false, now)
		rec.Outcome = outcome
		rec.Input = json.RawMessage(input)
		require.NoError(t, tr.Record(ctx, rec))
	}

	add("f-1", schemas.OutcomeIncorrect, `{"text":"a"}`)
	add("f-2", schemas.OutcomeIncorrect, `{"text":"b"}`)
	add("f-3", schemas.OutcomeError, `{"url":"http://x"}`)

	cases, err := tr.SeedCases(ctx, "bhv-1", 10)
	require.NoError(t, err)
	require.Len(t, cases, 3)

	// Frequency order: the incorrect cluster's examples come first.
	assert.Equal(t, "failure:"+string(schemas.OutcomeIncorrect), cases[0].Scenario)
	assert.JSONEq(t, `{"text":"a"}`, string(cases[0].Input))
	assert.Empty(t, cases[0].Expected, "seeded cases are judge-scored")
	assert.Equal(t, "failure:"+string(schemas.OutcomeError), cases[2].Scenario)

	limited, err := tr.SeedCases(ctx, "bhv-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := tr.SeedCases(ctx, "bhv-quiet", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
