package fitness_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/fitness"
	"github.com/draagonlabs/evoforge/internal/mocks"
	"github.com/draagonlabs/evoforge/internal/structcompare"
)

var evalAction = schemas.Action{
	Name:        "summarize",
	Instruction: "Summarize the input text.",
}

func newEvaluator(t *testing.T, executor schemas.ActionExecutor, judge schemas.LLMClient) *fitness.Evaluator {
	logger := zaptest.NewLogger(t)
	return fitness.New(executor, judge, structcompare.New(logger), 2, time.Second, logger)
}

func expectedCase(id string) schemas.TestCase {
	return schemas.TestCase{
		ID:       id,
		Scenario: "basic",
		Input:    json.RawMessage(`{"text":"hello"}`),
		Expected: json.RawMessage(`{"summary":"hi"}`),
	}
}

func fastOutput(payload string) *schemas.ExecutionOutput {
	return &schemas.ExecutionOutput{
		Output:    json.RawMessage(payload),
		Latency:   0,
		TokenCost: 0,
	}
}

func TestEvaluateCompositeWeighting(t *testing.T) {
	defer goleak.VerifyNone(t)

	executor := new(mocks.MockActionExecutor)
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(fastOutput(`{"summary":"hi"}`), nil)

	ev := newEvaluator(t, executor, new(mocks.MockLLMClient))
	fit, err := ev.Evaluate(context.Background(), evalAction.Instruction, evalAction,
		[]schemas.TestCase{expectedCase("c1"), expectedCase("c2")}, -1)
	require.NoError(t, err)

	// Perfect correctness and efficiency with default preference 0.5:
	// 0.6*1 + 0.2*1 + 0.2*0.5 = 0.9.
	assert.InDelta(t, 1.0, fit.Correctness, 1e-9)
	assert.InDelta(t, 1.0, fit.Efficiency, 1e-9)
	assert.InDelta(t, 0.5, fit.Preference, 1e-9)
	assert.InDelta(t, 0.9, fit.Composite, 1e-9)
	assert.Equal(t, 2, fit.CasesRun)
	assert.Equal(t, 2, fit.CasesPassed)
}

func TestEvaluateZeroPreferenceLowersComposite(t *testing.T) {
	executor := new(mocks.MockActionExecutor)
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(fastOutput(`{"summary":"hi"}`), nil)

	ev := newEvaluator(t, executor, new(mocks.MockLLMClient))
	// Zero is a genuine all-negative feedback score, not the no-signal
	// sentinel, so it must pull the composite below the neutral default.
	fit, err := ev.Evaluate(context.Background(), evalAction.Instruction, evalAction,
		[]schemas.TestCase{expectedCase("c1")}, 0)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, fit.Correctness, 1e-9)
	assert.Zero(t, fit.Preference)
	// 0.6*1 + 0.2*1 + 0.2*0 = 0.8.
	assert.InDelta(t, 0.8, fit.Composite, 1e-9)
}

func TestEvaluateWrongOutputScoresZeroCorrectness(t *testing.T) {
	executor := new(mocks.MockActionExecutor)
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(fastOutput(`{"summary":"something else"}`), nil)

	ev := newEvaluator(t, executor, new(mocks.MockLLMClient))
	fit, err := ev.Evaluate(context.Background(), evalAction.Instruction, evalAction,
		[]schemas.TestCase{expectedCase("c1")}, -1)
	require.NoError(t, err)

	assert.Zero(t, fit.Correctness)
	assert.Zero(t, fit.CasesPassed)
	// 0.2*1 efficiency + 0.2*0.5 preference.
	assert.InDelta(t, 0.3, fit.Composite, 1e-9)
}

func TestEvaluateExecutionErrorIsCaseFailure(t *testing.T) {
	executor := new(mocks.MockActionExecutor)
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	ev := newEvaluator(t, executor, new(mocks.MockLLMClient))
	fit, err := ev.Evaluate(context.Background(), evalAction.Instruction, evalAction,
		[]schemas.TestCase{expectedCase("c1")}, -1)
	require.NoError(t, err)

	assert.Zero(t, fit.Correctness)
	assert.Zero(t, fit.Efficiency)
}

func TestEvaluateCaseTimeoutIsCaseFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	executor := new(mocks.MockActionExecutor)
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	ev := fitness.New(executor, new(mocks.MockLLMClient), structcompare.New(logger), 2, 20*time.Millisecond, logger)

	fit, err := ev.Evaluate(context.Background(), evalAction.Instruction, evalAction,
		[]schemas.TestCase{expectedCase("c1")}, -1)
	require.NoError(t, err)
	assert.Zero(t, fit.Correctness)

	// The failure is classified as a per-case timeout, not a generic error.
	entries := logs.FilterMessage("Case execution failed").All()
	require.Len(t, entries, 1)
	loggedErr, ok := entries[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, loggedErr, schemas.ErrEvaluationTimeout.Error())
}

func TestEvaluateUsesLMJudgeForOpenEndedCases(t *testing.T) {
	executor := new(mocks.MockActionExecutor)
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(fastOutput(`{"summary":"free form answer"}`), nil)

	judge := new(mocks.MockLLMClient)
	judge.On("Generate", mock.Anything, mock.Anything).
		Return(`{"correct": "yes", "confidence": 0.9, "reason": "fulfills the instruction"}`, nil).
		Once()

	ev := newEvaluator(t, executor, judge)
	openCase := schemas.TestCase{
		ID:       "open-1",
		Scenario: "open",
		Input:    json.RawMessage(`{"text":"hello"}`),
	}

	fit, err := ev.Evaluate(context.Background(), evalAction.Instruction, evalAction,
		[]schemas.TestCase{openCase}, -1)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, fit.Correctness, 1e-9)
	judge.AssertExpectations(t)

	// The judge must see the candidate instruction, not a canned one.
	req := judge.Calls[0].Arguments.Get(1).(schemas.GenerationRequest)
	assert.Contains(t, req.UserPrompt, evalAction.Instruction)
	assert.Equal(t, schemas.TierPowerful, req.Tier)
}

func TestEvaluateJudgeNoScoresZero(t *testing.T) {
	executor := new(mocks.MockActionExecutor)
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(fastOutput(`{"summary":"bad"}`), nil)

	judge := new(mocks.MockLLMClient)
	judge.On("Generate", mock.Anything, mock.Anything).
		Return(`{"correct": "no", "confidence": 0.95, "reason": "misses the point"}`, nil)

	ev := newEvaluator(t, executor, judge)
	fit, err := ev.Evaluate(context.Background(), evalAction.Instruction, evalAction,
		[]schemas.TestCase{{ID: "open-1", Input: json.RawMessage(`{}`)}}, -1)
	require.NoError(t, err)
	assert.Zero(t, fit.Correctness)
}

func TestEvaluateRequiresCases(t *testing.T) {
	ev := newEvaluator(t, new(mocks.MockActionExecutor), new(mocks.MockLLMClient))
	_, err := ev.Evaluate(context.Background(), "p", evalAction, nil, -1)
	assert.Error(t, err)
}

func TestEvaluateHonorsCancellation(t *testing.T) {
	executor := new(mocks.MockActionExecutor)
	executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(fastOutput(`{"summary":"hi"}`), nil).Maybe()

	ev := newEvaluator(t, executor, new(mocks.MockLLMClient))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ev.Evaluate(ctx, evalAction.Instruction, evalAction,
		[]schemas.TestCase{expectedCase("c1")}, -1)
	assert.Error(t, err)
}
