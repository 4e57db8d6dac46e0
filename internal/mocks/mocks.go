// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/draagonlabs/evoforge/api/schemas"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Action Executor Mock --

// MockActionExecutor mocks the schemas.ActionExecutor interface.
type MockActionExecutor struct {
	mock.Mock
}

func (m *MockActionExecutor) Execute(ctx context.Context, action schemas.Action, input json.RawMessage) (*schemas.ExecutionOutput, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, action, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ExecutionOutput), args.Error(1)
}

// -- Behavior Store Mock --

// MockBehaviorStore mocks the schemas.BehaviorStore interface.
type MockBehaviorStore struct {
	mock.Mock
}

func (m *MockBehaviorStore) Save(ctx context.Context, b *schemas.Behavior) (string, error) {
	args := m.Called(ctx, b)
	return args.String(0), args.Error(1)
}

func (m *MockBehaviorStore) Load(ctx context.Context, id string) (*schemas.Behavior, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Behavior), args.Error(1)
}

func (m *MockBehaviorStore) LoadVersion(ctx context.Context, id, version string) (*schemas.Behavior, error) {
	args := m.Called(ctx, id, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Behavior), args.Error(1)
}

func (m *MockBehaviorStore) Search(ctx context.Context, query string, filter schemas.BehaviorFilter) ([]*schemas.Behavior, error) {
	args := m.Called(ctx, query, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*schemas.Behavior), args.Error(1)
}

func (m *MockBehaviorStore) CompareAndSwapVersion(ctx context.Context, b *schemas.Behavior, expect string) error {
	return m.Called(ctx, b, expect).Error(0)
}

func (m *MockBehaviorStore) RecordExecution(ctx context.Context, rec *schemas.ExecutionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockBehaviorStore) ListExecutions(ctx context.Context, q schemas.ExecutionQuery) ([]*schemas.ExecutionRecord, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*schemas.ExecutionRecord), args.Error(1)
}

func (m *MockBehaviorStore) SaveRun(ctx context.Context, run *schemas.EvolutionRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockBehaviorStore) ListRuns(ctx context.Context, behaviorID string, limit int) ([]*schemas.EvolutionRun, error) {
	args := m.Called(ctx, behaviorID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*schemas.EvolutionRun), args.Error(1)
}

// -- Stats Sink Mock --

// MockStatsSink mocks the tracker.StatsSink interface.
type MockStatsSink struct {
	mock.Mock
}

func (m *MockStatsSink) UpdateStats(ctx context.Context, behaviorID string, success bool, latency time.Duration) error {
	return m.Called(ctx, behaviorID, success, latency).Error(0)
}
