package schemas

import (
	"context"
	"encoding/json"
	"time"
)

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a language model based on a preference for
// speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the single narrow seam to the text-transformation/judgment
// collaborator. The mutator, the correctness judge, and test-case generation
// all go through it, so tests can substitute deterministic fakes.
type LLMClient interface {
	// Generate produces a text completion for the request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// -- Action Executor --

// ExecutionOutput is what running one action against one input yields,
// including the cost figures the fitness evaluator turns into an efficiency
// score.
type ExecutionOutput struct {
	Output    json.RawMessage `json:"output"`
	Latency   time.Duration   `json:"latency"`
	TokenCost int             `json:"token_cost"`
}

// ActionExecutor runs a behavior action (with a possibly overridden
// instruction prompt) against an input. Implementations live outside this
// module; the evaluator only depends on the contract.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action, input json.RawMessage) (*ExecutionOutput, error)
}

// -- Behavior Store --

// BehaviorFilter narrows List/Search results.
type BehaviorFilter struct {
	Tier      BehaviorTier
	Lifecycle Lifecycle
	Domain    string
}

// ExecutionQuery narrows ledger reads.
type ExecutionQuery struct {
	BehaviorID string
	Since      time.Time
	Limit      int
}

// BehaviorStore is the versioned object store contract. The evolution engine
// writes exactly once per successful run (the new version), never partial
// generations.
type BehaviorStore interface {
	// Save persists a behavior and returns its ID.
	Save(ctx context.Context, b *Behavior) (string, error)
	// Load returns the current version of a behavior.
	Load(ctx context.Context, id string) (*Behavior, error)
	// LoadVersion returns a specific persisted version of a behavior.
	LoadVersion(ctx context.Context, id, version string) (*Behavior, error)
	// Search returns behaviors ranked by relevance to the query, optionally
	// narrowed by filter.
	Search(ctx context.Context, query string, filter BehaviorFilter) ([]*Behavior, error)
	// CompareAndSwapVersion promotes a new version atomically: the write
	// succeeds only if the stored current version still equals expect.
	CompareAndSwapVersion(ctx context.Context, b *Behavior, expect string) error

	// RecordExecution appends to the durable execution ledger, idempotent by
	// execution ID.
	RecordExecution(ctx context.Context, rec *ExecutionRecord) error
	// ListExecutions reads back ledger entries matching the query, newest
	// first.
	ListExecutions(ctx context.Context, q ExecutionQuery) ([]*ExecutionRecord, error)

	// SaveRun upserts an evolution run record (written at generation
	// boundaries and on completion).
	SaveRun(ctx context.Context, run *EvolutionRun) error
	// ListRuns returns past runs for a behavior, newest first.
	ListRuns(ctx context.Context, behaviorID string, limit int) ([]*EvolutionRun, error)
}
