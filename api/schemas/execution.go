package schemas

import (
	"encoding/json"
	"time"
)

// Outcome classifies the quality of a single execution beyond the raw
// success flag. Partial means the output was usable but incomplete.
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomePartial   Outcome = "partial"
	OutcomeError     Outcome = "error"
)

// FeedbackSignal is an explicit human judgement attached to an execution.
type FeedbackSignal string

const (
	FeedbackPositive FeedbackSignal = "positive"
	FeedbackNegative FeedbackSignal = "negative"
)

// Feedback is optional human feedback on one execution.
type Feedback struct {
	Signal FeedbackSignal `json:"signal"`
	Note   string         `json:"note,omitempty"`
}

// ExecutionRecord is one entry in the append-only execution ledger. Records
// are never mutated after write; every learning signal the evolution system
// consumes derives from this ledger.
type ExecutionRecord struct {
	ExecutionID     string          `json:"execution_id"`
	BehaviorID      string          `json:"behavior_id"`
	BehaviorVersion string          `json:"behavior_version"`
	ActionName      string          `json:"action_name"`
	Input           json.RawMessage `json:"input,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	Success         bool            `json:"success"`
	Outcome         Outcome         `json:"outcome"`
	Feedback        *Feedback       `json:"feedback,omitempty"`
	Latency         time.Duration   `json:"latency"`
	TokenCost       int             `json:"token_cost"`
	Timestamp       time.Time       `json:"timestamp"`
	SessionID       string          `json:"session_id,omitempty"`
	Domains         []string        `json:"domains,omitempty"`
}

// TestCase is one held scenario an action candidate is scored against.
// When Expected is empty the case is open-ended and correctness is judged
// by the language model instead of structural comparison.
type TestCase struct {
	ID       string          `json:"id"`
	Scenario string          `json:"scenario"`
	Input    json.RawMessage `json:"input"`
	Expected json.RawMessage `json:"expected,omitempty"`
	Timeout  time.Duration   `json:"timeout,omitempty"`
}

// FailurePattern is a cluster of failing executions sharing an outcome
// classification and input shape, ordered by frequency. Patterns seed new
// test cases and explain why evolution was triggered.
type FailurePattern struct {
	Outcome       Outcome           `json:"outcome"`
	Feature       string            `json:"feature"`
	Count         int               `json:"count"`
	ExampleInputs []json.RawMessage `json:"example_inputs,omitempty"`
}
