// File: internal/service/executor.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
)

// LLMActionExecutor runs behavior actions by sending the instruction and the
// case input to the language model. It is the default executor for actions
// whose work is itself a single LM call; callers with richer runtimes supply
// their own schemas.ActionExecutor.
type LLMActionExecutor struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

var _ schemas.ActionExecutor = (*LLMActionExecutor)(nil)

// NewLLMActionExecutor creates the default executor.
func NewLLMActionExecutor(llm schemas.LLMClient, logger *zap.Logger) *LLMActionExecutor {
	return &LLMActionExecutor{llm: llm, logger: logger.Named("executor")}
}

// Execute performs one action invocation and reports its cost figures.
func (e *LLMActionExecutor) Execute(ctx context.Context, action schemas.Action, input json.RawMessage) (*schemas.ExecutionOutput, error) {
	userPrompt := fmt.Sprintf("INPUT:\n%s", string(input))
	if len(action.OutputSchema) > 0 {
		userPrompt += fmt.Sprintf("\n\nRespond with JSON conforming to this schema:\n%s", string(action.OutputSchema))
	}

	start := time.Now()
	response, err := e.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: action.Instruction,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: len(action.OutputSchema) > 0,
			Temperature:     0.2,
		},
	})
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("action %q execution failed: %w", action.Name, err)
	}

	return &schemas.ExecutionOutput{
		Output:    json.RawMessage(response),
		Latency:   latency,
		TokenCost: estimateTokens(action.Instruction) + estimateTokens(string(input)) + estimateTokens(response),
	}, nil
}

// estimateTokens approximates token count at four characters per token,
// enough for relative efficiency scoring between candidates.
func estimateTokens(s string) int {
	return len(s) / 4
}
