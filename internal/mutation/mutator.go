// File: internal/mutation/mutator.go
//
// Package mutation generates prompt variants. Every transformation goes
// through the LLM client; the mutator's own job is picking operations,
// framing the request so the output schema and style constraints survive,
// and validating what comes back.
package mutation

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Strategy names one mutation operator.
type Strategy string

const (
	StrategyRephrase    Strategy = "rephrase"
	StrategyElaborate   Strategy = "elaborate"
	StrategySimplify    Strategy = "simplify"
	StrategyRestructure Strategy = "restructure"
	StrategySpecialize  Strategy = "specialize"
	StrategyGeneralize  Strategy = "generalize"
)

// AllStrategies lists every operator, in the order used for seeded picks.
var AllStrategies = []Strategy{
	StrategyRephrase,
	StrategyElaborate,
	StrategySimplify,
	StrategyRestructure,
	StrategySpecialize,
	StrategyGeneralize,
}

// strategyFraming is the operator-specific instruction injected into the
// user prompt.
var strategyFraming = map[Strategy]string{
	StrategyRephrase:    "Rewrite the instruction using different wording while preserving its exact meaning and intent.",
	StrategyElaborate:   "Expand the instruction with additional detail, clarifying steps and edge cases it should handle.",
	StrategySimplify:    "Condense the instruction to its essential directives, removing redundancy without losing requirements.",
	StrategyRestructure: "Reorganize the instruction: reorder its steps, split or merge sections, so the logical flow is clearer.",
	StrategySpecialize:  "Adapt the instruction to perform better on the failure cases described, making it more specific to them.",
	StrategyGeneralize:  "Broaden the instruction so it handles a wider range of inputs than the ones it was written for.",
}

const mutateSystemPrompt = `You are a prompt engineer improving the instruction text of an automated action.
You will receive the current instruction, the operation to apply, and hard constraints.
Rules:
1. The rewritten instruction MUST keep producing output conforming to the declared output schema, if one is given.
2. Style guidelines listed under CONSTRAINTS are non-negotiable and must remain honored by the new instruction.
3. Do not add capabilities the action does not have.
Respond ONLY with a JSON object: {"instruction": "<the full rewritten instruction>", "change_summary": "<one sentence describing what changed>"}`

const crossoverSystemPrompt = `You are a prompt engineer merging two variants of the same action instruction.
Produce a single instruction that combines the strengths of both parents. It must differ textually from each parent, keep output conforming to the declared output schema if one is given, and honor every listed style guideline.
Respond ONLY with a JSON object: {"instruction": "<the merged instruction>", "change_summary": "<one sentence describing the merge>"}`

// jsonObjectRegex extracts a JSON object from a fenced markdown block.
var jsonObjectRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

const llmCallTimeout = 2 * time.Minute

// Mutator produces prompt variants via the LLM.
type Mutator struct {
	llm    schemas.LLMClient
	logger *zap.Logger

	mutationRate  float64
	crossoverRate float64

	// rand.Rand is not safe for concurrent use; the engine calls the picker
	// from multiple offspring goroutines.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Mutator. The seed makes operator selection reproducible in
// tests; production callers pass time-derived seeds.
func New(llm schemas.LLMClient, mutationRate, crossoverRate float64, seed int64, logger *zap.Logger) *Mutator {
	return &Mutator{
		llm:           llm,
		logger:        logger.Named("mutation"),
		mutationRate:  mutationRate,
		crossoverRate: crossoverRate,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// PickStrategy selects a mutation operator uniformly.
func (m *Mutator) PickStrategy() Strategy {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return AllStrategies[m.rng.Intn(len(AllStrategies))]
}

// PlanOffspring rolls the stochastic operator plan for one offspring:
// whether it is produced by crossover, by mutation, or both. An offspring
// that rolls neither falls back to mutation so no child is a verbatim copy.
func (m *Mutator) PlanOffspring() (crossover, mutate bool) {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	crossover = m.rng.Float64() < m.crossoverRate
	mutate = m.rng.Float64() < m.mutationRate
	if !crossover && !mutate {
		mutate = true
	}
	return crossover, mutate
}

// Mutate applies one strategy to a prompt and returns the rewritten text
// plus a one-line change description.
func (m *Mutator) Mutate(ctx context.Context, prompt string, action schemas.Action, constraints schemas.BehaviorConstraints, strategy Strategy) (string, string, error) {
	framing, ok := strategyFraming[strategy]
	if !ok {
		return "", "", &schemas.ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ACTION: %s\n\nOPERATION: %s\n%s\n\n", action.Name, strategy, framing)
	writeConstraints(&sb, action, constraints)
	fmt.Fprintf(&sb, "CURRENT INSTRUCTION:\n%s\n", prompt)

	text, summary, err := m.generate(ctx, mutateSystemPrompt, sb.String(), 0.8)
	if err != nil {
		return "", "", fmt.Errorf("mutation %s failed: %w", strategy, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("mutation %s produced an empty instruction", strategy)
	}

	m.logger.Debug("Mutation applied",
		zap.String("action", action.Name),
		zap.String("strategy", string(strategy)),
		zap.Int("prompt_len", len(text)))
	return text, fmt.Sprintf("%s: %s", strategy, summary), nil
}

// Crossover merges two parent prompts. The merged text must differ from both
// parents; one retry is allowed before giving up.
func (m *Mutator) Crossover(ctx context.Context, a, b string, action schemas.Action, constraints schemas.BehaviorConstraints) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ACTION: %s\n\n", action.Name)
	writeConstraints(&sb, action, constraints)
	fmt.Fprintf(&sb, "PARENT A:\n%s\n\nPARENT B:\n%s\n", a, b)

	for attempt := 0; attempt < 2; attempt++ {
		text, _, err := m.generate(ctx, crossoverSystemPrompt, sb.String(), 0.9)
		if err != nil {
			return "", fmt.Errorf("crossover failed: %w", err)
		}
		trimmed := strings.TrimSpace(text)
		if trimmed != "" && trimmed != strings.TrimSpace(a) && trimmed != strings.TrimSpace(b) {
			return text, nil
		}
		m.logger.Debug("Crossover returned a parent verbatim, retrying",
			zap.String("action", action.Name),
			zap.Int("attempt", attempt+1))
	}
	return "", fmt.Errorf("crossover for action %q produced no distinct offspring", action.Name)
}

func (m *Mutator) generate(ctx context.Context, system, user string, temperature float64) (instruction, summary string, err error) {
	req := schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     temperature,
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
	defer cancel()

	response, err := m.llm.Generate(callCtx, req)
	if err != nil {
		return "", "", err
	}
	return parseRewriteResponse(response)
}

type rewriteResponse struct {
	Instruction   string `json:"instruction"`
	ChangeSummary string `json:"change_summary"`
}

func parseRewriteResponse(response string) (string, string, error) {
	payload := strings.TrimSpace(response)
	if matches := jsonObjectRegex.FindStringSubmatch(payload); len(matches) > 1 {
		payload = matches[1]
	}

	var parsed rewriteResponse
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", "", fmt.Errorf("failed to unmarshal rewrite response: %w. Extracted JSON: %.500s", err, payload)
	}
	return parsed.Instruction, parsed.ChangeSummary, nil
}

func writeConstraints(sb *strings.Builder, action schemas.Action, constraints schemas.BehaviorConstraints) {
	if len(action.OutputSchema) > 0 {
		fmt.Fprintf(sb, "OUTPUT SCHEMA (must remain satisfied):\n%s\n\n", string(action.OutputSchema))
	}
	if len(constraints.StyleGuidelines) > 0 {
		sb.WriteString("CONSTRAINTS:\n")
		for _, g := range constraints.StyleGuidelines {
			fmt.Fprintf(sb, "- %s\n", g)
		}
		sb.WriteString("\n")
	}
}
