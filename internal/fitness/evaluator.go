// File: internal/fitness/evaluator.go
//
// Package fitness scores prompt candidates against test cases. The composite
// score blends correctness, efficiency and human preference; correctness
// comes from structural comparison when a case carries an expected output
// and from an LM judge otherwise.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/structcompare"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Composite weighting. Correctness dominates; efficiency and preference
// break ties between equally correct candidates.
const (
	weightCorrectness = 0.6
	weightEfficiency  = 0.2
	weightPreference  = 0.2
)

// Normalization caps for the efficiency score. Anything at or beyond the cap
// scores zero efficiency for that dimension.
const (
	latencyCap = 30 * time.Second
	tokenCap   = 4000
)

// defaultPreference is used when no human feedback signal is available for
// the candidate's behavior.
const defaultPreference = 0.5

// Fitness is the scored outcome of evaluating one candidate over a case set.
type Fitness struct {
	Composite   float64 `json:"composite"`
	Correctness float64 `json:"correctness"`
	Efficiency  float64 `json:"efficiency"`
	Preference  float64 `json:"preference"`
	CasesRun    int     `json:"cases_run"`
	CasesPassed int     `json:"cases_passed"`
}

// Evaluator scores candidates. The semaphore bounds concurrent case
// executions across ALL candidates sharing the evaluator, keeping total
// pressure on the LLM backend fixed regardless of population size.
type Evaluator struct {
	executor    schemas.ActionExecutor
	judge       schemas.LLMClient
	comparer    *structcompare.Comparer
	sem         *semaphore.Weighted
	caseTimeout time.Duration
	logger      *zap.Logger
}

// New creates an Evaluator with the given shared concurrency budget.
func New(executor schemas.ActionExecutor, judge schemas.LLMClient, comparer *structcompare.Comparer, concurrency int, caseTimeout time.Duration, logger *zap.Logger) *Evaluator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Evaluator{
		executor:    executor,
		judge:       judge,
		comparer:    comparer,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		caseTimeout: caseTimeout,
		logger:      logger.Named("fitness"),
	}
}

type caseResult struct {
	correctness float64
	efficiency  float64
}

// Evaluate runs every case against the candidate prompt and folds the
// results into one Fitness. A case that times out or errors counts as a
// failed case rather than failing the evaluation; only context cancellation
// or an empty case set aborts. A negative preference means no human feedback
// signal exists and the neutral default applies; zero is a genuine
// all-negative score.
func (e *Evaluator) Evaluate(ctx context.Context, prompt string, action schemas.Action, cases []schemas.TestCase, preference float64) (*Fitness, error) {
	if len(cases) == 0 {
		return nil, errors.New("fitness evaluation requires at least one test case")
	}
	if preference < 0 {
		preference = defaultPreference
	}

	candidate := action
	candidate.Instruction = prompt

	results := make([]caseResult, len(cases))
	var wg sync.WaitGroup
	for i := range cases {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer e.sem.Release(1)
			results[i] = e.runCase(ctx, candidate, cases[i])
		}(i)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f := &Fitness{Preference: clamp01(preference), CasesRun: len(cases)}
	for _, r := range results {
		f.Correctness += r.correctness
		f.Efficiency += r.efficiency
		if r.correctness >= 0.5 {
			f.CasesPassed++
		}
	}
	f.Correctness = clamp01(f.Correctness / float64(len(cases)))
	f.Efficiency = clamp01(f.Efficiency / float64(len(cases)))
	f.Composite = clamp01(weightCorrectness*f.Correctness +
		weightEfficiency*f.Efficiency +
		weightPreference*f.Preference)
	return f, nil
}

func (e *Evaluator) runCase(ctx context.Context, action schemas.Action, tc schemas.TestCase) caseResult {
	timeout := e.caseTimeout
	if tc.Timeout > 0 {
		timeout = tc.Timeout
	}
	caseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := e.executor.Execute(caseCtx, action, tc.Input)
	if err != nil {
		// Timeouts and execution errors are failures of the candidate on
		// this case, not of the evaluation.
		if caseCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("case %q: %w", tc.ID, schemas.ErrEvaluationTimeout)
		}
		e.logger.Debug("Case execution failed",
			zap.String("case_id", tc.ID),
			zap.Error(err))
		return caseResult{}
	}

	var correctness float64
	if len(tc.Expected) > 0 {
		if e.comparer.Compare(out.Output, tc.Expected).Equivalent {
			correctness = 1
		}
	} else {
		score, err := e.judgeOutput(caseCtx, action, tc, out.Output)
		if err != nil {
			e.logger.Warn("LM judge unavailable for case, scoring as failure",
				zap.String("case_id", tc.ID),
				zap.Error(err))
			score = 0
		}
		correctness = score
	}

	return caseResult{
		correctness: correctness,
		efficiency:  efficiencyScore(out.Latency, out.TokenCost),
	}
}

const judgeSystemPrompt = `You are a strict evaluator of automated action outputs.
Given the action's instruction, the input it received, and the output it produced, decide whether the output correctly fulfills the instruction for that input.
Respond ONLY with a JSON object: {"correct": "yes" or "no", "confidence": <0.0-1.0>, "reason": "<one sentence>"}`

var jsonObjectRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

type judgement struct {
	Correct    string  `json:"correct"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// judgeOutput asks the powerful-tier model for a yes/no verdict. A "yes"
// scores the judge's confidence; a "no" scores zero.
func (e *Evaluator) judgeOutput(ctx context.Context, action schemas.Action, tc schemas.TestCase, output []byte) (float64, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSTRUCTION:\n%s\n\nINPUT:\n%s\n\nOUTPUT:\n%s\n", action.Instruction, string(tc.Input), string(output))
	if tc.Scenario != "" {
		fmt.Fprintf(&sb, "\nSCENARIO: %s\n", tc.Scenario)
	}

	response, err := e.judge.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: judgeSystemPrompt,
		UserPrompt:   sb.String(),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.0,
		},
	})
	if err != nil {
		return 0, err
	}

	payload := strings.TrimSpace(response)
	if matches := jsonObjectRegex.FindStringSubmatch(payload); len(matches) > 1 {
		payload = matches[1]
	}
	var j judgement
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return 0, fmt.Errorf("failed to unmarshal judgement: %w. Extracted JSON: %.500s", err, payload)
	}

	if !strings.EqualFold(j.Correct, "yes") {
		return 0, nil
	}
	if j.Confidence <= 0 || j.Confidence > 1 {
		return 1, nil
	}
	return j.Confidence, nil
}

// efficiencyScore is the inverted capped normalization of latency and token
// cost, weighted evenly.
func efficiencyScore(latency time.Duration, tokens int) float64 {
	latencyPart := 1 - clamp01(float64(latency)/float64(latencyCap))
	tokenPart := 1 - clamp01(float64(tokens)/float64(tokenCap))
	return 0.5*latencyPart + 0.5*tokenPart
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
