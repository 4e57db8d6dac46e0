package schemas

import (
	"time"
)

// PromptCandidate is one prompt variant inside a single evolution run. The
// population is an arena keyed by generation index; candidates reference
// their parents by ID, never by pointer, so lineage stays a DAG.
//
// Candidates are ephemeral. Only the winning prompt is persisted, as a new
// behavior version.
type PromptCandidate struct {
	ID         string   `json:"id"`
	Prompt     string   `json:"prompt"`
	Fitness    float64  `json:"fitness"`
	Generation int      `json:"generation"`
	ParentIDs  []string `json:"parent_ids,omitempty"`
	Mutations  []string `json:"mutations,omitempty"`
}

// RunStatus is the lifecycle of a single evolution job.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// GenerationReport captures the checkpoint written at each generation
// boundary. The sequence of reports makes a run resumable and lets the
// overfit detector watch for declining holdout fitness across generations.
type GenerationReport struct {
	Generation     int     `json:"generation"`
	BestFitness    float64 `json:"best_fitness"`
	HoldoutFitness float64 `json:"holdout_fitness"`
	Evaluated      int     `json:"evaluated"`
	Rejected       int     `json:"rejected"`
}

// EvolutionRun is the durable record of one evolution job, successful or
// not. It is the unit returned by the history queries.
type EvolutionRun struct {
	RunID       string             `json:"run_id"`
	BehaviorID  string             `json:"behavior_id"`
	ActionName  string             `json:"action_name"`
	FromVersion string             `json:"from_version"`
	ToVersion   string             `json:"to_version,omitempty"`
	Status      RunStatus          `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	Improved    bool               `json:"improved"`
	BestFitness float64            `json:"best_fitness"`
	Holdout     float64            `json:"holdout_fitness"`
	Generations []GenerationReport `json:"generations,omitempty"`
	PromptDiff  string             `json:"prompt_diff,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at,omitempty"`
}

// EvolutionResult is the outward-facing summary of a finished run.
type EvolutionResult struct {
	Improved       bool    `json:"improved"`
	BestFitness    float64 `json:"best_fitness"`
	HoldoutFitness float64 `json:"holdout_fitness"`
	GenerationsRun int     `json:"generations_run"`
	PromptDiff     string  `json:"prompt_diff,omitempty"`
}

// VersionComparison is the result of comparing two persisted versions of the
// same behavior.
type VersionComparison struct {
	Diff              string  `json:"diff"`
	FitnessA          float64 `json:"fitness_a"`
	FitnessB          float64 `json:"fitness_b"`
	SuccessRateA      float64 `json:"success_rate_a"`
	SuccessRateB      float64 `json:"success_rate_b"`
	Recommendation    string  `json:"recommendation"`
	RecommendedChoice string  `json:"recommended_version"`
}
