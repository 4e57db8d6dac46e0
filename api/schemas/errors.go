package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Callers match with errors.Is.
var (
	// ErrNotFound indicates an unknown behavior, version, or action.
	ErrNotFound = errors.New("not found")
	// ErrEvolutionInProgress indicates a per-behavior evolution lock is held;
	// at most one run may be active per behavior at a time.
	ErrEvolutionInProgress = errors.New("evolution already running for this behavior")
	// ErrEvaluationTimeout marks a single test-case evaluation that exceeded
	// its budget. The evaluator scores the case as a failure; the error never
	// propagates past the case.
	ErrEvaluationTimeout = errors.New("test case evaluation timed out")
	// ErrCollaboratorUnavailable is returned after bounded retries against
	// the language model or store have been exhausted.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrNotEvolvable indicates the behavior's evolution config forbids
	// touching it.
	ErrNotEvolvable = errors.New("behavior is not evolvable")
	// ErrVersionConflict indicates a compare-and-swap promotion lost the
	// race against a concurrent writer.
	ErrVersionConflict = errors.New("behavior version changed concurrently")
)

// ValidationError reports a malformed behavior or action definition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid definition: field %q: %s", e.Field, e.Reason)
}

// InvalidTransitionError names the disallowed lifecycle edge that was
// attempted.
type InvalidTransitionError struct {
	BehaviorID string
	From       Lifecycle
	To         Lifecycle
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("behavior %q: lifecycle transition %s -> %s is not permitted", e.BehaviorID, e.From, e.To)
}

// PromotionError reports the specific unmet condition that blocked a
// lifecycle promotion. Promotion failures are never silently ignored.
type PromotionError struct {
	BehaviorID string
	Target     Lifecycle
	Condition  string
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("behavior %q: promotion to %s blocked: %s", e.BehaviorID, e.Target, e.Condition)
}

// OverfitRejectedError reports a candidate whose train/holdout gap exceeded
// the rejection threshold, regardless of its train fitness.
type OverfitRejectedError struct {
	CandidateID string
	Train       float64
	Holdout     float64
}

func (e *OverfitRejectedError) Gap() float64 { return e.Train - e.Holdout }

func (e *OverfitRejectedError) Error() string {
	return fmt.Sprintf("candidate %s rejected as overfit: train %.3f, holdout %.3f (gap %.3f)",
		e.CandidateID, e.Train, e.Holdout, e.Gap())
}
