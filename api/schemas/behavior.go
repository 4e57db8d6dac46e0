package schemas

import (
	"encoding/json"
	"fmt"
	"time"
)

// BehaviorTier classifies where a behavior comes from and how much trust it
// carries. Built-in behaviors ship with the platform; generated and
// experimental ones are produced by the evolution loop itself.
type BehaviorTier string

const (
	TierBuiltIn      BehaviorTier = "built_in"
	TierExtension    BehaviorTier = "extension"
	TierApplication  BehaviorTier = "application"
	TierGenerated    BehaviorTier = "generated"
	TierExperimental BehaviorTier = "experimental"
)

// ValidTier reports whether t is one of the known tiers.
func ValidTier(t BehaviorTier) bool {
	switch t {
	case TierBuiltIn, TierExtension, TierApplication, TierGenerated, TierExperimental:
		return true
	}
	return false
}

// Lifecycle is the promotion state a behavior moves through. Transitions are
// enforced by the registry; see registry.AllowedTransitions.
type Lifecycle string

const (
	LifecycleDraft      Lifecycle = "DRAFT"
	LifecycleTesting    Lifecycle = "TESTING"
	LifecycleStaging    Lifecycle = "STAGING"
	LifecycleActive     Lifecycle = "ACTIVE"
	LifecycleDeprecated Lifecycle = "DEPRECATED"
	LifecycleRetired    Lifecycle = "RETIRED"
)

// TriggerKind categorizes what kind of event can activate a behavior.
type TriggerKind string

const (
	TriggerFilePattern TriggerKind = "file_pattern"
	TriggerCommand     TriggerKind = "command"
	TriggerEvent       TriggerKind = "event"
	TriggerQuery       TriggerKind = "query"
)

// Trigger is informational activation metadata. It is never evolved.
type Trigger struct {
	Kind     TriggerKind `json:"kind"`
	Pattern  string      `json:"pattern"`
	Priority int         `json:"priority"`
}

// Action is a single LM-driven operation owned by a behavior. The Instruction
// field holds the prompt text that the evolution engine mutates.
type Action struct {
	Name                 string          `json:"name"`
	Instruction          string          `json:"instruction"`
	InputSchema          json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema         json.RawMessage `json:"output_schema,omitempty"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Timeout              time.Duration   `json:"timeout"`
}

// BehaviorStats holds aggregate execution statistics. The tracker is the
// source of truth; these counters are a denormalized rollup.
type BehaviorStats struct {
	SuccessCount int64         `json:"success_count"`
	FailureCount int64         `json:"failure_count"`
	MeanLatency  time.Duration `json:"mean_latency"`
}

// TotalExecutions returns the number of recorded invocations.
func (s BehaviorStats) TotalExecutions() int64 {
	return s.SuccessCount + s.FailureCount
}

// BehaviorConstraints carries the style guidelines the mutator must preserve
// regardless of how far the instruction text drifts between versions.
type BehaviorConstraints struct {
	StyleGuidelines []string `json:"style_guidelines,omitempty"`
}

// EvolutionConfig is the per-behavior knob set controlling whether and how
// the evolution engine may touch it.
type EvolutionConfig struct {
	Evolvable           bool    `json:"evolvable"`
	PreserveConstraints bool    `json:"preserve_constraints"`
	MinFitness          float64 `json:"min_fitness"`
}

// Behavior is the versioned entity under evolution: a named bundle of
// actions and triggers plus its lineage and rollup stats.
//
// ParentBehaviorIDs forms a DAG rather than a tree, because crossover merges
// two parents into one child version.
type Behavior struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Tier        BehaviorTier `json:"tier"`
	Lifecycle   Lifecycle    `json:"lifecycle"`

	Actions  []Action  `json:"actions"`
	Triggers []Trigger `json:"triggers,omitempty"`
	Domains  []string  `json:"domains,omitempty"`

	Version           string   `json:"version"`
	Generation        int      `json:"generation"`
	ParentBehaviorIDs []string `json:"parent_behavior_ids,omitempty"`

	Stats       BehaviorStats       `json:"stats"`
	Constraints BehaviorConstraints `json:"constraints"`
	Evolution   EvolutionConfig     `json:"evolution"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// LifecycleChangedAt is set only when Lifecycle changes. The staging
	// soak clock reads it, so stat rollups and version bumps cannot reset
	// the soak.
	LifecycleChangedAt time.Time `json:"lifecycle_changed_at,omitempty"`
}

// ActionByName returns the named action, or an error satisfying
// errors.Is(err, ErrNotFound) when the behavior does not define it.
func (b *Behavior) ActionByName(name string) (*Action, error) {
	for i := range b.Actions {
		if b.Actions[i].Name == name {
			return &b.Actions[i], nil
		}
	}
	return nil, fmt.Errorf("action %q in behavior %q: %w", name, b.ID, ErrNotFound)
}

// Validate checks the structural integrity of a behavior definition. It does
// not consult any stored state; the registry layers lifecycle checks on top.
func (b *Behavior) Validate() error {
	if b.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if b.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !ValidTier(b.Tier) {
		return &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", b.Tier)}
	}
	if len(b.Actions) == 0 {
		return &ValidationError{Field: "actions", Reason: "behavior must define at least one action"}
	}
	seen := make(map[string]struct{}, len(b.Actions))
	for _, a := range b.Actions {
		if a.Name == "" {
			return &ValidationError{Field: "actions", Reason: "action name must not be empty"}
		}
		if _, dup := seen[a.Name]; dup {
			return &ValidationError{Field: "actions", Reason: fmt.Sprintf("duplicate action name %q", a.Name)}
		}
		seen[a.Name] = struct{}{}
		if a.Instruction == "" {
			return &ValidationError{Field: "actions", Reason: fmt.Sprintf("action %q has an empty instruction", a.Name)}
		}
	}
	for _, t := range b.Triggers {
		switch t.Kind {
		case TriggerFilePattern, TriggerCommand, TriggerEvent, TriggerQuery:
		default:
			return &ValidationError{Field: "triggers", Reason: fmt.Sprintf("unknown trigger kind %q", t.Kind)}
		}
		if t.Pattern == "" {
			return &ValidationError{Field: "triggers", Reason: "trigger pattern must not be empty"}
		}
	}
	if b.Evolution.MinFitness < 0 || b.Evolution.MinFitness > 1 {
		return &ValidationError{Field: "evolution.min_fitness", Reason: "must be within [0,1]"}
	}
	return nil
}
