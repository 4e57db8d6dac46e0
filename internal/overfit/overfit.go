// File: internal/overfit/overfit.go
//
// Package overfit guards the evolution loop against candidates that memorize
// the training cases. It splits case sets into train/holdout partitions and
// classifies the train/holdout fitness gap of elite candidates.
package overfit

import (
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
)

// Gap thresholds. Below warn the candidate is healthy; between warn and
// reject it is accepted with a logged warning; at or above reject it is
// discarded regardless of train fitness.
const (
	GapWarnThreshold   = 0.10
	GapRejectThreshold = 0.20
)

// decliningTrendLength is how many consecutive generations of falling
// holdout fitness raise a trend warning.
const decliningTrendLength = 3

// Verdict classifies one gap check.
type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictWarn
	VerdictReject
)

// Detector performs splits and gap checks. The RNG is seeded so test splits
// are reproducible.
type Detector struct {
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Detector with a seeded RNG.
func New(seed int64, logger *zap.Logger) *Detector {
	return &Detector{
		logger: logger.Named("overfit"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Split partitions cases into train and holdout sets, stratified by
// scenario: each scenario contributes proportionally to both partitions so
// the holdout set measures generalization across every scenario, not just
// the bulk one. Every scenario with at least two cases keeps one in holdout.
func (d *Detector) Split(cases []schemas.TestCase, trainRatio float64) (train, holdout []schemas.TestCase) {
	if trainRatio <= 0 || trainRatio >= 1 {
		trainRatio = 0.8
	}

	byScenario := make(map[string][]schemas.TestCase)
	var scenarios []string
	for _, c := range cases {
		if _, seen := byScenario[c.Scenario]; !seen {
			scenarios = append(scenarios, c.Scenario)
		}
		byScenario[c.Scenario] = append(byScenario[c.Scenario], c)
	}
	sort.Strings(scenarios)

	d.rngMu.Lock()
	defer d.rngMu.Unlock()

	for _, s := range scenarios {
		group := byScenario[s]
		d.rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })

		cut := int(float64(len(group)) * trainRatio)
		if cut == len(group) && len(group) > 1 {
			cut = len(group) - 1
		}
		if cut < 1 {
			cut = 1
		}
		if cut > len(group) {
			cut = len(group)
		}
		train = append(train, group[:cut]...)
		holdout = append(holdout, group[cut:]...)
	}
	return train, holdout
}

// Check classifies the train/holdout gap for one candidate. A reject verdict
// comes with an *OverfitRejectedError describing the gap.
func (d *Detector) Check(candidateID string, train, holdout float64) (Verdict, error) {
	gap := train - holdout
	switch {
	case gap >= GapRejectThreshold:
		return VerdictReject, &schemas.OverfitRejectedError{
			CandidateID: candidateID,
			Train:       train,
			Holdout:     holdout,
		}
	case gap >= GapWarnThreshold:
		d.logger.Warn("Candidate shows an elevated train/holdout gap",
			zap.String("candidate_id", candidateID),
			zap.Float64("train", train),
			zap.Float64("holdout", holdout),
			zap.Float64("gap", gap))
		return VerdictWarn, nil
	default:
		return VerdictAccept, nil
	}
}

// ObserveHoldout inspects the generation checkpoints of a run and reports
// whether holdout fitness has declined across the last consecutive
// generations while train fitness kept rising, the classic overfitting
// signature.
func (d *Detector) ObserveHoldout(reports []schemas.GenerationReport) bool {
	if len(reports) < decliningTrendLength+1 {
		return false
	}
	tail := reports[len(reports)-(decliningTrendLength+1):]
	for i := 1; i < len(tail); i++ {
		if tail[i].HoldoutFitness >= tail[i-1].HoldoutFitness {
			return false
		}
	}
	d.logger.Warn("Holdout fitness declining across consecutive generations",
		zap.Int("generations", decliningTrendLength),
		zap.Float64("latest_holdout", tail[len(tail)-1].HoldoutFitness))
	return true
}
