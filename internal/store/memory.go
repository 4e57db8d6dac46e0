// File: internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/draagonlabs/evoforge/api/schemas"
)

// MemoryStore is an in-memory BehaviorStore for tests and the --mem-store
// flag. All returned values are deep copies; callers never share state with
// the store.
type MemoryStore struct {
	mu         sync.RWMutex
	behaviors  map[string]*schemas.Behavior
	versions   map[string]map[string]*schemas.Behavior
	executions map[string]*schemas.ExecutionRecord
	execOrder  []string
	runs       map[string]*schemas.EvolutionRun
}

var _ schemas.BehaviorStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		behaviors:  make(map[string]*schemas.Behavior),
		versions:   make(map[string]map[string]*schemas.Behavior),
		executions: make(map[string]*schemas.ExecutionRecord),
		runs:       make(map[string]*schemas.EvolutionRun),
	}
}

// Save upserts the current behavior and remembers the version snapshot.
func (m *MemoryStore) Save(_ context.Context, b *schemas.Behavior) (string, error) {
	cp, err := copyBehavior(b)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[cp.ID] = cp
	if m.versions[cp.ID] == nil {
		m.versions[cp.ID] = make(map[string]*schemas.Behavior)
	}
	m.versions[cp.ID][cp.Version] = cp
	return cp.ID, nil
}

// Load returns the current version of a behavior.
func (m *MemoryStore) Load(_ context.Context, id string) (*schemas.Behavior, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.behaviors[id]
	if !ok {
		return nil, fmt.Errorf("behavior %q: %w", id, schemas.ErrNotFound)
	}
	return copyBehavior(b)
}

// LoadVersion returns a specific persisted version.
func (m *MemoryStore) LoadVersion(_ context.Context, id, version string) (*schemas.Behavior, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.versions[id][version]
	if !ok {
		return nil, fmt.Errorf("behavior %q version %q: %w", id, version, schemas.ErrNotFound)
	}
	return copyBehavior(b)
}

// Search filters behaviors and ranks name matches over description matches.
func (m *MemoryStore) Search(_ context.Context, query string, filter schemas.BehaviorFilter) ([]*schemas.Behavior, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type ranked struct {
		b    *schemas.Behavior
		rank int
	}
	q := strings.ToLower(query)
	var matches []ranked
	for _, b := range m.behaviors {
		if filter.Tier != "" && b.Tier != filter.Tier {
			continue
		}
		if filter.Lifecycle != "" && b.Lifecycle != filter.Lifecycle {
			continue
		}
		if filter.Domain != "" && !containsString(b.Domains, filter.Domain) {
			continue
		}
		rank := 0
		if q != "" {
			switch {
			case strings.Contains(strings.ToLower(b.Name), q):
				rank = 2
			case strings.Contains(strings.ToLower(b.Description), q):
				rank = 1
			default:
				continue
			}
		}
		matches = append(matches, ranked{b: b, rank: rank})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank > matches[j].rank
		}
		return matches[i].b.UpdatedAt.After(matches[j].b.UpdatedAt)
	})

	out := make([]*schemas.Behavior, 0, len(matches))
	for _, r := range matches {
		cp, err := copyBehavior(r.b)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// CompareAndSwapVersion promotes a new version iff the current version still
// equals expect.
func (m *MemoryStore) CompareAndSwapVersion(_ context.Context, b *schemas.Behavior, expect string) error {
	cp, err := copyBehavior(b)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.behaviors[cp.ID]
	if !ok {
		return fmt.Errorf("behavior %q: %w", cp.ID, schemas.ErrNotFound)
	}
	if current.Version != expect {
		return fmt.Errorf("behavior %q expected version %q, found %q: %w",
			cp.ID, expect, current.Version, schemas.ErrVersionConflict)
	}
	m.behaviors[cp.ID] = cp
	if m.versions[cp.ID] == nil {
		m.versions[cp.ID] = make(map[string]*schemas.Behavior)
	}
	m.versions[cp.ID][cp.Version] = cp
	return nil
}

// RecordExecution appends to the ledger, idempotent by execution ID.
func (m *MemoryStore) RecordExecution(_ context.Context, rec *schemas.ExecutionRecord) error {
	cp := *rec
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[cp.ExecutionID]; exists {
		return nil
	}
	m.executions[cp.ExecutionID] = &cp
	m.execOrder = append(m.execOrder, cp.ExecutionID)
	return nil
}

// ListExecutions returns matching ledger entries, newest first.
func (m *MemoryStore) ListExecutions(_ context.Context, q schemas.ExecutionQuery) ([]*schemas.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schemas.ExecutionRecord
	for _, id := range m.execOrder {
		rec := m.executions[id]
		if q.BehaviorID != "" && rec.BehaviorID != q.BehaviorID {
			continue
		}
		if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// SaveRun upserts a run record.
func (m *MemoryStore) SaveRun(_ context.Context, run *schemas.EvolutionRun) error {
	cp := *run
	cp.Generations = append([]schemas.GenerationReport(nil), run.Generations...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[cp.RunID] = &cp
	return nil
}

// ListRuns returns runs for a behavior, newest first.
func (m *MemoryStore) ListRuns(_ context.Context, behaviorID string, limit int) ([]*schemas.EvolutionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schemas.EvolutionRun
	for _, run := range m.runs {
		if run.BehaviorID != behaviorID {
			continue
		}
		cp := *run
		cp.Generations = append([]schemas.GenerationReport(nil), run.Generations...)
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyBehavior(b *schemas.Behavior) (*schemas.Behavior, error) {
	doc, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to copy behavior: %w", err)
	}
	var cp schemas.Behavior
	if err := json.Unmarshal(doc, &cp); err != nil {
		return nil, fmt.Errorf("failed to copy behavior: %w", err)
	}
	// JSON round-trips drop monotonic clock readings; keep wall times stable.
	cp.CreatedAt = b.CreatedAt.UTC()
	cp.UpdatedAt = b.UpdatedAt.UTC()
	return &cp, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
