// Package findings collects the findings of one job regardless of how they
// were delivered.
package findings

import (
	"sort"
	"sync"

	"github.com/raysh454/capwatch/internal/model"
)

// Aggregator is an arrival-ordered set of findings keyed by ID.
// The first finding seen for an ID wins; later duplicates are dropped, not merged.
type Aggregator struct {
	mu    sync.RWMutex
	order []model.Finding
	seen  map[string]struct{}
}

func NewAggregator() *Aggregator {
	return &Aggregator{seen: make(map[string]struct{})}
}

// Add inserts f unless a finding with the same ID is already present.
// It reports whether f was inserted.
func (a *Aggregator) Add(f model.Finding) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addLocked(f)
}

func (a *Aggregator) addLocked(f model.Finding) bool {
	if a.seen == nil {
		a.seen = make(map[string]struct{})
	}
	if _, dup := a.seen[f.ID]; dup {
		return false
	}
	a.seen[f.ID] = struct{}{}
	a.order = append(a.order, f)
	return true
}

// Replace discards the current contents and loads fs in order.
// Duplicate IDs inside fs keep their first occurrence.
func (a *Aggregator) Replace(fs []model.Finding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.order = make([]model.Finding, 0, len(fs))
	a.seen = make(map[string]struct{}, len(fs))
	for _, f := range fs {
		a.addLocked(f)
	}
}

// Reset empties the aggregator.
func (a *Aggregator) Reset() {
	a.Replace(nil)
}

// List returns a copy of the findings in arrival order.
func (a *Aggregator) List() []model.Finding {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.Finding(nil), a.order...)
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

func (a *Aggregator) Has(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.seen[id]
	return ok
}

// SortBySeverity returns a copy of fs ordered critical first, keeping arrival
// order within a severity.
func SortBySeverity(fs []model.Finding) []model.Finding {
	out := append([]model.Finding(nil), fs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(fs []model.Finding) map[model.Severity]int {
	counts := make(map[model.Severity]int, len(model.Severities))
	for _, f := range fs {
		counts[f.Severity]++
	}
	return counts
}
