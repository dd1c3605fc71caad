package merge

import (
	"sync"

	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

// Accumulator holds one SubjectRecord per subject id for the length of a run.
// It is safe for concurrent use.
type Accumulator struct {
	merger *Merger

	mu      sync.RWMutex
	records map[string]*SubjectRecord
	order   []string
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator(m *Merger) *Accumulator {
	return &Accumulator{merger: m, records: make(map[string]*SubjectRecord)}
}

// Add merges c into the record for its subject. When c carries no subject id,
// fallbackID (typically the id shown in the portal's list) is used. Candidates
// with no id at all are grouped under the empty id.
func (a *Accumulator) Add(fallbackID string, c schema.Candidate) *SubjectRecord {
	id := a.merger.schema.SubjectID(c)
	if id == "" {
		id = fallbackID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.records[id]
	if !ok {
		existing = &SubjectRecord{ID: id}
		a.order = append(a.order, id)
	}
	merged := a.merger.Merge(existing, c)
	a.records[id] = merged
	return merged.Clone()
}

// Get returns a copy of the record for id.
func (a *Accumulator) Get(id string) (*SubjectRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Records returns copies of every record in first-seen order.
func (a *Accumulator) Records() []*SubjectRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*SubjectRecord, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.records[id].Clone())
	}
	return out
}

// Len returns the number of subjects.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}
