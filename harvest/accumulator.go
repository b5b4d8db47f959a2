package harvest

import "follow-harvester/internal/types"

// Accumulator is an insertion-ordered set of entity records keyed by ID.
// The first record seen for an ID wins; later copies are ignored.
type Accumulator struct {
	limit   int
	seen    map[string]struct{}
	records []types.EntityRecord
}

// NewAccumulator creates an accumulator holding at most limit records (0 = unlimited)
func NewAccumulator(limit int) *Accumulator {
	return &Accumulator{
		limit: limit,
		seen:  make(map[string]struct{}),
	}
}

// Merge adds records whose IDs are new, in order, and returns how many were added
func (a *Accumulator) Merge(records []types.EntityRecord) int {
	added := 0
	for _, rec := range records {
		if a.Full() {
			break
		}
		if rec.ID == "" {
			continue
		}
		if _, ok := a.seen[rec.ID]; ok {
			continue
		}
		a.seen[rec.ID] = struct{}{}
		a.records = append(a.records, rec)
		added++
	}
	return added
}

// Len returns the number of records held
func (a *Accumulator) Len() int { return len(a.records) }

// Full reports whether the limit has been reached
func (a *Accumulator) Full() bool {
	return a.limit > 0 && len(a.records) >= a.limit
}

// Records returns a copy of the records in first-discovery order
func (a *Accumulator) Records() []types.EntityRecord {
	out := make([]types.EntityRecord, len(a.records))
	copy(out, a.records)
	return out
}
