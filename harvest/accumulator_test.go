package harvest

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"follow-harvester/internal/types"
)

func TestAccumulator_NeverHoldsDuplicates(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		limit := rnd.Intn(30)
		acc := NewAccumulator(limit)
		var firstSeen []string
		seen := map[string]bool{}

		for batch := 0; batch < 20; batch++ {
			var recs []types.EntityRecord
			n := rnd.Intn(10)
			for i := 0; i < n; i++ {
				recs = append(recs, types.EntityRecord{ID: fmt.Sprintf("u%d", rnd.Intn(40))})
			}
			for _, r := range recs {
				if !seen[r.ID] && (limit == 0 || len(firstSeen) < limit) {
					seen[r.ID] = true
					firstSeen = append(firstSeen, r.ID)
				}
			}
			acc.Merge(recs)

			if limit > 0 {
				assert.LessOrEqual(t, acc.Len(), limit)
			}
		}

		assert.Equal(t, firstSeen, recordIDs(acc.Records()), "run %d", run)
	}
}

func TestAccumulator_MergeReportsAdded(t *testing.T) {
	acc := NewAccumulator(0)

	assert.Equal(t, 2, acc.Merge(records("a", "b")))
	assert.Equal(t, 1, acc.Merge(records("b", "c", "")))
	assert.Equal(t, 0, acc.Merge(records("a", "c")))
	assert.Equal(t, 3, acc.Len())
	assert.False(t, acc.Full())
}

func TestAccumulator_TruncatesAtLimit(t *testing.T) {
	acc := NewAccumulator(3)

	added := acc.Merge(records("a", "b", "c", "d"))

	assert.Equal(t, 3, added)
	assert.True(t, acc.Full())
	assert.Equal(t, 0, acc.Merge(records("e")))
	assert.Equal(t, []string{"a", "b", "c"}, recordIDs(acc.Records()))
}

func TestAccumulator_RecordsIsACopy(t *testing.T) {
	acc := NewAccumulator(0)
	acc.Merge([]types.EntityRecord{{ID: "a", DisplayName: "Alice"}})

	out := acc.Records()
	out[0].DisplayName = "changed"

	assert.Equal(t, "Alice", acc.Records()[0].DisplayName)
}
