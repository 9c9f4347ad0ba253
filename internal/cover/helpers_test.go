package cover

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func entriesOf(values ...float64) []Entry {
	out := make([]Entry, len(values))
	for i, v := range values {
		out[i] = Entry{Value: v, ID: fmt.Sprintf("e%d", i)}
	}
	return out
}

// bruteForce enumerates all 2^n subsets.
func bruteForce(entries []Entry, target float64) (float64, bool) {
	best, found := math.Inf(1), false
	for mask := 0; mask < 1<<len(entries); mask++ {
		var s float64
		for j, e := range entries {
			if mask&(1<<j) != 0 {
				s += e.Value
			}
		}
		if s >= target && s < best {
			best, found = s, true
		}
	}
	return best, found
}

// requireIntegrity checks that chosen ids are unique, come from entries and
// add up to the reported sum.
func requireIntegrity(t *testing.T, entries []Entry, res Result) {
	t.Helper()
	byID := make(map[string]float64, len(entries))
	for _, e := range entries {
		byID[e.ID] = e.Value
	}
	seen := make(map[string]bool, len(res.Chosen))
	var sum float64
	for _, id := range res.Chosen {
		v, ok := byID[id]
		require.True(t, ok, "chosen id %q is not in the group", id)
		require.False(t, seen[id], "chosen id %q appears twice", id)
		seen[id] = true
		sum += v
	}
	if res.Reachable {
		require.Equal(t, res.Sum, sum, "sum of chosen values must equal the achieved sum")
	} else {
		require.Empty(t, res.Chosen)
	}
}
