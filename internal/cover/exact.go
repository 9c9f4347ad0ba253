package cover

import (
	"cmp"
	"math"
	"slices"
	"sort"
)

// halfSum is one subset of a half, identified by its bitmask over that half.
type halfSum struct {
	sum  float64
	mask uint64
}

// SolveExact finds the true minimum subset sum >= target with a
// meet-in-the-middle search. Each half enumerates all 2^(n/2) subset sums, the
// right half is sorted, and every left sum is completed with the smallest right
// sum covering the remainder.
//
// Candidates are compared by the sum Result reports, accumulated left entries
// first and then right entries, so a reachable Result never falls below target
// through float rounding. Right sums within a small tolerance of the remainder
// are all tried for that reason.
//
// Ties between equal sums go to the first candidate in enumeration order
// (left sums ascending, stable on bitmask), so identical inputs always yield
// the same subset.
func SolveExact(entries []Entry, target float64) Result {
	mid := len(entries) / 2
	left, right := entries[:mid], entries[mid:]

	leftSums := enumerateHalf(left)
	rightSums := enumerateHalf(right)
	rightValues := make([]float64, len(rightSums))
	for i, r := range rightSums {
		rightValues[i] = r.sum
	}

	tol := 1e-9 * math.Max(1, math.Abs(target))
	best := math.Inf(1)
	var bestLeft, bestRight uint64
	found := false

	for _, l := range leftSums {
		if l.sum >= target {
			// Left sums are ascending: this is the smallest left-only cover.
			if l.sum < best {
				best, bestLeft, bestRight, found = l.sum, l.mask, 0, true
			}
			break
		}
		need := target - l.sum
		limit := need + tol
		hit := false
		for j := sort.SearchFloat64s(rightValues, need-tol); j < len(rightSums); j++ {
			if hit && rightValues[j] > limit {
				break
			}
			s := extend(l.sum, right, rightSums[j].mask)
			if s < target {
				continue
			}
			if !hit {
				hit = true
				limit = math.Max(limit, rightValues[j]+tol)
			}
			if s < best {
				best, bestLeft, bestRight, found = s, l.mask, rightSums[j].mask, true
			}
		}
	}

	if !found {
		return unreachable(total(entries), MethodExact)
	}

	chosen := make([]Entry, 0, len(entries))
	chosen = appendMasked(chosen, left, bestLeft)
	chosen = appendMasked(chosen, right, bestRight)
	return witness(chosen, MethodExact)
}

// extend adds the masked right entries to a left sum one by one, in the order
// witness accumulates them.
func extend(sum float64, vals []Entry, mask uint64) float64 {
	for j := range vals {
		if mask&(1<<j) != 0 {
			sum += vals[j].Value
		}
	}
	return sum
}

// enumerateHalf lists every subset sum of vals, including the empty subset,
// sorted ascending by sum.
func enumerateHalf(vals []Entry) []halfSum {
	size := 1 << len(vals)
	sums := make([]halfSum, 0, size)
	for i := 0; i < size; i++ {
		var sum float64
		for j := range vals {
			if i&(1<<j) != 0 {
				sum += vals[j].Value
			}
		}
		sums = append(sums, halfSum{sum: sum, mask: uint64(i)})
	}
	slices.SortStableFunc(sums, func(a, b halfSum) int {
		return cmp.Compare(a.sum, b.sum)
	})
	return sums
}

func appendMasked(dst, vals []Entry, mask uint64) []Entry {
	for j := range vals {
		if mask&(1<<j) != 0 {
			dst = append(dst, vals[j])
		}
	}
	return dst
}
