package cover

import (
	"math"
	"slices"
)

// pathNode links the entries added to reach a frontier state. Nodes are shared
// between states, so extending a state never copies its subset.
type pathNode struct {
	idx  int
	prev *pathNode
}

type state struct {
	sum  float64
	path *pathNode
}

// SolveApprox approximates the minimum subset sum >= target with a frontier
// dynamic program. Entries are processed in the order given.
//
// The frontier holds distinct reachable sums in ascending order. After each
// entry, positive sums are bucketed on a fixed geometric grid of ratio
// (1+delta), delta = (1+epsilon)^(1/n) - 1, and only the largest sum of each
// bucket is kept. A kept sum is never below the sums it stands for, and since
// the grid does not move between entries the error compounds only on the
// entries actually added, so the first frontier state >= target is within
// (1+epsilon) of the optimum.
//
// When that grid could hold more than maxStates buckets over the range of the
// group, the grid is coarsened so the frontier fits and the (1+epsilon) bound
// no longer holds for that solve. Any overflow left after trimming keeps every
// k-th state counted from the largest, so the largest state always survives.
func SolveApprox(entries []Entry, target, epsilon float64, maxStates int) Result {
	frontier := []state{{}}
	if len(entries) > 0 {
		g := newGrid(entries, epsilon, maxStates)
		for i, e := range entries {
			added := make([]state, len(frontier))
			for j, s := range frontier {
				added[j] = state{sum: s.sum + e.Value, path: &pathNode{idx: i, prev: s.path}}
			}
			frontier = g.trim(mergeStates(frontier, added))
			if len(frontier) > maxStates {
				frontier = subsample(frontier, maxStates)
			}
		}
	}

	for _, s := range frontier {
		if s.sum >= target {
			return witness(s.entries(entries), MethodApprox)
		}
	}
	return unreachable(frontier[len(frontier)-1].sum, MethodApprox)
}

// grid buckets positive sums by floor(ln(sum) / step).
type grid struct {
	step float64
}

// newGrid picks step = ln(1+epsilon)/n, widened when the positive sums of the
// group, which lie in [smallest value, total], would span more than
// maxStates-1 buckets.
func newGrid(entries []Entry, epsilon float64, maxStates int) grid {
	step := math.Log1p(epsilon) / float64(len(entries))
	lo, hi := math.Inf(1), 0.0
	for _, e := range entries {
		if e.Value > 0 {
			lo = min(lo, e.Value)
			hi += e.Value
		}
	}
	if maxStates > 3 && hi > lo {
		step = max(step, math.Log(hi/lo)/float64(maxStates-3))
	}
	return grid{step: step}
}

func (g grid) bucket(sum float64) float64 {
	return math.Floor(math.Log(sum) / g.step)
}

// trim keeps the largest state of every bucket. Non-positive sums are kept
// as they are.
func (g grid) trim(states []state) []state {
	kept := make([]state, 0, len(states))
	for i, s := range states {
		if s.sum > 0 && i+1 < len(states) && g.bucket(states[i+1].sum) == g.bucket(s.sum) {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// subsample keeps every k-th state counted from the largest, k = ceil(len/maxStates).
func subsample(states []state, maxStates int) []state {
	k := (len(states) + maxStates - 1) / maxStates
	kept := make([]state, 0, maxStates)
	for i := len(states) - 1; i >= 0; i -= k {
		kept = append(kept, states[i])
	}
	slices.Reverse(kept)
	return kept
}

// entries returns the subset behind s in processing order.
func (s state) entries(all []Entry) []Entry {
	var chosen []Entry
	for p := s.path; p != nil; p = p.prev {
		chosen = append(chosen, all[p.idx])
	}
	slices.Reverse(chosen)
	return chosen
}
