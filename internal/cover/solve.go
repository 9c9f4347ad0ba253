package cover

import (
	"cmp"
	"slices"
)

// Solve filters out non-positive entries and routes the group to the exact
// solver when it holds at most cfg.ExactThreshold entries, or to the
// approximate solver (largest values first) otherwise.
//
// "No subset reaches the target" is reported through Result.Reachable; the
// only error is an invalid cfg.
func Solve(entries []Entry, target float64, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	pool := FilterPositive(entries)
	if len(pool) <= cfg.ExactThreshold {
		return SolveExact(pool, target), nil
	}
	return solveDescending(pool, target, cfg), nil
}

// SolveApproximate runs the approximate path on any group size, with the same
// filtering and ordering Solve applies. It is used to audit the approximation
// against exact results on small groups.
func SolveApproximate(entries []Entry, target float64, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	return solveDescending(FilterPositive(entries), target, cfg), nil
}

func solveDescending(pool []Entry, target float64, cfg Config) Result {
	slices.SortStableFunc(pool, func(a, b Entry) int {
		return cmp.Compare(b.Value, a.Value)
	})
	return SolveApprox(pool, target, cfg.Epsilon, cfg.MaxFrontierStates)
}
