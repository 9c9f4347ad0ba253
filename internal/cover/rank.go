package cover

import (
	"cmp"
	"context"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxResults is how many groups the ranker returns unless told otherwise.
const DefaultMaxResults = 10

// Group is a keyed set of entries. The key is opaque to the solver.
type Group struct {
	Key     string
	Entries []Entry
}

// GroupResult is the solve outcome of one group. Index is the group's position
// in the input and breaks ranking ties.
type GroupResult struct {
	Key    string `json:"key"`
	Index  int    `json:"index"`
	Result Result `json:"result"`
}

// RankOptions controls which group results survive ranking.
type RankOptions struct {
	// CostRate is the cost charged per unit of achieved sum.
	CostRate float64
	// RatioCeiling, when set, drops groups whose cost exceeds
	// RatioCeiling times their achieved sum.
	RatioCeiling *float64
	// MaxResults truncates the ranking; values <= 0 mean DefaultMaxResults.
	MaxResults int
}

// GroupedOptions drives SolveGrouped.
type GroupedOptions struct {
	RankOptions

	Target float64
	Config Config
	// Workers bounds how many groups are solved at once; <= 0 means GOMAXPROCS.
	Workers int
	// OnSolved, when set, is called from worker goroutines after each group.
	OnSolved func(res GroupResult, elapsed time.Duration)
}

// SolveGrouped solves every group independently and returns the ranked
// results. Groups are fanned out over a bounded worker pool; ranking does not
// depend on completion order.
func SolveGrouped(ctx context.Context, groups []Group, opts GroupedOptions) ([]GroupResult, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]GroupResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, grp := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			res, err := Solve(grp.Entries, opts.Target, opts.Config)
			if err != nil {
				return err
			}
			results[i] = GroupResult{Key: grp.Key, Index: i, Result: res}
			if opts.OnSolved != nil {
				opts.OnSolved(results[i], time.Since(start))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Rank(results, opts.RankOptions), nil
}

// Rank drops unreachable groups and groups above the ratio ceiling, orders the
// rest by achieved sum (then input position) and truncates. It never returns nil.
func Rank(results []GroupResult, opts RankOptions) []GroupResult {
	ranked := make([]GroupResult, 0, len(results))
	for _, r := range results {
		if !r.Result.Reachable {
			continue
		}
		if opts.RatioCeiling != nil && r.Result.Sum*opts.CostRate > r.Result.Sum*(*opts.RatioCeiling) {
			continue
		}
		ranked = append(ranked, r)
	}

	slices.SortStableFunc(ranked, func(a, b GroupResult) int {
		if c := cmp.Compare(a.Result.Sum, b.Result.Sum); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})

	limit := opts.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
