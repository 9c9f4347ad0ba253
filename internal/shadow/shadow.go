// Package shadow audits the approximate solver against exact results.
//
// Groups small enough for the exact solver are also solved approximately.
// The ratio between both sums is recorded, and ratios above (1+epsilon) are
// flagged as divergences. Shadow results never affect the junction response.
package shadow

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/codecalc/junction-engine/internal/cover"
	"github.com/codecalc/junction-engine/pkg/models"
)

// ratioSlack absorbs float rounding when comparing against the epsilon bound.
const ratioSlack = 1e-9

// Saver persists shadow results. db.Store satisfies it.
type Saver interface {
	SaveShadowResult(ctx context.Context, res models.ShadowResult) error
}

// Runner compares both solvers on small groups.
type Runner struct {
	saver  Saver
	cfg    cover.Config
	logger *zap.Logger

	// OnCompare, when set, is called after every comparison.
	OnCompare func(diverged bool)
}

// NewRunner creates a runner. saver may be nil, in which case results are only logged.
func NewRunner(saver Saver, cfg cover.Config, logger *zap.Logger) *Runner {
	return &Runner{saver: saver, cfg: cfg, logger: logger.Named("shadow")}
}

// RunShadowAnalysis solves group with both solvers. It returns nil when the
// group is above the exact threshold or no subset reaches the target.
func (r *Runner) RunShadowAnalysis(ctx context.Context, runID string, group cover.Group, target float64) (*models.ShadowResult, error) {
	pool := cover.FilterPositive(group.Entries)
	if len(pool) > r.cfg.ExactThreshold {
		return nil, nil
	}

	exact, err := cover.Solve(pool, target, r.cfg)
	if err != nil {
		return nil, err
	}
	if !exact.Reachable {
		return nil, nil
	}
	approx, err := cover.SolveApproximate(pool, target, r.cfg)
	if err != nil {
		return nil, err
	}

	result := &models.ShadowResult{
		RunID:     runID,
		GroupKey:  group.Key,
		GroupSize: len(pool),
		Target:    target,
		ExactSum:  exact.Sum,
		ApproxSum: approx.Sum,
		CreatedAt: time.Now().UTC(),
	}
	switch {
	case !approx.Reachable:
		result.Diverged = true
	case exact.Sum > 0:
		result.Ratio = approx.Sum / exact.Sum
		result.Diverged = result.Ratio > 1+r.cfg.Epsilon+ratioSlack
	default:
		// Non-positive target: both solvers pick the empty subset.
		result.Ratio = 1
		result.Diverged = approx.Sum != 0
	}

	if result.Diverged {
		r.logger.Warn("solver divergence",
			zap.String("run_id", runID),
			zap.String("group", group.Key),
			zap.Int("size", len(pool)),
			zap.Float64("target", target),
			zap.Float64("exact_sum", exact.Sum),
			zap.Float64("approx_sum", approx.Sum),
			zap.Bool("approx_reachable", approx.Reachable))
	}
	if r.OnCompare != nil {
		r.OnCompare(result.Diverged)
	}

	if r.saver != nil {
		if err := r.saver.SaveShadowResult(ctx, *result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// AuditGroups runs the shadow analysis on every group and returns the results
// that were compared. Failures are logged and do not stop the audit.
func (r *Runner) AuditGroups(ctx context.Context, runID string, groups []cover.Group, target float64) []models.ShadowResult {
	var out []models.ShadowResult
	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		res, err := r.RunShadowAnalysis(ctx, runID, g, target)
		if err != nil {
			r.logger.Error("shadow analysis failed", zap.String("group", g.Key), zap.Error(err))
		}
		if res != nil {
			out = append(out, *res)
		}
	}
	if len(out) > 0 {
		r.logger.Info("shadow audit finished",
			zap.String("run_id", runID),
			zap.Int("compared", len(out)),
			zap.Float64("max_ratio", MaxRatio(out)))
	}
	return out
}

// MaxRatio returns the largest approx/exact ratio in results, or 1 for none.
func MaxRatio(results []models.ShadowResult) float64 {
	maxRatio := 1.0
	for _, r := range results {
		maxRatio = math.Max(maxRatio, r.Ratio)
	}
	return maxRatio
}
