package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecalc/junction-engine/pkg/models"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Page size bounds for ListJunctionRuns.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Store persists junction runs and shadow audit results.
type Store interface {
	InitSchema(ctx context.Context) error
	SaveJunctionRun(ctx context.Context, run models.JunctionRun) error
	GetJunctionRun(ctx context.Context, id string) (models.JunctionRun, error)
	// ListJunctionRuns returns one page of runs, newest first, and the total count.
	ListJunctionRuns(ctx context.Context, page, limit int) ([]models.JunctionRunSummary, int, error)
	SaveShadowResult(ctx context.Context, res models.ShadowResult) error
	DriftReport(ctx context.Context) (DriftReport, error)
	Close()
}

// DriftReport summarizes the recorded shadow results.
type DriftReport struct {
	TotalRuns   int     `json:"totalRuns"`
	Divergences int     `json:"divergences"`
	AvgRatio    float64 `json:"avgRatio"`
}

// Open connects to the store selected by driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return Connect(ctx, dsn)
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func pageBounds(page, limit int) (int, int) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	return limit, (page - 1) * limit
}
