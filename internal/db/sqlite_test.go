package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecalc/junction-engine/pkg/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.InitSchema(ctx))
	return s
}

func ptr(f float64) *float64 { return &f }

func sampleRun(id string, created time.Time) models.JunctionRun {
	return models.JunctionRun{
		ID:        id,
		CreatedAt: created,
		Request: models.JunctionRequest{
			Type:            "Imóvel",
			DesiredCredit:   300000,
			EntryCeiling:    ptr(0.47),
			ExtraCommission: ptr(0.02),
		},
		Response: models.JunctionResponse{
			ID: id,
			Options: []models.JunctionOption{{
				Administrator:    "Porto",
				Type:             "Imóvel",
				CreditTotal:      310000,
				Entry:            90000,
				Installments:     "180x R$ 1.000,00",
				NearestDueDate:   "15/03/2025",
				CertificatesUsed: 2,
				Solver:           "mitm",
			}},
			Commission: &models.CommissionPolicy{Base: 0.05, Extra: 0.02, Total: 0.07},
			Message:    "Porto ...",
		},
	}
}

func TestSQLiteStore_SaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := sampleRun("6f1c8a52-0a5d-4b8e-9b53-2f1d7f3d9a11", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.SaveJunctionRun(ctx, run))
	got, err := s.GetJunctionRun(ctx, run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("stored run mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStore_SaveRunIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := sampleRun("run-1", time.Now().UTC())

	require.NoError(t, s.SaveJunctionRun(ctx, run))
	run.Response.Options = nil
	require.NoError(t, s.SaveJunctionRun(ctx, run))

	runs, total, err := s.ListJunctionRuns(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, runs[0].OptionCount)
}

func TestSQLiteStore_GetMissingRun(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetJunctionRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListRunsPaginates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, s.SaveJunctionRun(ctx, sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	first, total, err := s.ListJunctionRuns(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, first, 2)
	assert.Equal(t, "run-4", first[0].ID, "newest first")
	assert.Equal(t, "run-3", first[1].ID)
	assert.Equal(t, "Imóvel", first[0].Type)
	assert.Equal(t, 300000.0, first[0].DesiredCredit)
	assert.Equal(t, 1, first[0].OptionCount)

	last, _, err := s.ListJunctionRuns(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "run-0", last[0].ID)

	beyond, _, err := s.ListJunctionRuns(ctx, 9, 2)
	require.NoError(t, err)
	assert.NotNil(t, beyond)
	assert.Empty(t, beyond)
}

func TestSQLiteStore_ShadowResults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveShadowResult(ctx, models.ShadowResult{RunID: "r", GroupKey: "Porto|Imóvel", GroupSize: 4, Target: 100, ExactSum: 100, ApproxSum: 100, Ratio: 1, CreatedAt: now}))
	require.NoError(t, s.SaveShadowResult(ctx, models.ShadowResult{RunID: "r", GroupKey: "Itaú|Auto", GroupSize: 6, Target: 100, ExactSum: 100, ApproxSum: 103, Ratio: 1.03, Diverged: true, CreatedAt: now}))

	report, err := s.DriftReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalRuns)
	assert.Equal(t, 1, report.Divergences)
	assert.InDelta(t, 1.015, report.AvgRatio, 1e-9)
}

func TestSQLiteStore_EmptyDriftReport(t *testing.T) {
	s := openTestStore(t)
	report, err := s.DriftReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DriftReport{}, report)
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantLimit, wantOffs int
	}{
		{1, 10, 10, 0},
		{3, 10, 10, 20},
		{0, 0, DefaultPageSize, 0},
		{-2, 501, DefaultPageSize, 0},
		{2, MaxPageSize, MaxPageSize, MaxPageSize},
	}
	for _, tt := range tests {
		limit, offset := pageBounds(tt.page, tt.limit)
		assert.Equal(t, tt.wantLimit, limit, "page=%d limit=%d", tt.page, tt.limit)
		assert.Equal(t, tt.wantOffs, offset, "page=%d limit=%d", tt.page, tt.limit)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}
