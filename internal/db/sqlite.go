package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codecalc/junction-engine/pkg/models"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// SQLiteStore is the single-file store used by the CLI and small deployments.
// Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveJunctionRun(ctx context.Context, run models.JunctionRun) error {
	req, resp, err := marshalRun(run)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO junction_runs (id, created_at, tipo, credito_desejado, option_count, request, response)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			option_count = excluded.option_count,
			request = excluded.request,
			response = excluded.response;
	`
	_, err = s.db.ExecContext(ctx, query, run.ID, run.CreatedAt.UnixNano(), run.Request.Type,
		run.Request.DesiredCredit, len(run.Response.Options), req, resp)
	if err != nil {
		return fmt.Errorf("failed to insert junction run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJunctionRun(ctx context.Context, id string) (models.JunctionRun, error) {
	var (
		run       models.JunctionRun
		createdAt int64
		req, resp string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, request, response FROM junction_runs WHERE id = ?`, id,
	).Scan(&run.ID, &createdAt, &req, &resp)
	if errors.Is(err, sql.ErrNoRows) {
		return models.JunctionRun{}, fmt.Errorf("junction run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.JunctionRun{}, err
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	if err := unmarshalRun(&run, req, resp); err != nil {
		return models.JunctionRun{}, err
	}
	return run, nil
}

func (s *SQLiteStore) ListJunctionRuns(ctx context.Context, page, limit int) ([]models.JunctionRunSummary, int, error) {
	limit, offset := pageBounds(page, limit)

	var totalCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM junction_runs`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, tipo, credito_desejado, option_count
		FROM junction_runs
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := make([]models.JunctionRunSummary, 0, limit)
	for rows.Next() {
		var (
			r         models.JunctionRunSummary
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &createdAt, &r.Type, &r.DesiredCredit, &r.OptionCount); err != nil {
			return nil, 0, err
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return runs, totalCount, nil
}

func (s *SQLiteStore) SaveShadowResult(ctx context.Context, res models.ShadowResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shadow_results
			(run_id, group_key, group_size, target, exact_sum, approx_sum, ratio, diverged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.GroupKey, res.GroupSize, res.Target, res.ExactSum, res.ApproxSum,
		res.Ratio, res.Diverged, res.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert shadow result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DriftReport(ctx context.Context) (DriftReport, error) {
	var r DriftReport
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(diverged), 0), COALESCE(AVG(ratio), 0)
		FROM shadow_results`).Scan(&r.TotalRuns, &r.Divergences, &r.AvgRatio)
	return r, err
}
