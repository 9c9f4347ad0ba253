package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codecalc/junction-engine/pkg/models"
)

// schemaSQL is compiled into the binary so schema init works from any working directory.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	return nil
}

// SaveJunctionRun upserts a run. Request and response are stored as jsonb.
func (s *PostgresStore) SaveJunctionRun(ctx context.Context, run models.JunctionRun) error {
	req, resp, err := marshalRun(run)
	if err != nil {
		return err
	}
	sql := `
		INSERT INTO junction_runs (id, created_at, tipo, credito_desejado, option_count, request, response)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			option_count = EXCLUDED.option_count,
			request = EXCLUDED.request,
			response = EXCLUDED.response;
	`
	_, err = s.pool.Exec(ctx, sql, run.ID, run.CreatedAt, run.Request.Type, run.Request.DesiredCredit,
		len(run.Response.Options), req, resp)
	if err != nil {
		return fmt.Errorf("failed to insert junction run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJunctionRun(ctx context.Context, id string) (models.JunctionRun, error) {
	sql := `SELECT id::text, created_at, request::text, response::text FROM junction_runs WHERE id::text = $1`
	var (
		run       models.JunctionRun
		req, resp string
	)
	err := s.pool.QueryRow(ctx, sql, id).Scan(&run.ID, &run.CreatedAt, &req, &resp)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JunctionRun{}, fmt.Errorf("junction run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.JunctionRun{}, err
	}
	if err := unmarshalRun(&run, req, resp); err != nil {
		return models.JunctionRun{}, err
	}
	return run, nil
}

func (s *PostgresStore) ListJunctionRuns(ctx context.Context, page, limit int) ([]models.JunctionRunSummary, int, error) {
	limit, offset := pageBounds(page, limit)

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM junction_runs`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT id::text, created_at, tipo, credito_desejado, option_count
		FROM junction_runs
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := make([]models.JunctionRunSummary, 0, limit)
	for rows.Next() {
		var r models.JunctionRunSummary
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Type, &r.DesiredCredit, &r.OptionCount); err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return runs, totalCount, nil
}

func (s *PostgresStore) SaveShadowResult(ctx context.Context, res models.ShadowResult) error {
	sql := `
		INSERT INTO shadow_results
			(run_id, group_key, group_size, target, exact_sum, approx_sum, ratio, diverged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err := s.pool.Exec(ctx, sql, res.RunID, res.GroupKey, res.GroupSize, res.Target,
		res.ExactSum, res.ApproxSum, res.Ratio, res.Diverged, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert shadow result: %w", err)
	}
	return nil
}

// DriftReport computes the divergence rate over all shadow results.
func (s *PostgresStore) DriftReport(ctx context.Context) (DriftReport, error) {
	sql := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE diverged) AS divergences,
		COALESCE(AVG(ratio), 0) AS avg_ratio
	FROM shadow_results`

	var r DriftReport
	err := s.pool.QueryRow(ctx, sql).Scan(&r.TotalRuns, &r.Divergences, &r.AvgRatio)
	return r, err
}

func marshalRun(run models.JunctionRun) (string, string, error) {
	req, err := json.Marshal(run.Request)
	if err != nil {
		return "", "", fmt.Errorf("encode request: %w", err)
	}
	resp, err := json.Marshal(run.Response)
	if err != nil {
		return "", "", fmt.Errorf("encode response: %w", err)
	}
	return string(req), string(resp), nil
}

func unmarshalRun(run *models.JunctionRun, req, resp string) error {
	if err := json.Unmarshal([]byte(req), &run.Request); err != nil {
		return fmt.Errorf("decode request of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(resp), &run.Response); err != nil {
		return fmt.Errorf("decode response of run %s: %w", run.ID, err)
	}
	return nil
}
