package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

const schema = `
	CREATE TABLE IF NOT EXISTS benchmark_run (
		id                  UUID PRIMARY KEY,
		model_name          TEXT NOT NULL,
		dataset_name        TEXT NOT NULL,
		seed                BIGINT NOT NULL,
		inference_threshold DOUBLE PRECISION NOT NULL,
		precision_threshold DOUBLE PRECISION NOT NULL,
		base_model_bytes    BIGINT NOT NULL,
		host                JSONB NOT NULL,
		results             JSONB NOT NULL,
		started_at          TIMESTAMPTZ NOT NULL,
		finished_at         TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS benchmark_run_started_at_idx ON benchmark_run (started_at DESC);
`

type benchmarkRunRepo struct {
	pool *pgxpool.Pool
}

// NewBenchmarkRunRepository creates a RunRepository backed by PostgreSQL.
func NewBenchmarkRunRepository(pool *pgxpool.Pool) ports.RunRepository {
	return &benchmarkRunRepo{pool: pool}
}

// EnsureSchema creates the benchmark_run table when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure benchmark_run schema: %w", err)
	}
	return nil
}

func (r *benchmarkRunRepo) Save(ctx context.Context, run *domain.BenchmarkRun) error {
	hostJSON, err := json.Marshal(run.Host)
	if err != nil {
		return fmt.Errorf("marshal host: %w", err)
	}
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	query := `
		INSERT INTO benchmark_run
			(id, model_name, dataset_name, seed, inference_threshold, precision_threshold,
			 base_model_bytes, host, results, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.pool.Exec(ctx, query,
		run.ID, run.ModelName, run.DatasetName, run.Seed,
		run.InferenceThreshold, run.PrecisionThreshold, run.BaseModelBytes,
		hostJSON, resultsJSON, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("benchmark run %s already stored: %w", run.ID, err)
		}
		return fmt.Errorf("save benchmark run: %w", err)
	}
	return nil
}

func (r *benchmarkRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BenchmarkRun, error) {
	query := `
		SELECT id, model_name, dataset_name, seed, inference_threshold, precision_threshold,
			   base_model_bytes, host, results, started_at, finished_at
		FROM benchmark_run
		WHERE id = $1
	`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("get benchmark run by id: %w", err)
	}
	return run, nil
}

func (r *benchmarkRunRepo) List(ctx context.Context, filter ports.RunListFilter) ([]*domain.BenchmarkRun, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM benchmark_run`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count benchmark runs: %w", err)
	}

	query := `
		SELECT id, model_name, dataset_name, seed, inference_threshold, precision_threshold,
			   base_model_bytes, host, results, started_at, finished_at
		FROM benchmark_run
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list benchmark runs: %w", err)
	}
	defer rows.Close()

	runs := []*domain.BenchmarkRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan benchmark run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate benchmark run rows: %w", err)
	}

	return runs, total, nil
}

func scanRun(row pgx.Row) (*domain.BenchmarkRun, error) {
	var (
		run         domain.BenchmarkRun
		hostJSON    []byte
		resultsJSON []byte
	)
	err := row.Scan(
		&run.ID, &run.ModelName, &run.DatasetName, &run.Seed,
		&run.InferenceThreshold, &run.PrecisionThreshold, &run.BaseModelBytes,
		&hostJSON, &resultsJSON, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(hostJSON, &run.Host); err != nil {
		return nil, fmt.Errorf("unmarshal host: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	return &run, nil
}
