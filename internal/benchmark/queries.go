package benchmark

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries is the pgx-backed Querier implementation.
type Queries struct {
	pool *pgxpool.Pool
}

// NewQueries creates the benchmark query layer on a pool.
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

func (q *Queries) InsertSuite(ctx context.Context, suite *Suite) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.pool.QueryRow(ctx, `
		INSERT INTO benchmark_suites (name, description)
		VALUES ($1, $2)
		RETURNING id`,
		suite.Name, suite.Description,
	).Scan(&id)
	return id, err
}

func (q *Queries) InsertCase(ctx context.Context, c *Case) (uuid.UUID, error) {
	if err := c.Validate(); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err := q.pool.QueryRow(ctx, `
		INSERT INTO benchmark_cases (suite_id, position, name, prompt, severity, check_kind, check_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		c.SuiteID, c.Position, c.Name, c.Prompt, c.Severity, c.CheckKind, c.CheckValue,
	).Scan(&id)
	return id, err
}

func (q *Queries) GetSuite(ctx context.Context, id uuid.UUID) (*Suite, error) {
	suite := &Suite{}
	err := q.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at
		FROM benchmark_suites WHERE id = $1`, id,
	).Scan(&suite.ID, &suite.Name, &suite.Description, &suite.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return q.loadCases(ctx, suite)
}

func (q *Queries) GetSuiteByName(ctx context.Context, name string) (*Suite, error) {
	suite := &Suite{}
	err := q.pool.QueryRow(ctx, `
		SELECT id, name, description, created_at
		FROM benchmark_suites WHERE name = $1
		ORDER BY created_at DESC LIMIT 1`, name,
	).Scan(&suite.ID, &suite.Name, &suite.Description, &suite.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return q.loadCases(ctx, suite)
}

func (q *Queries) loadCases(ctx context.Context, suite *Suite) (*Suite, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, suite_id, position, name, prompt, severity, check_kind, check_value, created_at
		FROM benchmark_cases
		WHERE suite_id = $1
		ORDER BY position`, suite.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c Case
		if err := rows.Scan(
			&c.ID, &c.SuiteID, &c.Position, &c.Name, &c.Prompt,
			&c.Severity, &c.CheckKind, &c.CheckValue, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		suite.Cases = append(suite.Cases, &c)
	}
	return suite, rows.Err()
}

func (q *Queries) ListSuites(ctx context.Context) ([]*Suite, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, name, description, created_at
		FROM benchmark_suites
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Suite
	for rows.Next() {
		var suite Suite
		if err := rows.Scan(&suite.ID, &suite.Name, &suite.Description, &suite.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &suite)
	}
	return out, rows.Err()
}

func (q *Queries) InsertRun(ctx context.Context, run *Run) (uuid.UUID, time.Time, error) {
	var (
		id        uuid.UUID
		startedAt time.Time
	)
	err := q.pool.QueryRow(ctx, `
		INSERT INTO benchmark_runs (suite_id, connection_id, asset_ids, status)
		VALUES ($1, $2, $3, 'running')
		RETURNING id, started_at`,
		run.SuiteID, run.ConnectionID, run.AssetIDs,
	).Scan(&id, &startedAt)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return id, startedAt, nil
}

func (q *Queries) CompleteRun(ctx context.Context, runID uuid.UUID, score float64) error {
	ct, err := q.pool.Exec(ctx, `
		UPDATE benchmark_runs
		SET status = 'completed', score = $2, completed_at = now()
		WHERE id = $1`,
		runID, score)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run := &Run{}
	err := q.pool.QueryRow(ctx, `
		SELECT id, suite_id, connection_id, asset_ids, status, score, started_at, completed_at
		FROM benchmark_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.SuiteID, &run.ConnectionID, &run.AssetIDs,
		&run.Status, &run.Score, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (q *Queries) InsertResult(ctx context.Context, result *Result) error {
	return q.pool.QueryRow(ctx, `
		INSERT INTO benchmark_results (run_id, case_id, passed, score, sql_text, error_text, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		result.RunID, result.CaseID, result.Passed, result.Score,
		result.SQLText, result.ErrorText, result.Elapsed.Milliseconds(),
	).Scan(&result.ID)
}

func (q *Queries) ListResults(ctx context.Context, runID uuid.UUID) ([]*Result, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, run_id, case_id, passed, score, sql_text, error_text, elapsed_ms, created_at
		FROM benchmark_results
		WHERE run_id = $1
		ORDER BY created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		var (
			r         Result
			elapsedMS int64
		)
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.CaseID, &r.Passed, &r.Score,
			&r.SQLText, &r.ErrorText, &elapsedMS, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, &r)
	}
	return out, rows.Err()
}
