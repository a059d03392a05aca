// Package store — PostgreSQL-backed Store implementation.
// Run records and feedback results are stored as JSONB rows in append-only
// tables; apps live in a small upsert table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/raglens/raglens/pkg/models"
)

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

// Migrate creates the RagLens tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS raglens_apps (
			app        TEXT PRIMARY KEY,
			model_id   TEXT NOT NULL DEFAULT '',
			evaluators JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS raglens_runs (
			id         TEXT PRIMARY KEY,
			app        TEXT NOT NULL,
			query      TEXT NOT NULL DEFAULT '',
			root       JSONB NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_raglens_runs_app ON raglens_runs (app, created_at DESC);

		CREATE TABLE IF NOT EXISTS raglens_results (
			id         TEXT PRIMARY KEY,
			app        TEXT NOT NULL,
			run_id     TEXT NOT NULL,
			evaluator  TEXT NOT NULL,
			score      DOUBLE PRECISION NOT NULL,
			rationale  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_raglens_results_app ON raglens_results (app, evaluator);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── App Store ───────────────────────────────────────────────

func (s *PostgresStore) ListApps(ctx context.Context) ([]models.Application, error) {
	rows, err := s.pool.Query(ctx, `SELECT app, model_id, evaluators, created_at FROM raglens_apps ORDER BY app`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var out []models.Application
	for rows.Next() {
		var a models.Application
		var evals []byte
		if err := rows.Scan(&a.App, &a.ModelID, &evals, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		if err := json.Unmarshal(evals, &a.Evaluators); err != nil {
			return nil, fmt.Errorf("decode evaluators: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetApp(ctx context.Context, app string) (*models.Application, error) {
	var a models.Application
	var evals []byte
	err := s.pool.QueryRow(ctx,
		`SELECT app, model_id, evaluators, created_at FROM raglens_apps WHERE app = $1`, app).
		Scan(&a.App, &a.ModelID, &evals, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "app", Key: app}
	}
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	if err := json.Unmarshal(evals, &a.Evaluators); err != nil {
		return nil, fmt.Errorf("decode evaluators: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) UpsertApp(ctx context.Context, a *models.Application) error {
	evals, err := json.Marshal(a.Evaluators)
	if err != nil {
		return fmt.Errorf("encode evaluators: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO raglens_apps (app, model_id, evaluators)
		VALUES ($1, $2, $3)
		ON CONFLICT (app) DO UPDATE SET
			model_id = EXCLUDED.model_id,
			evaluators = EXCLUDED.evaluators`,
		a.App, a.ModelID, evals)
	if err != nil {
		return fmt.Errorf("upsert app: %w", err)
	}
	return nil
}

// ── Run Store ───────────────────────────────────────────────

func (s *PostgresStore) AppendRun(ctx context.Context, run *models.RunRecord) error {
	root, err := json.Marshal(run.Root)
	if err != nil {
		return fmt.Errorf("encode record tree: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO raglens_runs (id, app, query, root, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.App, run.Query, root, run.Error, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var run models.RunRecord
	var root []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, app, query, root, error, created_at FROM raglens_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.App, &run.Query, &root, &run.Error, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "run", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := json.Unmarshal(root, &run.Root); err != nil {
		return nil, fmt.Errorf("decode record tree: %w", err)
	}
	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, app string, limit int) ([]models.RunRecord, error) {
	query := `SELECT id, app, query, root, error, created_at FROM raglens_runs`
	args := []interface{}{}
	if app != "" {
		query += ` WHERE app = $1`
		args = append(args, app)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		var run models.RunRecord
		var root []byte
		if err := rows.Scan(&run.ID, &run.App, &run.Query, &root, &run.Error, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal(root, &run.Root); err != nil {
			return nil, fmt.Errorf("decode record tree: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ── Result Store ────────────────────────────────────────────

func (s *PostgresStore) AppendResult(ctx context.Context, res *models.FeedbackResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raglens_results (id, app, run_id, evaluator, score, rationale, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.ID, res.App, res.RunID, res.Evaluator, res.Score, res.Rationale, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListResults(ctx context.Context, app string, limit int) ([]models.FeedbackResult, error) {
	query := `SELECT id, app, run_id, evaluator, score, rationale, created_at FROM raglens_results`
	args := []interface{}{}
	if app != "" {
		query += ` WHERE app = $1`
		args = append(args, app)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []models.FeedbackResult
	for rows.Next() {
		var res models.FeedbackResult
		if err := rows.Scan(&res.ID, &res.App, &res.RunID, &res.Evaluator, &res.Score, &res.Rationale, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ── Retention ───────────────────────────────────────────────

func (s *PostgresStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM raglens_runs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM raglens_results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
