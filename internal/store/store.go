// Package store provides the storage interface and implementations for the
// RagLens sink: run records and feedback results are append-only; the
// in-memory store backs tests and single-node deployments, PostgreSQL backs
// production.
package store

import (
	"context"
	"time"

	"github.com/raglens/raglens/pkg/models"
)

// Store is the primary storage interface. Handlers and the harness depend
// on this interface, making it easy to swap between in-memory (tests) and
// PostgreSQL (production) implementations.
type Store interface {
	AppStore
	RunStore
	ResultStore
	RetentionStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── App Store ───────────────────────────────────────────────

type AppStore interface {
	ListApps(ctx context.Context) ([]models.Application, error)
	GetApp(ctx context.Context, app string) (*models.Application, error)
	UpsertApp(ctx context.Context, a *models.Application) error
}

// ── Run Store ───────────────────────────────────────────────

// RunStore persists record trees. Runs are append-only: a run is written
// once, after its tree is finalized, and never mutated.
type RunStore interface {
	AppendRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	// ListRuns returns runs newest-first, filtered by app when app is
	// non-empty. limit <= 0 returns all matching runs.
	ListRuns(ctx context.Context, app string, limit int) ([]models.RunRecord, error)
}

// ── Result Store ────────────────────────────────────────────

// ResultStore persists feedback results, one per (run, evaluator) scoring.
type ResultStore interface {
	AppendResult(ctx context.Context, res *models.FeedbackResult) error
	// ListResults returns results newest-first, filtered by app when app is
	// non-empty. limit <= 0 returns the full result set; the leaderboard
	// depends on this to aggregate over every persisted score.
	ListResults(ctx context.Context, app string, limit int) ([]models.FeedbackResult, error)
}

// ── Retention ───────────────────────────────────────────────

// RetentionStore is the purge surface used only by the retention janitor.
// Both methods return the number of rows removed.
type RetentionStore interface {
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
