// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev, tests).
package store

import (
	"context"
	"sync"
	"time"

	"github.com/raglens/raglens/pkg/models"
)

// MemoryStore implements Store with in-memory maps and append-only slices.
type MemoryStore struct {
	mu      sync.RWMutex
	apps    map[string]*models.Application // key: app
	runs    []*models.RunRecord            // append-only, invocation order
	runByID map[string]*models.RunRecord   // key: run id
	results []*models.FeedbackResult       // append-only
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:    make(map[string]*models.Application),
		runs:    make([]*models.RunRecord, 0),
		runByID: make(map[string]*models.RunRecord),
		results: make([]*models.FeedbackResult, 0),
	}
}

// ── App Store ───────────────────────────────────────────────

func (m *MemoryStore) ListApps(ctx context.Context) ([]models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Application, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, *a)
	}
	return out, nil
}

func (m *MemoryStore) GetApp(ctx context.Context, app string) (*models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[app]
	if !ok {
		return nil, &ErrNotFound{Entity: "app", Key: app}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpsertApp(ctx context.Context, a *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if existing, ok := m.apps[cp.App]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.apps[cp.App] = &cp
	return nil
}

// ── Run Store ───────────────────────────────────────────────

func (m *MemoryStore) AppendRun(ctx context.Context, run *models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs = append(m.runs, &cp)
	m.runByID[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runByID[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "run", Key: id}
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, app string, limit int) ([]models.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RunRecord, 0, len(m.runs))
	// Newest first; limit <= 0 returns everything.
	for i := len(m.runs) - 1; i >= 0; i-- {
		if app != "" && m.runs[i].App != app {
			continue
		}
		out = append(out, *m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ── Result Store ────────────────────────────────────────────

func (m *MemoryStore) AppendResult(ctx context.Context, res *models.FeedbackResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *res
	m.results = append(m.results, &cp)
	return nil
}

func (m *MemoryStore) ListResults(ctx context.Context, app string, limit int) ([]models.FeedbackResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FeedbackResult, 0, len(m.results))
	for i := len(m.results) - 1; i >= 0; i-- {
		if app != "" && m.results[i].App != app {
			continue
		}
		out = append(out, *m.results[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ── Retention ───────────────────────────────────────────────

func (m *MemoryStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.runs[:0]
	purged := 0
	for _, run := range m.runs {
		if run.CreatedAt.Before(cutoff) {
			delete(m.runByID, run.ID)
			purged++
			continue
		}
		kept = append(kept, run)
	}
	m.runs = kept
	return purged, nil
}

func (m *MemoryStore) DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.results[:0]
	purged := 0
	for _, res := range m.results {
		if res.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, res)
	}
	m.results = kept
	return purged, nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Migrate(ctx context.Context) error { return nil }
