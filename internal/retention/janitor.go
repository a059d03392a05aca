// Package retention implements the data retention policy for the RagLens
// sink. Run records and their feedback results are append-only during normal
// operation; the janitor is the one component allowed to remove them, purging
// rows older than the configured window on a fixed interval.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raglens/raglens/internal/store"
)

// DefaultInterval is the sweep interval when none is configured.
const DefaultInterval = time.Hour

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	RunsPurged    int
	ResultsPurged int
	Errors        []error
}

// Janitor periodically purges expired runs and results.
type Janitor struct {
	store    store.Store
	interval time.Duration
	maxAge   time.Duration
}

// NewJanitor creates a retention janitor purging data older than maxAge on
// the given interval.
func NewJanitor(s store.Store, interval, maxAge time.Duration) *Janitor {
	if interval < time.Minute {
		interval = DefaultInterval
	}
	return &Janitor{store: s, interval: interval, maxAge: maxAge}
}

// Start runs the janitor in a background goroutine. It blocks until ctx is
// canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.maxAge).
		Msg("retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep. Results are purged before runs so
// a failure mid-cycle never leaves results pointing at purged runs for
// longer than one interval.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	stats := CycleStats{}
	start := time.Now()
	cutoff := start.Add(-j.maxAge).UTC()

	purged, err := j.store.DeleteResultsBefore(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("retention: failed to purge expired results")
		stats.Errors = append(stats.Errors, err)
	}
	stats.ResultsPurged = purged

	purged, err = j.store.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("retention: failed to purge expired runs")
		stats.Errors = append(stats.Errors, err)
	}
	stats.RunsPurged = purged

	if stats.RunsPurged > 0 || stats.ResultsPurged > 0 {
		log.Info().
			Int("purged_runs", stats.RunsPurged).
			Int("purged_results", stats.ResultsPurged).
			Time("cutoff", cutoff).
			Dur("elapsed", time.Since(start)).
			Msg("retention cycle complete")
	}
	return stats
}
