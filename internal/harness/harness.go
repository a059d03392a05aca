// Package harness runs query batches through a pipeline, scores the
// resulting record trees with a set of feedback specs, and aggregates the
// scores into a leaderboard.
package harness

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/raglens/raglens/internal/feedback"
	"github.com/raglens/raglens/pkg/contracts"
	"github.com/raglens/raglens/pkg/models"
)

// DefaultWorkers bounds concurrent pipeline invocations in a batch.
const DefaultWorkers = 4

// RunOutcome is the result of one batch query, attributable to its input.
type RunOutcome struct {
	Query string
	Run   *models.RunRecord // finalized record tree, set on success and failure
	Err   error
}

// Harness drives evaluation batches for one pipeline.
type Harness struct {
	service contracts.QueryService
	store   contracts.Store
	specs   []feedback.Spec
	workers int
}

// New creates a harness. workers <= 0 falls back to DefaultWorkers.
func New(service contracts.QueryService, store contracts.Store, specs []feedback.Spec, workers int) *Harness {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Harness{service: service, store: store, specs: specs, workers: workers}
}

// ── Batch execution ─────────────────────────────────────────

// Run invokes the pipeline once per query with bounded concurrency. Every
// invocation gets its own record tree; one failure never disturbs the rest
// of the batch. Outcomes come back in input order. Cancelling the context
// stops dispatching new queries; already-dispatched ones run to completion
// under the adapters' own timeouts, detached from the batch context.
func (h *Harness) Run(ctx context.Context, queries []string) []RunOutcome {
	outcomes := make([]RunOutcome, len(queries))
	sem := make(chan struct{}, h.workers)
	var wg sync.WaitGroup

	for i, q := range queries {
		if ctx.Err() != nil {
			outcomes[i] = RunOutcome{Query: q, Err: ctx.Err()}
			continue
		}
		wg.Add(1)
		go func(idx int, query string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := h.service.Query(context.WithoutCancel(ctx), query)
			out := RunOutcome{Query: query, Err: err}
			if err == nil {
				out.Run = h.lookupRun(ctx, res.RecordID)
			}
			outcomes[idx] = out
		}(i, q)
	}
	wg.Wait()
	return outcomes
}

// lookupRun fetches the persisted run for a completed query. The pipeline
// appends the run before returning, so a miss means the sink is disabled.
func (h *Harness) lookupRun(ctx context.Context, runID string) *models.RunRecord {
	if h.store == nil || runID == "" {
		return nil
	}
	run, err := h.store.GetRun(context.WithoutCancel(ctx), runID)
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("run record not found after query")
		return nil
	}
	return run
}

// ── Scoring ─────────────────────────────────────────────────

// Score evaluates every successful run against every configured spec and
// appends the results to the sink. Scoring failures are isolated per
// (run, spec) pair: a selector miss or evaluator error on one tree is
// logged and skipped, never aborting the rest.
func (h *Harness) Score(ctx context.Context, outcomes []RunOutcome) []models.FeedbackResult {
	var results []models.FeedbackResult
	for _, out := range outcomes {
		if out.Err != nil || out.Run == nil {
			continue
		}
		for _, spec := range h.specs {
			res, err := feedback.Evaluate(ctx, spec, out.Run)
			if err != nil {
				log.Warn().Err(err).
					Str("run_id", out.Run.ID).
					Str("evaluator", spec.Evaluator.Name).
					Msg("feedback evaluation failed")
				continue
			}
			if h.store != nil {
				if err := h.store.AppendResult(ctx, res); err != nil {
					log.Warn().Err(err).Str("result_id", res.ID).Msg("failed to persist feedback result")
				}
			}
			results = append(results, *res)
		}
	}
	return results
}

// RunAndScore is the full batch flow: execute, score, summarize.
func (h *Harness) RunAndScore(ctx context.Context, queries []string) *models.EvalRunResponse {
	outcomes := h.Run(ctx, queries)

	succeeded := 0
	for _, out := range outcomes {
		if out.Err == nil {
			succeeded++
		}
	}

	results := h.Score(ctx, outcomes)
	return &models.EvalRunResponse{
		App:       h.service.App(),
		Total:     len(queries),
		Succeeded: succeeded,
		Failed:    len(queries) - succeeded,
		Results:   results,
	}
}

// ── Leaderboard ─────────────────────────────────────────────

// Leaderboard recomputes aggregate scores from the full persisted result
// set: one row per (app, evaluator) holding the mean score and the number
// of runs it covers. Apps with no results simply have no rows.
func Leaderboard(ctx context.Context, store contracts.Store) ([]models.LeaderboardRow, error) {
	results, err := store.ListResults(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	type key struct{ app, evaluator string }
	sums := make(map[key]float64)
	counts := make(map[key]int)
	var order []key
	for _, r := range results {
		k := key{r.App, r.Evaluator}
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		sums[k] += r.Score
		counts[k]++
	}

	rows := make([]models.LeaderboardRow, 0, len(order))
	for _, k := range order {
		rows = append(rows, models.LeaderboardRow{
			App:       k.app,
			Evaluator: k.evaluator,
			Score:     sums[k] / float64(counts[k]),
			Runs:      counts[k],
		})
	}
	return rows, nil
}
