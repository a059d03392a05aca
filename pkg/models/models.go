// Package models defines the core data types for the RagLens pipeline:
// queries, passages, call records, feedback results, applications, and the
// HTTP request/response shapes served by the API.
package models

import (
	"time"
)

// ── Queries & Passages ──────────────────────────────────────

// Passage is one retrieved context snippet, in retrieval-rank order.
type Passage struct {
	Text string `json:"text"`
}

// QueryResult is the output of one pipeline query.
type QueryResult struct {
	App        string    `json:"app"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Passages   []Passage `json:"passages"` // context the generator actually saw (post-guardrail)
	RecordID   string    `json:"record_id"`
	LatencyMs  int64     `json:"latency_ms"`
	Guardrail  bool      `json:"guardrail"` // whether context filtering was active
	Threshold  float64   `json:"threshold,omitempty"`
	ModelID    string    `json:"model_id"`
	RetrieveN  int       `json:"retrieved"` // passages before filtering
	FilteredN  int       `json:"filtered"`  // passages after filtering
}

// ── Call records ────────────────────────────────────────────

// CallRecord is one instrumented step invocation. Records form a tree per
// top-level pipeline call: Children holds completed sub-calls in invocation
// order. A record is finalized exactly once, when the step returns or fails.
type CallRecord struct {
	ID        string         `json:"id"`
	Step      string         `json:"step"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Children  []*CallRecord  `json:"children,omitempty"`
}

// Failed reports whether the step this record captured returned an error.
func (r *CallRecord) Failed() bool { return r.Error != "" }

// Duration is the wall-clock time between begin and finalize.
func (r *CallRecord) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// Walk visits the record and every descendant in depth-first invocation
// order. Walking stops early if fn returns false.
func (r *CallRecord) Walk(fn func(*CallRecord) bool) bool {
	if !fn(r) {
		return false
	}
	for _, c := range r.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// RunRecord is one persisted top-level invocation: the record tree plus the
// application it belongs to. Appended to the sink; never mutated afterward.
type RunRecord struct {
	ID        string      `json:"id"`
	App       string      `json:"app"`
	Query     string      `json:"query"`
	Root      *CallRecord `json:"root"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Failed reports whether the invocation this run captured failed.
func (rr *RunRecord) Failed() bool { return rr.Error != "" }

// ── Feedback ────────────────────────────────────────────────

// FeedbackResult is the score one evaluator produced for one run record.
// Created per (run × evaluator); never mutated.
type FeedbackResult struct {
	ID        string    `json:"id"`
	App       string    `json:"app"`
	RunID     string    `json:"run_id"`
	Evaluator string    `json:"evaluator"`
	Score     float64   `json:"score"`
	Rationale string    `json:"rationale,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ── Applications & Leaderboard ──────────────────────────────

// Application identifies one pipeline configuration under evaluation.
// FeedbackResults group by App for leaderboard aggregation.
type Application struct {
	App        string    `json:"app"` // name:version, e.g. "docs-rag:v2"
	ModelID    string    `json:"model_id,omitempty"`
	Evaluators []string  `json:"evaluators,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LeaderboardRow is the aggregate score of one evaluator for one application,
// recomputed on demand from the full result set.
type LeaderboardRow struct {
	App       string  `json:"app"`
	Evaluator string  `json:"evaluator"`
	Score     float64 `json:"score"`
	Runs      int     `json:"runs"`
}

// ── API request / response shapes ───────────────────────────

// QueryRequest is the input to POST /api/v1/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// EvalRunRequest is the input to POST /api/v1/evals/run.
type EvalRunRequest struct {
	Queries []string `json:"queries"`
}

// EvalRunResponse summarizes one harness batch.
type EvalRunResponse struct {
	App       string           `json:"app"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []FeedbackResult `json:"results"`
}
