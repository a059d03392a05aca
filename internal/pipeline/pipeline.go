// Package pipeline orchestrates one RAG query end to end: retrieve context,
// optionally filter it through the guardrail, generate a completion, and
// record the whole invocation as a call-record tree appended to the sink.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/raglens/raglens/internal/generation"
	"github.com/raglens/raglens/internal/guardrail"
	"github.com/raglens/raglens/internal/record"
	"github.com/raglens/raglens/internal/retrieval"
	"github.com/raglens/raglens/pkg/contracts"
	"github.com/raglens/raglens/pkg/models"
)

// Step names of the instrumented pipeline calls, as they appear in record
// trees and selectors.
const (
	StepQuery              = "query"
	StepRetrieveContext    = "retrieve_context"
	StepGenerateCompletion = "generate_completion"
)

// Service runs queries for one application configuration.
type Service struct {
	app       string
	retriever *retrieval.Retriever
	generator *generation.Generator
	guard     *guardrail.Filter // nil when filtering is disabled
	runs      contracts.Store   // nil when persistence is disabled
}

var _ contracts.QueryService = (*Service)(nil)

// New assembles a pipeline. guard and runs may be nil to disable context
// filtering and sink persistence respectively.
func New(app string, retriever *retrieval.Retriever, generator *generation.Generator, guard *guardrail.Filter, runs contracts.Store) *Service {
	return &Service{
		app:       app,
		retriever: retriever,
		generator: generator,
		guard:     guard,
		runs:      runs,
	}
}

// App returns the application name this pipeline runs under.
func (s *Service) App() string { return s.app }

// Query answers one question. The invocation is instrumented as a record
// tree rooted at StepQuery with the retrieval and generation steps as
// children in invocation order; the finalized tree is appended to the sink
// whether the invocation succeeded or failed. Collaborator errors pass
// through to the caller unchanged apart from UpstreamUnavailable wrapping.
func (s *Service) Query(ctx context.Context, query string) (*models.QueryResult, error) {
	tree := record.NewTree()
	runID := uuid.NewString()
	start := time.Now()

	result, err := s.run(ctx, tree, query)

	s.persist(ctx, tree, runID, query, err)

	if err != nil {
		return nil, err
	}
	result.App = s.app
	result.RecordID = runID
	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

func (s *Service) run(ctx context.Context, tree *record.Tree, query string) (*models.QueryResult, error) {
	ctx, finishRoot := tree.Begin(ctx, StepQuery, map[string]any{"query": query})

	answer, res, err := s.steps(ctx, tree, query)
	finishRoot(answer, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// steps runs the child steps under an already-open root record.
func (s *Service) steps(ctx context.Context, tree *record.Tree, query string) (string, *models.QueryResult, error) {
	// The guardrail wraps retrieval: the retrieve_context record's output
	// is the filtered list, with per-passage score decisions as its
	// children, so downstream selectors see exactly the context the
	// generator saw.
	retCtx, finishRetrieve := tree.Begin(ctx, StepRetrieveContext, map[string]any{
		"query": query,
		"limit": s.retriever.Limit(),
	})
	passages, err := s.retriever.Retrieve(retCtx, query)
	retrieved := len(passages)
	var threshold float64
	if err == nil && s.guard != nil {
		passages, err = s.guard.Filter(retCtx, tree, query, passages)
		threshold = s.guard.Threshold()
	}
	finishRetrieve(passages, err)
	if err != nil {
		return "", nil, err
	}

	genCtx, finishGenerate := tree.Begin(ctx, StepGenerateCompletion, map[string]any{
		"query":    query,
		"passages": passages,
	})
	answer, err := s.generator.Generate(genCtx, query, passages)
	finishGenerate(answer, err)
	if err != nil {
		return "", nil, err
	}

	return answer, &models.QueryResult{
		Query:     query,
		Answer:    answer,
		Passages:  passages,
		Guardrail: s.guard != nil,
		Threshold: threshold,
		ModelID:   s.generator.ModelID(),
		RetrieveN: retrieved,
		FilteredN: len(passages),
	}, nil
}

// persist appends the finalized tree to the sink. Persistence is
// best-effort: a sink failure is logged and never surfaces to the caller.
func (s *Service) persist(ctx context.Context, tree *record.Tree, runID, query string, runErr error) {
	if s.runs == nil || tree.Root() == nil {
		return
	}
	run := &models.RunRecord{
		ID:        runID,
		App:       s.app,
		Query:     query,
		Root:      tree.Root(),
		CreatedAt: time.Now().UTC(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := s.runs.AppendRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn().Err(err).Str("app", s.app).Str("run_id", runID).Msg("failed to persist run record")
	}
}
