// Package server provides the public entry point for initializing the
// RagLens server.
//
// This package exists in pkg/ (not internal/) so embedders can compose the
// full server inside their own process:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raglens/raglens/internal/api"
	"github.com/raglens/raglens/internal/api/handlers"
	"github.com/raglens/raglens/internal/config"
	"github.com/raglens/raglens/internal/feedback"
	"github.com/raglens/raglens/internal/generation"
	"github.com/raglens/raglens/internal/guardrail"
	"github.com/raglens/raglens/internal/harness"
	"github.com/raglens/raglens/internal/pipeline"
	"github.com/raglens/raglens/internal/retention"
	"github.com/raglens/raglens/internal/retrieval"
	"github.com/raglens/raglens/internal/store"
	"github.com/raglens/raglens/internal/telemetry"
	"github.com/raglens/raglens/pkg/models"
)

// Server holds the initialized RagLens components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the run/result sink (in-memory unless DATABASE_URL is set).
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and returns
// a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// External collaborators
	searchClient := retrieval.NewHTTPSearchClient(cfg.Search.URL, cfg.Search.APIKey)
	completionClient := generation.NewOpenAIClient(cfg.Completion.URL, cfg.Completion.APIKey)

	retriever := retrieval.NewRetriever(searchClient, cfg.App.RetrievalLimit)
	generator := generation.NewGenerator(completionClient, cfg.App.ModelID)

	guard, err := newGuardrail(cfg)
	if err != nil {
		return nil, err
	}

	svc := pipeline.New(cfg.App.Name, retriever, generator, guard, dataStore)
	specs := defaultSpecs(completionClient, cfg.App.ModelID)
	h := harness.New(svc, dataStore, specs, cfg.App.EvalWorkers)

	seedApp(ctx, dataStore, cfg, specs)

	hnd := handlers.New(dataStore, svc, h)
	router := api.NewRouter(cfg, hnd)

	if cfg.Retention.MaxAge > 0 {
		janitor := retention.NewJanitor(dataStore, cfg.Retention.Interval, cfg.Retention.MaxAge)
		go janitor.Start(ctx)
	}

	log.Info().Str("app", cfg.App.Name).Str("model", cfg.App.ModelID).
		Bool("guardrail", guard != nil).Msg("pipeline initialized")

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL != "" {
		s, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return s, nil
	}
	log.Info().Msg("in-memory store initialized")
	return store.NewMemoryStore(), nil
}

// newGuardrail builds the context filter, or nil when the threshold is
// negative (filtering disabled).
func newGuardrail(cfg *config.Config) (*guardrail.Filter, error) {
	if cfg.App.GuardrailThreshold < 0 {
		return nil, nil
	}
	guard, err := guardrail.New(guardrail.Spec{
		Evaluator: feedback.LexicalOverlap("context_relevance"),
		Threshold: cfg.App.GuardrailThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("init guardrail: %w", err)
	}
	return guard, nil
}

// defaultSpecs is the stock feedback set: per-passage context relevance
// averaged over the retrieved context, plus an LLM-judged answer relevance
// with rationale.
func defaultSpecs(client feedback.Completer, modelID string) []feedback.Spec {
	contextRelevance := feedback.NewSpec(
		feedback.LexicalOverlap("context_relevance"),
		feedback.Arg{Name: "query", Selector: feedback.RootInput("query")},
		feedback.Arg{Name: "passage", Selector: feedback.EachOf(feedback.DescendantOutputs(pipeline.StepRetrieveContext))},
	)

	answerRelevance := feedback.NewSpec(
		feedback.LLMJudge("answer_relevance", client, modelID,
			"Rate how well this answer addresses the question.\nQuestion: {{query}}\nAnswer: {{answer}}",
			true),
		feedback.Arg{Name: "query", Selector: feedback.RootInput("query")},
		feedback.Arg{Name: "answer", Selector: feedback.RootOutput()},
	)

	return []feedback.Spec{contextRelevance, answerRelevance}
}

// seedApp registers the configured application so the leaderboard and run
// listings have a stable identity to group under.
func seedApp(ctx context.Context, s store.Store, cfg *config.Config, specs []feedback.Spec) {
	evaluators := make([]string, 0, len(specs))
	for _, spec := range specs {
		evaluators = append(evaluators, spec.Evaluator.Name)
	}
	app := &models.Application{
		App:        cfg.App.Name,
		ModelID:    cfg.App.ModelID,
		Evaluators: evaluators,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.UpsertApp(ctx, app); err != nil {
		log.Warn().Err(err).Str("app", cfg.App.Name).Msg("failed to register app")
	}
}
