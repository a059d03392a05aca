// Package contracts defines the service interfaces at the RagLens boundary.
//
// The pipeline consumes its external collaborators — the search service, the
// completion service, and the trace/result sink — exclusively through these
// interfaces, so the HTTP handlers and the evaluation harness never depend on
// a concrete transport. Swapping a collaborator (or substituting a test
// double) is a single line change in the wiring code (pkg/server).
package contracts

import (
	"context"

	"github.com/raglens/raglens/internal/store"
	"github.com/raglens/raglens/pkg/models"
)

// Store is a type alias for the internal Store interface, exposed in pkg/ so
// embedders can reference the sink without importing internal/ directly.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Search collaborator ─────────────────────────────────────

// SearchClient performs nearest-neighbor lookup against the external search
// index. Chunking, embedding, and ranking live behind this boundary; RagLens
// only sees ordered passages. Fewer than limit results is valid (sparse
// index); order is retrieval-rank order and must not be disturbed.
type SearchClient interface {
	Search(ctx context.Context, query string, limit int) ([]models.Passage, error)
}

// ── Completion collaborator ─────────────────────────────────

// CompletionClient sends one prompt to the external LLM completion endpoint.
// No streaming: the pipeline needs only the final string.
type CompletionClient interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}

// ── Pipeline service ────────────────────────────────────────

// QueryService is the orchestrator surface consumed by the HTTP handlers and
// the evaluation harness. One call = one independent instrumented invocation.
type QueryService interface {
	// Query runs retrieve → (optional guardrail filter) → generate and
	// returns the completion along with the record tree's identifier.
	Query(ctx context.Context, q string) (*models.QueryResult, error)

	// App returns the application identifier this pipeline is bound to.
	App() string
}
