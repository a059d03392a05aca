// Package retrieval wraps the external search collaborator behind the
// retriever adapter: given a query, return ordered passages. Chunking,
// embedding, and similarity ranking all live on the far side of the search
// service; this package only carries passages across, in the order the
// index returned them.
package retrieval

import (
	"context"
	"time"

	"github.com/raglens/raglens/pkg/contracts"
	"github.com/raglens/raglens/pkg/models"
)

// DefaultTimeout bounds one search call. Adapter timeouts surface as
// UpstreamUnavailable, never as a guardrail decision.
const DefaultTimeout = 30 * time.Second

// Retriever adapts the search collaborator to the pipeline.
type Retriever struct {
	client  contracts.SearchClient
	limit   int
	timeout time.Duration
}

// NewRetriever creates a retriever requesting limit passages per query.
func NewRetriever(client contracts.SearchClient, limit int) *Retriever {
	if limit <= 0 {
		limit = 4
	}
	return &Retriever{client: client, limit: limit, timeout: DefaultTimeout}
}

// Limit returns the configured passages-per-query.
func (r *Retriever) Limit() int { return r.limit }

// Retrieve returns up to limit passages for the query, in retrieval-rank
// order. Fewer than limit (including zero, for a sparse index) is valid.
// Transport failures and timeouts surface as UpstreamUnavailable; retry
// policy, if any, belongs behind the SearchClient.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.Passage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	passages, err := r.client.Search(ctx, query, r.limit)
	if err != nil {
		return nil, &models.UpstreamUnavailableError{Component: "retriever", Err: err}
	}
	return passages, nil
}
