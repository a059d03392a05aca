package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/raglens/raglens/pkg/models"
)

// HTTPSearchClient talks to a REST search service exposing
// POST /search {query, limit} → {results: [{text}]}.
type HTTPSearchClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSearchClient creates a search client for the given endpoint.
func NewHTTPSearchClient(endpoint, apiKey string) *HTTPSearchClient {
	return &HTTPSearchClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

// Search performs one nearest-neighbor lookup. Result order is the
// service's ranking order and is returned untouched.
func (c *HTTPSearchClient) Search(ctx context.Context, query string, limit int) ([]models.Passage, error) {
	body, err := json.Marshal(searchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	passages := make([]models.Passage, 0, len(out.Results))
	for _, r := range out.Results {
		passages = append(passages, models.Passage{Text: r.Text})
	}
	return passages, nil
}
