// Package generation wraps the external completion collaborator behind the
// generator adapter: build a prompt grounding the query in retrieved
// passages, call the model, return the completion string.
package generation

import (
	"context"
	"strings"
	"time"

	"github.com/raglens/raglens/pkg/contracts"
	"github.com/raglens/raglens/pkg/models"
)

// DefaultTimeout bounds one completion call.
const DefaultTimeout = 120 * time.Second

// Generator adapts the completion collaborator to the pipeline.
type Generator struct {
	client  contracts.CompletionClient
	modelID string
	timeout time.Duration
}

// NewGenerator creates a generator bound to one model identifier.
func NewGenerator(client contracts.CompletionClient, modelID string) *Generator {
	return &Generator{client: client, modelID: modelID, timeout: DefaultTimeout}
}

// ModelID returns the configured completion model identifier.
func (g *Generator) ModelID() string { return g.modelID }

// Generate produces a completion grounded in the given passages. Empty
// context is valid: the prompt tells the model to say it has no relevant
// information rather than invent an answer, and the call still returns a
// string. Transport failures surface as UpstreamUnavailable.
func (g *Generator) Generate(ctx context.Context, query string, passages []models.Passage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	answer, err := g.client.Complete(ctx, g.modelID, BuildPrompt(query, passages))
	if err != nil {
		return "", &models.UpstreamUnavailableError{Component: "generator", Err: err}
	}
	return answer, nil
}

// BuildPrompt embeds the query and its retrieved context into one prompt.
func BuildPrompt(query string, passages []models.Passage) string {
	var sb strings.Builder
	sb.WriteString("You answer questions using only the context provided below.\n")
	if len(passages) == 0 {
		sb.WriteString("No context was retrieved for this question. Say that you do not have relevant information; do not invent an answer.\n")
	} else {
		sb.WriteString("Context:\n")
		for _, p := range passages {
			sb.WriteString("---\n")
			sb.WriteString(p.Text)
			sb.WriteString("\n")
		}
		sb.WriteString("---\nIf the context does not contain the answer, say so instead of guessing.\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\nAnswer:")
	return sb.String()
}
