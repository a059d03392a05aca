package generation_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/raglens/raglens/internal/generation"
	"github.com/raglens/raglens/pkg/models"
)

type stubCompletion struct {
	answer string
	err    error
}

func (s stubCompletion) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	return s.answer, s.err
}

func TestBuildPrompt_EmbedsPassagesAndQuery(t *testing.T) {
	prompt := generation.BuildPrompt("what is raglens", []models.Passage{
		{Text: "first passage"},
		{Text: "second passage"},
	})

	if !strings.Contains(prompt, "first passage") || !strings.Contains(prompt, "second passage") {
		t.Errorf("prompt missing passages: %q", prompt)
	}
	if !strings.Contains(prompt, "what is raglens") {
		t.Errorf("prompt missing query: %q", prompt)
	}
}

func TestBuildPrompt_EmptyContextInstructsRefusal(t *testing.T) {
	prompt := generation.BuildPrompt("q", nil)

	if !strings.Contains(prompt, "No context was retrieved") {
		t.Errorf("empty-context prompt missing refusal instruction: %q", prompt)
	}
}

func TestGenerate_WrapsClientErrors(t *testing.T) {
	g := generation.NewGenerator(stubCompletion{err: errors.New("timeout")}, "test-model")

	_, err := g.Generate(context.Background(), "q", nil)
	var unavailable *models.UpstreamUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Generate() error = %v, want UpstreamUnavailableError", err)
	}
	if unavailable.Component != "generator" {
		t.Errorf("Component = %q, want generator", unavailable.Component)
	}
}

func TestGenerate_ReturnsCompletion(t *testing.T) {
	g := generation.NewGenerator(stubCompletion{answer: "fine"}, "test-model")

	answer, err := g.Generate(context.Background(), "q", []models.Passage{{Text: "p"}})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "fine" {
		t.Errorf("answer = %q", answer)
	}
}
