package guardrail_test

import (
	"context"
	"errors"
	"testing"

	"github.com/raglens/raglens/internal/feedback"
	"github.com/raglens/raglens/internal/guardrail"
	"github.com/raglens/raglens/internal/record"
	"github.com/raglens/raglens/pkg/models"
)

// scoreByText maps each passage text to a fixed score.
func scoreByText(scores map[string]float64) feedback.Evaluator {
	return feedback.Evaluator{
		Name: "scripted",
		Score: func(ctx context.Context, args map[string]any) (float64, string, error) {
			text, _ := args["passage"].(string)
			return scores[text], "", nil
		},
	}
}

func passages(texts ...string) []models.Passage {
	out := make([]models.Passage, len(texts))
	for i, t := range texts {
		out[i] = models.Passage{Text: t}
	}
	return out
}

// ─── Construction ────────────────────────────────────────────

func TestNew_RejectsRationaleEvaluator(t *testing.T) {
	ev := feedback.Evaluator{
		Name:      "judge",
		Rationale: true,
		Score: func(ctx context.Context, args map[string]any) (float64, string, error) {
			return 1, "because", nil
		},
	}

	_, err := guardrail.New(guardrail.Spec{Evaluator: ev, Threshold: 0.5})
	var invalid *models.InvalidGuardrailSpecError
	if !errors.As(err, &invalid) {
		t.Fatalf("New() error = %v, want InvalidGuardrailSpecError", err)
	}
}

func TestNew_RejectsThresholdOutsideUnitInterval(t *testing.T) {
	ev := scoreByText(nil)
	for _, threshold := range []float64{-0.1, 1.1} {
		_, err := guardrail.New(guardrail.Spec{Evaluator: ev, Threshold: threshold})
		var invalid *models.InvalidGuardrailSpecError
		if !errors.As(err, &invalid) {
			t.Errorf("New(threshold=%v) error = %v, want InvalidGuardrailSpecError", threshold, err)
		}
	}
}

func TestNew_RejectsMissingScoreFunc(t *testing.T) {
	_, err := guardrail.New(guardrail.Spec{Evaluator: feedback.Evaluator{Name: "empty"}, Threshold: 0.5})
	var invalid *models.InvalidGuardrailSpecError
	if !errors.As(err, &invalid) {
		t.Fatalf("New() error = %v, want InvalidGuardrailSpecError", err)
	}
}

// ─── Filtering ───────────────────────────────────────────────

func TestFilter_KeepsOrderedSubsequence(t *testing.T) {
	ev := scoreByText(map[string]float64{"a": 0.9, "b": 0.8, "c": 0.6, "d": 0.4})
	guard, err := guardrail.New(guardrail.Spec{Evaluator: ev, Threshold: 0.75})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	kept, err := guard.Filter(context.Background(), nil, "q", passages("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(kept) != 2 || kept[0].Text != "a" || kept[1].Text != "b" {
		t.Errorf("Filter() = %v, want [a b]", kept)
	}
}

func TestFilter_ThresholdZeroKeepsAll(t *testing.T) {
	ev := scoreByText(map[string]float64{"a": 0, "b": 0.5})
	guard, _ := guardrail.New(guardrail.Spec{Evaluator: ev, Threshold: 0})

	kept, err := guard.Filter(context.Background(), nil, "q", passages("a", "b"))
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(kept) != 2 {
		t.Errorf("Filter() kept %d passages, want 2", len(kept))
	}
}

func TestFilter_AllBelowThresholdYieldsEmpty(t *testing.T) {
	ev := scoreByText(map[string]float64{"a": 0.1, "b": 0.2})
	guard, _ := guardrail.New(guardrail.Spec{Evaluator: ev, Threshold: 0.9})

	kept, err := guard.Filter(context.Background(), nil, "q", passages("a", "b"))
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if len(kept) != 0 {
		t.Errorf("Filter() kept %d passages, want 0", len(kept))
	}
}

func TestFilter_EvaluatorErrorIsUpstreamUnavailable(t *testing.T) {
	boom := errors.New("judge endpoint 503")
	ev := feedback.Evaluator{
		Name: "broken",
		Score: func(ctx context.Context, args map[string]any) (float64, string, error) {
			return 0, "", boom
		},
	}
	guard, _ := guardrail.New(guardrail.Spec{Evaluator: ev, Threshold: 0.5})

	_, err := guard.Filter(context.Background(), nil, "q", passages("a"))
	var unavailable *models.UpstreamUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Filter() error = %v, want UpstreamUnavailableError", err)
	}
	if unavailable.Component != "guardrail" {
		t.Errorf("Component = %q, want guardrail", unavailable.Component)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Filter() error = %v, does not wrap %v", err, boom)
	}
}

func TestFilter_RecordsScoreSteps(t *testing.T) {
	ev := scoreByText(map[string]float64{"a": 0.9, "b": 0.1})
	guard, _ := guardrail.New(guardrail.Spec{Evaluator: ev, Threshold: 0.5})

	tree := record.NewTree()
	ctx, finish := tree.Begin(context.Background(), "query", map[string]any{"query": "q"})

	if _, err := guard.Filter(ctx, tree, "q", passages("a", "b")); err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	finish("done", nil)

	root := tree.Root()
	if root == nil {
		t.Fatal("tree has no root after finish")
	}
	var steps []string
	for _, c := range root.Children {
		steps = append(steps, c.Step)
	}
	if len(steps) != 2 {
		t.Fatalf("root has %d children, want 2 guardrail score steps (got %v)", len(steps), steps)
	}
	for _, s := range steps {
		if s != guardrail.StepScore {
			t.Errorf("child step = %q, want %q", s, guardrail.StepScore)
		}
	}
}
