// Package guardrail implements runtime context filtering: each retrieved
// passage is scored by a score-only feedback evaluator, and passages under
// the threshold are dropped before they reach the generator.
//
// Filtering runs synchronously on the request path, unlike the evaluation
// harness's post-hoc feedback, so the spec is validated up front and the
// evaluator must be cheap: rationale-producing evaluators are rejected at
// construction time.
package guardrail

import (
	"context"
	"fmt"

	"github.com/raglens/raglens/internal/feedback"
	"github.com/raglens/raglens/internal/record"
	"github.com/raglens/raglens/pkg/models"
)

// StepScore is the record step name of one per-passage guardrail decision.
// Every evaluation is an instrumented sub-step so decisions stay inspectable
// in the record tree.
const StepScore = "guardrail_score"

// Spec composes a score-only evaluator with a threshold and the evaluator
// arg names to bind the query and the candidate passage to.
type Spec struct {
	Evaluator feedback.Evaluator
	// Threshold is the minimum score a passage must reach, in [0,1].
	Threshold float64
	// QueryArg and PassageArg name the evaluator parameters receiving the
	// original query and the candidate passage. Defaults: "query",
	// "passage".
	QueryArg   string
	PassageArg string
}

// Filter applies a validated guardrail spec to retrieved passage lists.
type Filter struct {
	spec Spec
}

// New validates the spec. Evaluators that declare rationale output are
// rejected: a runtime guardrail decision is a single number, nothing more.
func New(spec Spec) (*Filter, error) {
	if spec.Evaluator.Score == nil {
		return nil, &models.InvalidGuardrailSpecError{Reason: "evaluator has no score function"}
	}
	if spec.Evaluator.Rationale {
		return nil, &models.InvalidGuardrailSpecError{
			Reason: fmt.Sprintf("evaluator %s declares rationale output; guardrails are score-only", spec.Evaluator.Name),
		}
	}
	if spec.Threshold < 0 || spec.Threshold > 1 {
		return nil, &models.InvalidGuardrailSpecError{
			Reason: fmt.Sprintf("threshold %v outside [0,1]", spec.Threshold),
		}
	}
	if spec.QueryArg == "" {
		spec.QueryArg = "query"
	}
	if spec.PassageArg == "" {
		spec.PassageArg = "passage"
	}
	return &Filter{spec: spec}, nil
}

// Threshold returns the configured minimum score.
func (f *Filter) Threshold() float64 { return f.spec.Threshold }

// Evaluator returns the name of the wrapped evaluator.
func (f *Filter) Evaluator() string { return f.spec.Evaluator.Name }

// Filter scores every passage independently with (query, passage) and keeps
// those scoring at or above the threshold. Retained passages preserve
// retrieval order; an empty result is valid and the orchestrator must
// tolerate generating from empty context. Each evaluation becomes a
// StepScore child record on the supplied tree.
//
// An evaluator failure surfaces as UpstreamUnavailable with component
// "guardrail": a judge-backed evaluator is an upstream collaborator, and
// Query never fails with anything else on the happy-input path.
func (f *Filter) Filter(ctx context.Context, tree *record.Tree, query string, passages []models.Passage) ([]models.Passage, error) {
	kept := make([]models.Passage, 0, len(passages))
	for _, p := range passages {
		score, err := f.scorePassage(ctx, tree, query, p)
		if err != nil {
			return nil, &models.UpstreamUnavailableError{
				Component: "guardrail",
				Err:       fmt.Errorf("%s: %w", f.spec.Evaluator.Name, err),
			}
		}
		if score >= f.spec.Threshold {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func (f *Filter) scorePassage(ctx context.Context, tree *record.Tree, query string, p models.Passage) (float64, error) {
	var finish record.Finish
	if tree != nil {
		ctx, finish = tree.Begin(ctx, StepScore, map[string]any{
			f.spec.QueryArg:   query,
			f.spec.PassageArg: p.Text,
		})
	}

	score, _, err := f.spec.Evaluator.Score(ctx, map[string]any{
		f.spec.QueryArg:   query,
		f.spec.PassageArg: p.Text,
	})
	if finish != nil {
		finish(score, err)
	}
	return score, err
}
