// Package feedback implements the evaluation framework: named scoring
// functions bound to declarative selections over a CallRecord tree.
//
// Selection is a small closed set of selector variants walked explicitly —
// no reflective path expressions. A selector that matches nothing fails with
// models.SelectionNotFoundError rather than defaulting, since a silent zero
// would corrupt aggregate scores downstream.
package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raglens/raglens/pkg/models"
)

// ── Selectors ───────────────────────────────────────────────

// SelectorKind enumerates the closed set of record-tree selections.
type SelectorKind string

const (
	// SelectRootInput selects one named input binding of the root call.
	SelectRootInput SelectorKind = "root_input"
	// SelectRootOutput selects the final output of the root call.
	SelectRootOutput SelectorKind = "root_output"
	// SelectDescendantOutputs collects the outputs of every descendant
	// call whose step name matches, in invocation order.
	SelectDescendantOutputs SelectorKind = "descendant_outputs"
)

// Selector names one slice of a CallRecord tree.
type Selector struct {
	Kind SelectorKind `json:"kind"`
	// Param is the input binding name for SelectRootInput.
	Param string `json:"param,omitempty"`
	// Step is the step name for SelectDescendantOutputs. Selectors should
	// be built from the pipeline's exported step constants so a renamed
	// step cannot silently desynchronize from its selector.
	Step string `json:"step,omitempty"`
	// Each expands a selected list value into one selection per element,
	// enabling per-element scoring with aggregation (e.g. scoring each
	// retrieved passage and averaging).
	Each bool `json:"each,omitempty"`
}

// RootInput selects the named input binding of the root call.
func RootInput(param string) Selector {
	return Selector{Kind: SelectRootInput, Param: param}
}

// RootOutput selects the final output of the root call.
func RootOutput() Selector {
	return Selector{Kind: SelectRootOutput}
}

// DescendantOutputs collects outputs of all descendant calls named step.
func DescendantOutputs(step string) Selector {
	return Selector{Kind: SelectDescendantOutputs, Step: step}
}

// EachOf marks a selector for per-element expansion of list outputs.
func EachOf(s Selector) Selector {
	s.Each = true
	return s
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectRootInput:
		return "root_input." + s.Param
	case SelectRootOutput:
		return "root_output"
	case SelectDescendantOutputs:
		return "descendant_outputs." + s.Step
	default:
		return string(s.Kind)
	}
}

// Select resolves the selector against a record tree. The result has one
// entry per selected value; multi-valued selections preserve invocation
// order. Matching nothing is an error, never an empty default.
func (s Selector) Select(root *models.CallRecord) ([]any, error) {
	if root == nil {
		return nil, &models.SelectionNotFoundError{Selector: s.String()}
	}

	var values []any
	switch s.Kind {
	case SelectRootInput:
		v, ok := root.Inputs[s.Param]
		if !ok {
			return nil, &models.SelectionNotFoundError{Selector: s.String()}
		}
		values = []any{v}

	case SelectRootOutput:
		if root.Output == nil {
			return nil, &models.SelectionNotFoundError{Selector: s.String()}
		}
		values = []any{root.Output}

	case SelectDescendantOutputs:
		for _, child := range root.Children {
			child.Walk(func(r *models.CallRecord) bool {
				if r.Step == s.Step {
					values = append(values, r.Output)
				}
				return true
			})
		}
		if len(values) == 0 {
			return nil, &models.SelectionNotFoundError{Selector: s.String(), Step: s.Step}
		}

	default:
		return nil, fmt.Errorf("unknown selector kind: %s", s.Kind)
	}

	if s.Each {
		values = flatten(values)
		if len(values) == 0 {
			return nil, &models.SelectionNotFoundError{Selector: s.String(), Step: s.Step}
		}
	}
	return values, nil
}

// flatten expands list-shaped values into their elements. Passages reduce
// to their text in both shapes they can arrive in: live models.Passage
// slices, and the map form they decode into after a JSON round-trip through
// the sink. Both paths must score identically or persisted and in-memory
// runs would aggregate differently.
func flatten(values []any) []any {
	var out []any
	for _, v := range values {
		switch vv := v.(type) {
		case []any:
			for _, e := range vv {
				out = append(out, unwrapPassage(e))
			}
		case []string:
			for _, e := range vv {
				out = append(out, e)
			}
		case []models.Passage:
			for _, e := range vv {
				out = append(out, e.Text)
			}
		default:
			out = append(out, unwrapPassage(v))
		}
	}
	return out
}

// unwrapPassage reduces a passage value to its text. JSON-decoded record
// trees carry passages as map[string]any.
func unwrapPassage(v any) any {
	switch p := v.(type) {
	case models.Passage:
		return p.Text
	case map[string]any:
		if text, ok := p["text"].(string); ok {
			return text
		}
	}
	return v
}

// ── Evaluators ──────────────────────────────────────────────

// ScoreFunc scores one bound argument set. It must be a pure function of its
// arguments: same args, same score. Rationale text is optional and empty for
// score-only evaluators.
type ScoreFunc func(ctx context.Context, args map[string]any) (score float64, rationale string, err error)

// Evaluator is a named, pure scoring function. Rationale declares whether
// the evaluator produces rationale text; guardrails reject evaluators that
// do, since runtime decisions must be cheap and score-only.
type Evaluator struct {
	Name      string
	Rationale bool
	Score     ScoreFunc
}

// ── Feedback specs ──────────────────────────────────────────

// Aggregation names the function applied when a selection is multi-valued.
type Aggregation string

const (
	AggMean Aggregation = "mean"
	AggMin  Aggregation = "min"
	AggMax  Aggregation = "max"
)

// Arg binds one evaluator parameter name to a tree selection.
type Arg struct {
	Name     string   `json:"name"`
	Selector Selector `json:"selector"`
}

// Spec is a named evaluator plus the selections that feed it. Immutable once
// constructed.
type Spec struct {
	Evaluator   Evaluator
	Args        []Arg
	Aggregation Aggregation // empty = mean
}

// NewSpec builds a feedback spec with mean aggregation.
func NewSpec(ev Evaluator, args ...Arg) Spec {
	return Spec{Evaluator: ev, Args: args, Aggregation: AggMean}
}

// ── Evaluation ──────────────────────────────────────────────

// Evaluate applies one spec to one recorded run. Single-valued selections
// broadcast; multi-valued selections of equal length zip, producing one
// evaluator call per row, aggregated per the spec. Pure: evaluating the same
// spec twice on the same tree yields the same score and rationale.
func Evaluate(ctx context.Context, spec Spec, run *models.RunRecord) (*models.FeedbackResult, error) {
	if run == nil || run.Root == nil {
		return nil, &models.SelectionNotFoundError{Selector: "root"}
	}

	selected := make([][]any, len(spec.Args))
	rows := 1
	for i, arg := range spec.Args {
		values, err := arg.Selector.Select(run.Root)
		if err != nil {
			return nil, err
		}
		selected[i] = values
		if len(values) > 1 {
			if rows > 1 && len(values) != rows {
				return nil, fmt.Errorf("feedback %s: selection lengths disagree (%d vs %d)",
					spec.Evaluator.Name, rows, len(values))
			}
			rows = len(values)
		}
	}

	scores := make([]float64, 0, rows)
	var rationales []string
	for row := 0; row < rows; row++ {
		args := make(map[string]any, len(spec.Args))
		for i, arg := range spec.Args {
			values := selected[i]
			if len(values) == 1 {
				args[arg.Name] = values[0]
			} else {
				args[arg.Name] = values[row]
			}
		}

		score, rationale, err := spec.Evaluator.Score(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("feedback %s: %w", spec.Evaluator.Name, err)
		}
		scores = append(scores, score)
		if rationale != "" {
			rationales = append(rationales, rationale)
		}
	}

	return &models.FeedbackResult{
		ID:        uuid.NewString(),
		App:       run.App,
		RunID:     run.ID,
		Evaluator: spec.Evaluator.Name,
		Score:     aggregate(scores, spec.Aggregation),
		Rationale: strings.Join(rationales, "\n"),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func aggregate(scores []float64, agg Aggregation) float64 {
	if len(scores) == 0 {
		return 0
	}
	switch agg {
	case AggMin:
		m := scores[0]
		for _, s := range scores[1:] {
			if s < m {
				m = s
			}
		}
		return m
	case AggMax:
		m := scores[0]
		for _, s := range scores[1:] {
			if s > m {
				m = s
			}
		}
		return m
	default: // mean
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		return sum / float64(len(scores))
	}
}
