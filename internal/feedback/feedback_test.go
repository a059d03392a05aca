package feedback_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/raglens/raglens/internal/feedback"
	"github.com/raglens/raglens/pkg/models"
)

// testRun builds a record tree shaped like one pipeline invocation:
// query root with retrieve_context and generate_completion children.
func testRun(passages []models.Passage, answer string) *models.RunRecord {
	now := time.Now().UTC()
	root := &models.CallRecord{
		ID:        "root",
		Step:      "query",
		Inputs:    map[string]any{"query": "what is raglens"},
		Output:    answer,
		StartedAt: now,
		EndedAt:   now,
		Children: []*models.CallRecord{
			{
				ID:        "ret",
				Step:      "retrieve_context",
				Inputs:    map[string]any{"query": "what is raglens", "limit": 4},
				Output:    passages,
				StartedAt: now,
				EndedAt:   now,
			},
			{
				ID:        "gen",
				Step:      "generate_completion",
				Inputs:    map[string]any{"query": "what is raglens"},
				Output:    answer,
				StartedAt: now,
				EndedAt:   now,
			},
		},
	}
	return &models.RunRecord{ID: "run-1", App: "test:v1", Query: "what is raglens", Root: root, CreatedAt: now}
}

// constEvaluator returns a fixed sequence of scores, one per call.
func constEvaluator(name string, scores ...float64) feedback.Evaluator {
	i := 0
	return feedback.Evaluator{
		Name: name,
		Score: func(ctx context.Context, args map[string]any) (float64, string, error) {
			s := scores[i%len(scores)]
			i++
			return s, "", nil
		},
	}
}

// ─── Selectors ───────────────────────────────────────────────

func TestSelect_RootInput(t *testing.T) {
	run := testRun(nil, "an answer")

	vals, err := feedback.RootInput("query").Select(run.Root)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(vals) != 1 || vals[0] != "what is raglens" {
		t.Errorf("Select() = %v, want [what is raglens]", vals)
	}
}

func TestSelect_RootInput_MissingParam(t *testing.T) {
	run := testRun(nil, "an answer")

	_, err := feedback.RootInput("no_such_param").Select(run.Root)
	var notFound *models.SelectionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Select() error = %v, want SelectionNotFoundError", err)
	}
}

func TestSelect_RootOutput(t *testing.T) {
	run := testRun(nil, "an answer")

	vals, err := feedback.RootOutput().Select(run.Root)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(vals) != 1 || vals[0] != "an answer" {
		t.Errorf("Select() = %v, want [an answer]", vals)
	}
}

func TestSelect_DescendantOutputs_ExcludesRoot(t *testing.T) {
	// Root and one child share the step name; only the child matches.
	now := time.Now().UTC()
	root := &models.CallRecord{
		ID:     "root",
		Step:   "query",
		Output: "root output",
		Children: []*models.CallRecord{
			{ID: "child", Step: "query", Output: "child output", StartedAt: now, EndedAt: now},
		},
		StartedAt: now,
		EndedAt:   now,
	}

	vals, err := feedback.DescendantOutputs("query").Select(root)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(vals) != 1 || vals[0] != "child output" {
		t.Errorf("Select() = %v, want [child output]", vals)
	}
}

func TestSelect_DescendantOutputs_NoMatch(t *testing.T) {
	run := testRun(nil, "an answer")

	_, err := feedback.DescendantOutputs("no_such_step").Select(run.Root)
	var notFound *models.SelectionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Select() error = %v, want SelectionNotFoundError", err)
	}
}

func TestSelect_Each_ExpandsPassages(t *testing.T) {
	passages := []models.Passage{{Text: "first"}, {Text: "second"}, {Text: "third"}}
	run := testRun(passages, "an answer")

	sel := feedback.EachOf(feedback.DescendantOutputs("retrieve_context"))
	vals, err := sel.Select(run.Root)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("Select() returned %d values, want 3", len(vals))
	}
	if vals[0] != "first" || vals[2] != "third" {
		t.Errorf("Select() = %v, order not preserved", vals)
	}
}

func TestSelect_Each_UnwrapsPersistedPassages(t *testing.T) {
	// After a JSON round-trip through the sink, passage lists decode as
	// []any of map[string]any instead of []models.Passage. Selection must
	// still expand them to plain text.
	run := testRun(nil, "an answer")
	run.Root.Children[0].Output = []any{
		map[string]any{"text": "first"},
		map[string]any{"text": "second"},
	}

	sel := feedback.EachOf(feedback.DescendantOutputs("retrieve_context"))
	vals, err := sel.Select(run.Root)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("Select() returned %d values, want 2", len(vals))
	}
	if vals[0] != "first" || vals[1] != "second" {
		t.Errorf("Select() = %v, want [first second]", vals)
	}
}

// ─── Evaluation ──────────────────────────────────────────────

func TestEvaluate_BroadcastSingleValued(t *testing.T) {
	run := testRun([]models.Passage{{Text: "only"}}, "an answer")

	calls := 0
	ev := feedback.Evaluator{
		Name: "probe",
		Score: func(ctx context.Context, args map[string]any) (float64, string, error) {
			calls++
			if args["query"] != "what is raglens" {
				t.Errorf("args[query] = %v", args["query"])
			}
			if args["answer"] != "an answer" {
				t.Errorf("args[answer] = %v", args["answer"])
			}
			return 0.5, "", nil
		},
	}

	spec := feedback.NewSpec(ev,
		feedback.Arg{Name: "query", Selector: feedback.RootInput("query")},
		feedback.Arg{Name: "answer", Selector: feedback.RootOutput()},
	)
	res, err := feedback.Evaluate(context.Background(), spec, run)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("evaluator called %d times, want 1", calls)
	}
	if res.Score != 0.5 {
		t.Errorf("Score = %v, want 0.5", res.Score)
	}
	if res.RunID != "run-1" || res.App != "test:v1" {
		t.Errorf("result attribution = (%s, %s)", res.App, res.RunID)
	}
}

func TestEvaluate_MultiValuedMeanAggregation(t *testing.T) {
	passages := []models.Passage{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	run := testRun(passages, "an answer")

	spec := feedback.NewSpec(constEvaluator("seq", 0.2, 0.4, 0.6),
		feedback.Arg{Name: "query", Selector: feedback.RootInput("query")},
		feedback.Arg{Name: "passage", Selector: feedback.EachOf(feedback.DescendantOutputs("retrieve_context"))},
	)
	res, err := feedback.Evaluate(context.Background(), spec, run)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	want := (0.2 + 0.4 + 0.6) / 3
	if diff := res.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Score = %v, want %v", res.Score, want)
	}
}

func TestEvaluate_MinMaxAggregation(t *testing.T) {
	passages := []models.Passage{{Text: "a"}, {Text: "b"}}
	run := testRun(passages, "an answer")

	for _, tc := range []struct {
		agg  feedback.Aggregation
		want float64
	}{
		{feedback.AggMin, 0.2},
		{feedback.AggMax, 0.8},
	} {
		spec := feedback.NewSpec(constEvaluator("seq", 0.2, 0.8),
			feedback.Arg{Name: "query", Selector: feedback.RootInput("query")},
			feedback.Arg{Name: "passage", Selector: feedback.EachOf(feedback.DescendantOutputs("retrieve_context"))},
		)
		spec.Aggregation = tc.agg

		res, err := feedback.Evaluate(context.Background(), spec, run)
		if err != nil {
			t.Fatalf("Evaluate(%s) error = %v", tc.agg, err)
		}
		if res.Score != tc.want {
			t.Errorf("Evaluate(%s).Score = %v, want %v", tc.agg, res.Score, tc.want)
		}
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	run := testRun([]models.Passage{{Text: "the raglens pipeline"}}, "an answer")

	spec := feedback.NewSpec(feedback.LexicalOverlap("overlap"),
		feedback.Arg{Name: "query", Selector: feedback.RootInput("query")},
		feedback.Arg{Name: "passage", Selector: feedback.EachOf(feedback.DescendantOutputs("retrieve_context"))},
	)

	first, err := feedback.Evaluate(context.Background(), spec, run)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	second, err := feedback.Evaluate(context.Background(), spec, run)
	if err != nil {
		t.Fatalf("Evaluate() second call error = %v", err)
	}
	if first.Score != second.Score {
		t.Errorf("scores differ across evaluations: %v vs %v", first.Score, second.Score)
	}
}

func TestEvaluate_PersistedTreeScoresLikeLiveTree(t *testing.T) {
	passages := []models.Passage{
		{Text: "raglens is a pipeline"},
		{Text: "unrelated text"},
	}
	live := testRun(passages, "an answer")

	raw, err := json.Marshal(live)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var persisted models.RunRecord
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	spec := feedback.NewSpec(feedback.LexicalOverlap("overlap"),
		feedback.Arg{Name: "query", Selector: feedback.RootInput("query")},
		feedback.Arg{Name: "passage", Selector: feedback.EachOf(feedback.DescendantOutputs("retrieve_context"))},
	)

	liveRes, err := feedback.Evaluate(context.Background(), spec, live)
	if err != nil {
		t.Fatalf("Evaluate(live) error = %v", err)
	}
	persistedRes, err := feedback.Evaluate(context.Background(), spec, &persisted)
	if err != nil {
		t.Fatalf("Evaluate(persisted) error = %v", err)
	}
	if liveRes.Score != persistedRes.Score {
		t.Errorf("persisted-tree score %v diverges from live-tree score %v",
			persistedRes.Score, liveRes.Score)
	}
}

func TestEvaluate_SelectorMissFails(t *testing.T) {
	run := testRun(nil, "an answer")

	spec := feedback.NewSpec(constEvaluator("seq", 1),
		feedback.Arg{Name: "passage", Selector: feedback.DescendantOutputs("no_such_step")},
	)
	_, err := feedback.Evaluate(context.Background(), spec, run)
	var notFound *models.SelectionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Evaluate() error = %v, want SelectionNotFoundError", err)
	}
}

// ─── Stock evaluators ────────────────────────────────────────

func TestLexicalOverlap(t *testing.T) {
	ev := feedback.LexicalOverlap("overlap")

	score, _, err := ev.Score(context.Background(), map[string]any{
		"query":   "what is raglens",
		"passage": "raglens is a pipeline",
	})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	// "is" and "raglens" out of {"what", "is", "raglens"}.
	want := 2.0 / 3.0
	if diff := score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Score = %v, want %v", score, want)
	}
}

type scriptedCompleter struct {
	response string
	prompt   string
}

func (s *scriptedCompleter) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	s.prompt = prompt
	return s.response, nil
}

func TestLLMJudge_ParsesScoreAndRationale(t *testing.T) {
	client := &scriptedCompleter{response: "The answer covers the question well.\nSCORE: 8"}
	ev := feedback.LLMJudge("answer_relevance", client, "test-model",
		"Question: {{query}}\nAnswer: {{answer}}", true)

	if !ev.Rationale {
		t.Fatal("LLMJudge with rationale should declare Rationale = true")
	}

	score, rationale, err := ev.Score(context.Background(), map[string]any{
		"query":  "what is raglens",
		"answer": "a pipeline",
	})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if score != 0.8 {
		t.Errorf("Score = %v, want 0.8 (8/10)", score)
	}
	if rationale == "" {
		t.Error("rationale is empty, want judge output")
	}
	if !strings.Contains(client.prompt, "what is raglens") {
		t.Errorf("prompt did not embed the query: %q", client.prompt)
	}
}

func TestExprEvaluator(t *testing.T) {
	ev, err := feedback.Expr("length_ratio", `len(answer) > 10 ? 1.0 : 0.0`)
	if err != nil {
		t.Fatalf("Expr() error = %v", err)
	}

	score, _, err := ev.Score(context.Background(), map[string]any{"answer": "a long enough answer"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if score != 1.0 {
		t.Errorf("Score = %v, want 1.0", score)
	}

	score, _, err = ev.Score(context.Background(), map[string]any{"answer": "short"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if score != 0.0 {
		t.Errorf("Score = %v, want 0.0", score)
	}
}
