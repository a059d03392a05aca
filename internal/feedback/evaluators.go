package feedback

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/raglens/raglens/pkg/models"
)

// Completer is the slice of the completion collaborator the LLM judge needs.
type Completer interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
}

// ── Lexical overlap ─────────────────────────────────────────

// LexicalOverlap scores how much of the query's vocabulary a passage covers:
// |tokens(query) ∩ tokens(passage)| / |tokens(query)|, case-insensitive.
// Score-only and dependency-free, so it is safe as a guardrail evaluator.
// Expects args "query" and "passage".
func LexicalOverlap(name string) Evaluator {
	return Evaluator{
		Name: name,
		Score: func(ctx context.Context, args map[string]any) (float64, string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return 0, "", err
			}
			passage, err := stringArg(args, "passage")
			if err != nil {
				return 0, "", err
			}

			queryTokens := tokenize(query)
			if len(queryTokens) == 0 {
				return 0, "", nil
			}
			passageTokens := make(map[string]bool)
			for _, tok := range tokenize(passage) {
				passageTokens[tok] = true
			}

			hits := 0
			seen := make(map[string]bool)
			total := 0
			for _, tok := range queryTokens {
				if seen[tok] {
					continue
				}
				seen[tok] = true
				total++
				if passageTokens[tok] {
					hits++
				}
			}
			return float64(hits) / float64(total), "", nil
		},
	}
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// ── LLM judge ───────────────────────────────────────────────

// scoreLine matches the judge's final verdict, e.g. "SCORE: 8".
var scoreLine = regexp.MustCompile(`(?i)score:\s*([0-9]+(?:\.[0-9]+)?)`)

// LLMJudge scores via the completion collaborator: the prompt template is
// rendered with the bound args ({{name}} placeholders), the model answers
// with "SCORE: <0-10>" on its last line, and the score normalizes to [0,1].
// With rationale enabled the full judge response is kept as rationale text,
// which also disqualifies the evaluator from guardrail use.
func LLMJudge(name string, client Completer, modelID, promptTemplate string, withRationale bool) Evaluator {
	return Evaluator{
		Name:      name,
		Rationale: withRationale,
		Score: func(ctx context.Context, args map[string]any) (float64, string, error) {
			prompt := promptTemplate
			for argName, v := range args {
				prompt = strings.ReplaceAll(prompt, "{{"+argName+"}}", fmt.Sprintf("%v", v))
			}
			if withRationale {
				prompt += "\n\nExplain your reasoning, then end with a line of the form SCORE: <0-10>."
			} else {
				prompt += "\n\nRespond with only a line of the form SCORE: <0-10>."
			}

			out, err := client.Complete(ctx, modelID, prompt)
			if err != nil {
				return 0, "", fmt.Errorf("judge completion: %w", err)
			}

			score, err := parseJudgeScore(out)
			if err != nil {
				return 0, "", err
			}
			rationale := ""
			if withRationale {
				rationale = strings.TrimSpace(out)
			}
			return score, rationale, nil
		},
	}
}

func parseJudgeScore(out string) (float64, error) {
	m := scoreLine.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("judge response has no SCORE line: %q", truncate(out, 120))
	}
	raw, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("judge score %q: %w", m[1], err)
	}
	score := raw / 10
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ── Expression evaluators ───────────────────────────────────

// Expr compiles an expr-lang expression into a score-only evaluator. The
// bound args become the expression environment, so a spec with args "query"
// and "answer" can score e.g. `len(answer) > 0 ? 1.0 : 0.0`.
func Expr(name, src string) (Evaluator, error) {
	program, err := expr.Compile(src, expr.AsFloat64(), expr.AllowUndefinedVariables())
	if err != nil {
		return Evaluator{}, fmt.Errorf("compile feedback expression %s: %w", name, err)
	}
	return Evaluator{
		Name:  name,
		Score: exprScoreFunc(program),
	}, nil
}

func exprScoreFunc(program *vm.Program) ScoreFunc {
	return func(ctx context.Context, args map[string]any) (float64, string, error) {
		out, err := expr.Run(program, map[string]any(args))
		if err != nil {
			return 0, "", fmt.Errorf("run feedback expression: %w", err)
		}
		score, ok := out.(float64)
		if !ok {
			return 0, "", fmt.Errorf("feedback expression returned %T, want float64", out)
		}
		return score, "", nil
	}
}

// ── Helpers ─────────────────────────────────────────────────

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing evaluator arg %q", name)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case models.Passage:
		return s.Text, nil
	case map[string]any:
		// A passage decoded from a persisted record tree.
		if text, ok := s["text"].(string); ok {
			return text, nil
		}
		return fmt.Sprintf("%v", v), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
