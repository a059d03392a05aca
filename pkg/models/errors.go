package models

// ── Error taxonomy ──────────────────────────────────────────

// UpstreamUnavailableError is returned when an external collaborator (search
// or completion service) fails or times out. The pipeline surfaces it to the
// caller of Query without retrying; retry policy belongs to the adapter.
type UpstreamUnavailableError struct {
	Component string // "retriever", "generator" or "guardrail"
	Err       error
}

func (e *UpstreamUnavailableError) Error() string {
	return "upstream unavailable: " + e.Component + ": " + e.Err.Error()
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// SelectionNotFoundError is returned when a feedback selector matches no data
// in a record tree. It is fatal to that one scoring operation only; a silent
// default would corrupt aggregate scores.
type SelectionNotFoundError struct {
	Selector string
	Step     string
}

func (e *SelectionNotFoundError) Error() string {
	msg := "feedback selection matched no data: " + e.Selector
	if e.Step != "" {
		msg += " (step " + e.Step + ")"
	}
	return msg
}

// InvalidGuardrailSpecError is returned at guardrail construction time when
// the spec cannot drive a runtime decision, e.g. the evaluator declares
// rationale output. Guardrail decisions must be cheap and synchronous, so
// only a bare numeric score is valid.
type InvalidGuardrailSpecError struct {
	Reason string
}

func (e *InvalidGuardrailSpecError) Error() string {
	return "invalid guardrail spec: " + e.Reason
}
