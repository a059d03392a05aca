// Package record implements the instrumentation recorder: every pipeline
// step runs inside an explicit Begin/finish pair that captures inputs,
// output, timing, and call nesting into an immutable CallRecord tree, one
// tree per top-level invocation.
//
// Nesting is carried through context.Context, so a step that invokes other
// instrumented steps produces child records at unbounded depth. A tree is
// owned by the goroutine running its invocation; concurrent top-level calls
// build independent trees and never cross-link.
package record

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/raglens/raglens/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("raglens")

type recordKey struct{}

// Finish finalizes a record with the step's output or error, appends it as
// the last child of its parent (sibling order = invocation order for the
// sequential calls a tree captures), and returns the finalized record.
// Calling it more than once is a no-op after the first.
type Finish func(output any, err error) *models.CallRecord

// Tree accumulates the call records of one top-level invocation.
type Tree struct {
	root *models.CallRecord
}

// NewTree creates an empty record tree for one invocation.
func NewTree() *Tree { return &Tree{} }

// Root returns the finalized top-level record, or nil if the outermost
// step has not finished yet.
func (t *Tree) Root() *models.CallRecord { return t.root }

// Begin opens an instrumented step. The returned context carries the new
// record so nested Begin calls attach as children; the returned Finish must
// be called exactly once when the step returns or fails.
//
// Each record is mirrored to an OpenTelemetry span on the global tracer.
// Mirroring is best-effort and never alters tree contents or step errors.
func (t *Tree) Begin(ctx context.Context, step string, inputs map[string]any) (context.Context, Finish) {
	parent, _ := ctx.Value(recordKey{}).(*models.CallRecord)

	rec := &models.CallRecord{
		ID:        uuid.NewString(),
		Step:      step,
		Inputs:    inputs,
		StartedAt: time.Now().UTC(),
	}

	ctx, span := tracer.Start(ctx, step,
		trace.WithAttributes(attribute.String("raglens.step", step)),
	)
	ctx = context.WithValue(ctx, recordKey{}, rec)

	done := false
	return ctx, func(output any, err error) *models.CallRecord {
		if done {
			return rec
		}
		done = true

		rec.EndedAt = time.Now().UTC()
		rec.Output = output
		if err != nil {
			rec.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if parent != nil {
			parent.Children = append(parent.Children, rec)
		} else if t.root == nil {
			t.root = rec
		}
		return rec
	}
}
