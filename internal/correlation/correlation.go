// Package correlation threads a per-task identity bundle through
// explicit context.Context values instead of ambient storage. Logs,
// metrics, and child jobs all inherit the bundle; a child task gets the
// parent's correlation fields plus its own freshly minted span id.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Bundle is the per-task logical context propagated across async
// boundaries: broker reservation, processor invocation, outbound catalog
// and LLM calls, and any child job enqueued from within a job.
type Bundle struct {
	CorrelationID string
	ParentID      string
	TraceID       string
	SpanID        string
}

// New mints a fresh root bundle with a newly generated correlation and
// trace id.
func New() Bundle {
	id := uuid.NewString()
	return Bundle{CorrelationID: id, TraceID: id, SpanID: uuid.NewString()}
}

// FromCorrelationID builds a root bundle around a caller-supplied
// correlation id (e.g. one carried on a job payload), minting a fresh
// span id for this task.
func FromCorrelationID(correlationID string) Bundle {
	if correlationID == "" {
		return New()
	}
	return Bundle{CorrelationID: correlationID, TraceID: correlationID, SpanID: uuid.NewString()}
}

// Child derives a new bundle for a task started from within this one: the
// correlation and trace ids are inherited, the parent id becomes this
// bundle's span id, and a fresh span id is minted.
func (b Bundle) Child() Bundle {
	return Bundle{
		CorrelationID: b.CorrelationID,
		ParentID:      b.SpanID,
		TraceID:       b.TraceID,
		SpanID:        uuid.NewString(),
	}
}

// WithContext binds the bundle onto ctx.
func WithContext(ctx context.Context, b Bundle) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext returns the bundle bound to ctx, or a fresh root bundle if
// none was bound (so callers never need a nil check).
func FromContext(ctx context.Context) Bundle {
	if b, ok := ctx.Value(ctxKey{}).(Bundle); ok {
		return b
	}
	return New()
}
