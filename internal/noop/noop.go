// Package noop implements worker.Processor for the job kinds that have
// a schema but no real processor yet: PROCESS_RESULTS, CLEANUP, and
// EXPORT decode and validate their payload but do no work, returning a
// stub success result.
package noop

import (
	"context"

	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/worker"
)

// Processor is a stub worker.Processor for one out-of-scope kind.
type Processor struct {
	kind jobs.JobKind
}

// New constructs a stub processor for kind.
func New(kind jobs.JobKind) *Processor {
	return &Processor{kind: kind}
}

func (p *Processor) Kind() jobs.JobKind { return p.kind }

// Process decodes and validates the payload (surfacing InvalidPayload
// the same way a real processor would) then immediately succeeds.
func (p *Processor) Process(ctx context.Context, job jobs.Job, hb worker.Heartbeat) (jobs.Result, error) {
	if _, err := jobs.DecodeAndValidate(p.kind, job.Payload); err != nil {
		return jobs.Result{}, jobs.Classify(jobs.KindInvalidPayload, err)
	}
	hb(100)
	return jobs.Result{
		Success:        true,
		Message:        "not implemented",
		ItemsProcessed: 0,
	}, nil
}
