package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/pipeline/internal/dlq"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/obs"
	"github.com/reviewharvest/pipeline/internal/queue"
)

// Reaper periodically sweeps every registered queue for reservations
// whose visibility timeout lapsed without a heartbeat. A stall consumes
// an attempt, so the reaper also holds each kind's dead-letter manager:
// a job that exhausts its attempts by stalling is recorded there before
// the queue terminally fails it, the same ordering Nack uses.
type Reaper struct {
	queues   map[string]*queue.Queue
	dlqs     map[string]*dlq.Manager
	log      *zap.Logger
	interval time.Duration
}

// NewReaper constructs a Reaper over the given kind->Queue and
// kind->DLQ-manager maps (dlqs may be nil in tests that don't care
// about dead-lettering).
func NewReaper(queues map[string]*queue.Queue, dlqs map[string]*dlq.Manager, log *zap.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reaper{queues: queues, dlqs: dlqs, log: log, interval: interval}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	for kind, q := range r.queues {
		var onTerminal queue.TerminalFunc
		if m := r.dlqs[kind]; m != nil {
			onTerminal = func(ctx context.Context, job jobs.Job, cause error) {
				cause = jobs.Classify(jobs.KindTransient, cause)
				if _, err := m.Record(ctx, job, cause); err != nil {
					r.log.Error("reaper.dlq_record_failed", obs.String("kind", kind), obs.String("job_id", job.ID), obs.Err(err))
				} else {
					r.log.Error("reaper.job_dead_lettered", obs.String("kind", kind), obs.String("job_id", job.ID))
				}
			}
		}
		n, err := q.SweepStalled(ctx, onTerminal)
		if err != nil {
			r.log.Warn("reaper.sweep_failed", obs.String("kind", kind), obs.Err(err))
			continue
		}
		if n > 0 {
			r.log.Warn("reaper.recovered_stalled_jobs", obs.String("kind", kind), obs.Int("count", n))
		}
	}
}
