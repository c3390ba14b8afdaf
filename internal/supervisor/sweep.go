package supervisor

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/reviewharvest/pipeline/internal/obs"
)

// SweepFunc runs one DLQ TTL sweep for one kind.
type SweepFunc func(ctx context.Context) (removed int, err error)

// DLQScheduler runs a cron-scheduled periodic sweep across every
// registered kind's dead-letter manager. The schedule is a cron
// expression so operators can line sweeps up with low-traffic windows.
type DLQScheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewDLQScheduler constructs a scheduler and registers expr (a standard
// 5-field cron expression or a "@every" descriptor) to run sweep for
// every kind in sweeps.
func NewDLQScheduler(expr string, log *zap.Logger, sweeps map[string]SweepFunc) (*DLQScheduler, error) {
	c := cron.New()
	for kind, sweep := range sweeps {
		kind, sweep := kind, sweep
		if _, err := c.AddFunc(expr, func() {
			n, err := sweep(context.Background())
			if err != nil {
				log.Warn("dlq_scheduler.sweep_failed", obs.String("kind", kind), obs.Err(err))
				return
			}
			if n > 0 {
				log.Info("dlq_scheduler.swept", obs.String("kind", kind), obs.Int("removed", n))
			}
		}); err != nil {
			return nil, err
		}
	}
	return &DLQScheduler{cron: c, log: log}, nil
}

// Start begins the cron scheduler's goroutine.
func (d *DLQScheduler) Start() { d.cron.Start() }

// Stop blocks until the currently-running sweep (if any) finishes.
func (d *DLQScheduler) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}
