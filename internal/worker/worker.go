// Package worker is the generic worker runtime: it knows nothing about
// scraping or labeling, only how to reserve jobs for one kind,
// rate-limit and circuit-break around a Processor, heartbeat while it
// runs, and dispatch the result through the error taxonomy into retry /
// dead-letter / requeue-without-attempt.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/pipeline/internal/breaker"
	"github.com/reviewharvest/pipeline/internal/correlation"
	"github.com/reviewharvest/pipeline/internal/dlq"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/obs"
	"github.com/reviewharvest/pipeline/internal/queue"
	"github.com/reviewharvest/pipeline/internal/ratelimit"
)

// Heartbeat lets a Processor report incremental progress without
// knowing about the broker or queue facade.
type Heartbeat func(progress int)

// Processor implements the domain-specific part of handling one kind of
// job. Process should honor ctx cancellation promptly; a context error
// is classified as jobs.KindCancelled by the worker.
type Processor interface {
	Kind() jobs.JobKind
	Process(ctx context.Context, job jobs.Job, hb Heartbeat) (jobs.Result, error)
}

// Runtime drives one kind's reservation loop across a fixed pool of
// goroutines.
type Runtime struct {
	q           *queue.Queue
	dlqManager  *dlq.Manager
	processor   Processor
	limiter     *ratelimit.Limiter
	cb          *breaker.CircuitBreaker
	log         *zap.Logger
	concurrency int

	heartbeatInterval time.Duration
	visibilityTimeout time.Duration
	breakerPause      time.Duration
	idlePause         time.Duration

	workerIDBase string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config bundles the tunables New needs, kept separate from
// internal/config.Config so this package doesn't import it directly.
type Config struct {
	Concurrency       int
	HeartbeatInterval time.Duration
	VisibilityTimeout time.Duration
	BreakerPause      time.Duration
	IdlePause         time.Duration
}

// New constructs a Runtime for processor's kind.
func New(q *queue.Queue, dlqManager *dlq.Manager, processor Processor, limiter *ratelimit.Limiter, cb *breaker.CircuitBreaker, log *zap.Logger, cfg Config) *Runtime {
	host, _ := os.Hostname()
	if cfg.BreakerPause <= 0 {
		cfg.BreakerPause = 100 * time.Millisecond
	}
	if cfg.IdlePause <= 0 {
		cfg.IdlePause = 250 * time.Millisecond
	}
	return &Runtime{
		q:                 q,
		dlqManager:        dlqManager,
		processor:         processor,
		limiter:           limiter,
		cb:                cb,
		log:               log,
		concurrency:       cfg.Concurrency,
		heartbeatInterval: cfg.HeartbeatInterval,
		visibilityTimeout: cfg.VisibilityTimeout,
		breakerPause:      cfg.BreakerPause,
		idlePause:         cfg.IdlePause,
		workerIDBase:      fmt.Sprintf("%s-%d-%s", host, os.Getpid(), processor.Kind()),
		stopCh:            make(chan struct{}),
	}
}

// StopReserving stops every worker slot from pulling new jobs. Jobs
// already being processed run to completion (or until ctx is cancelled);
// Run returns once the last in-flight job finishes.
func (r *Runtime) StopReserving() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Run blocks until ctx is cancelled, running concurrency goroutines that
// each loop reserve -> process -> ack/nack.
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	kind := string(r.processor.Kind())
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		id := fmt.Sprintf("%s-%d", r.workerIDBase, i)
		go func(workerID string) {
			defer wg.Done()
			obs.WorkerActive.WithLabelValues(kind).Inc()
			defer obs.WorkerActive.WithLabelValues(kind).Dec()
			r.runOne(ctx, workerID)
		}(id)
	}
	wg.Wait()
	return nil
}

func (r *Runtime) runOne(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		select {
		case <-r.stopCh:
			return
		default:
		}
		if !r.cb.Allow() {
			time.Sleep(r.breakerPause)
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		reserved, err := r.q.Reserve(ctx, workerID, r.visibilityTimeout)
		if err != nil {
			r.log.Warn("worker.reserve_failed", obs.String("worker_id", workerID), obs.Err(err))
			time.Sleep(r.breakerPause)
			continue
		}
		if reserved == nil {
			time.Sleep(r.idlePause)
			continue
		}
		r.handle(ctx, workerID, reserved.Job)
	}
}

func (r *Runtime) handle(ctx context.Context, workerID string, job jobs.Job) {
	bundle := correlation.FromCorrelationID(job.CorrelationID)
	jobCtx := correlation.WithContext(ctx, bundle)
	log := r.log.With(
		obs.String("job_id", job.ID),
		obs.String("kind", string(job.Kind)),
		obs.String("worker_id", workerID),
		obs.String("correlation_id", bundle.CorrelationID),
	)

	hbCtx, cancelHB := context.WithCancel(jobCtx)
	progressCh := make(chan int, 1)
	go r.heartbeatLoop(hbCtx, job.ID, progressCh)

	hb := func(progress int) {
		select {
		case progressCh <- progress:
		default:
		}
	}

	var result jobs.Result
	procErr := obs.Time(log, string(job.Kind), "process", func() error {
		var err error
		result, err = r.processor.Process(jobCtx, job, hb)
		return err
	})
	cancelHB()
	if procErr != nil && jobs.ClassifyOf(procErr) == jobs.KindUnknown && jobCtx.Err() != nil && errors.Is(procErr, jobCtx.Err()) {
		procErr = jobs.Classify(jobs.KindCancelled, procErr)
	}

	ok := procErr == nil
	r.cb.Record(ok)

	if ok {
		if err := r.q.Ack(jobCtx, job, result); err != nil {
			log.Error("worker.ack_failed", obs.Err(err))
		} else {
			log.Info("worker.job_completed")
		}
		return
	}

	classified := jobs.ClassifyOf(procErr)
	if classified == jobs.KindCancelled {
		if _, err := r.q.Nack(jobCtx, job, procErr); err != nil {
			log.Error("worker.release_failed", obs.Err(err))
		}
		log.Warn("worker.job_released", obs.String("reason", "cancelled"))
		return
	}

	if r.dlqManager != nil && !r.q.WillRetry(job, procErr) {
		if _, err := r.dlqManager.Record(jobCtx, job, procErr); err != nil {
			log.Error("worker.dlq_record_failed", obs.Err(err))
		}
	}

	retried, err := r.q.Nack(jobCtx, job, procErr)
	if err != nil {
		log.Error("worker.nack_failed", obs.Err(err))
		return
	}
	if retried {
		log.Warn("worker.job_retrying", obs.Int("attempts_made", job.AttemptsMade+1), obs.Err(procErr))
	} else {
		log.Error("worker.job_dead_lettered", obs.Err(procErr))
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context, jobID string, progressCh <-chan int) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	progress := 0
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-progressCh:
			progress = p
		case <-ticker.C:
			if err := r.q.Heartbeat(ctx, jobID, r.visibilityTimeout, progress); err != nil {
				return
			}
		}
	}
}
