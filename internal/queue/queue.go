// Package queue is the typed facade over internal/broker the rest of the
// pipeline talks to. It owns the waiting/delayed/active/completed/failed
// state machine semantics for a single kind and the job-level retry
// backoff formula.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/reviewharvest/pipeline/internal/broker"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/obs"
)

// Queue wraps a broker.Client with job encode/decode and the retry
// backoff policy for one kind.
type Queue struct {
	kind            jobs.JobKind
	client          *broker.Client
	backoffBase     time.Duration
	backoffMax      time.Duration
	completedRetain int64
	failedRetain    int64
}

// New constructs a Queue for kind, sharing the given broker client.
func New(client *broker.Client, kind jobs.JobKind, backoffBase, backoffMax time.Duration, completedRetain, failedRetain int64) *Queue {
	return &Queue{
		kind:            kind,
		client:          client,
		backoffBase:     backoffBase,
		backoffMax:      backoffMax,
		completedRetain: completedRetain,
		failedRetain:    failedRetain,
	}
}

// EnqueueOptions mirrors broker.EnqueueOptions plus job-shaping fields.
type EnqueueOptions struct {
	Delay         time.Duration
	Priority      int
	MaxAttempts   int
	CorrelationID string
}

// Enqueue validates payload against this kind's schema, encodes it as a
// new Job in the waiting (or delayed) state, and pushes it to the
// broker. Invalid payloads are rejected here, before any job record
// exists.
func (q *Queue) Enqueue(ctx context.Context, payload any, opts EnqueueOptions) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	if _, err := jobs.DecodeAndValidate(q.kind, raw); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	now := time.Now().UTC()
	job := jobs.Job{
		ID:            uuid.NewString(),
		Kind:          q.kind,
		Payload:       raw,
		Priority:      opts.Priority,
		MaxAttempts:   opts.MaxAttempts,
		State:         jobs.StateWaiting,
		CorrelationID: opts.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if opts.Delay > 0 {
		job.State = jobs.StateDelayed
		job.DelayUntil = now.Add(opts.Delay)
	}
	body, err := job.Marshal()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: marshal job: %w", err)
	}
	if err := q.client.Enqueue(ctx, body, broker.EnqueueOptions{Delay: opts.Delay, Priority: opts.Priority}); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	obs.JobsEnqueued.WithLabelValues(string(q.kind)).Inc()
	return job.ID, nil
}

// Reserved is a job handed to a worker, with the state needed to
// ack/nack it.
type Reserved struct {
	Job jobs.Job
}

// Reserve pops the next due job for this kind, if any.
func (q *Queue) Reserve(ctx context.Context, reservedBy string, visibilityTimeout time.Duration) (*Reserved, error) {
	raw, err := q.client.Reserve(ctx, reservedBy, visibilityTimeout)
	if err != nil {
		return nil, fmt.Errorf("queue: reserve: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	job, err := jobs.UnmarshalJob(raw)
	if err != nil {
		return nil, fmt.Errorf("queue: reserve: decode: %w", err)
	}
	job.State = jobs.StateActive
	job.ReservedBy = reservedBy
	job.ReservedUntil = time.Now().Add(visibilityTimeout)
	obs.JobsReserved.WithLabelValues(string(q.kind)).Inc()
	return &Reserved{Job: job}, nil
}

// Heartbeat extends a reservation and records progress.
func (q *Queue) Heartbeat(ctx context.Context, jobID string, visibilityTimeout time.Duration, progress int) error {
	return q.client.Heartbeat(ctx, jobID, visibilityTimeout, progress)
}

// Ack marks a job completed successfully.
func (q *Queue) Ack(ctx context.Context, job jobs.Job, result jobs.Result) error {
	job.State = jobs.StateCompleted
	job.UpdatedAt = time.Now().UTC()
	job.Progress = 100
	body, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("queue: ack: marshal: %w", err)
	}
	if err := q.client.Complete(ctx, job.ID, body, q.completedRetain); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	obs.JobsCompleted.WithLabelValues(string(q.kind)).Inc()
	return nil
}

// WillRetry reports whether Nack(job, cause) would requeue the job
// rather than terminally fail it, letting the caller decide whether to
// write a dead-letter record first.
func (q *Queue) WillRetry(job jobs.Job, cause error) bool {
	kind := effectiveKind(cause)
	if kind == jobs.KindCancelled {
		return true
	}
	return kind.Retryable() && job.AttemptsMade+1 < job.MaxAttempts
}

// Nack fails an attempt. If retryable and attempts remain, the job is
// requeued with a backoff delay (consuming an attempt); otherwise it is
// terminally failed. The caller is responsible for writing the DLQ
// record via internal/dlq before terminal failure.
func (q *Queue) Nack(ctx context.Context, job jobs.Job, cause error) (retried bool, err error) {
	job.AttemptsMade++
	job.UpdatedAt = time.Now().UTC()
	kind := effectiveKind(cause)

	if kind == jobs.KindCancelled {
		job.AttemptsMade-- // cancellation doesn't consume an attempt
		job.State = jobs.StateWaiting
		body, merr := job.Marshal()
		if merr != nil {
			return false, fmt.Errorf("queue: nack: marshal: %w", merr)
		}
		if err := q.client.Release(ctx, job.ID, body); err != nil {
			return false, fmt.Errorf("queue: nack: release: %w", err)
		}
		return true, nil
	}

	retryable := kind.Retryable() && job.AttemptsMade < job.MaxAttempts
	if retryable {
		job.State = jobs.StateDelayed
		delay := q.Backoff(job.AttemptsMade)
		job.DelayUntil = time.Now().Add(delay)
		body, merr := job.Marshal()
		if merr != nil {
			return false, fmt.Errorf("queue: nack: marshal: %w", merr)
		}
		if err := q.client.Fail(ctx, job.ID, body, true, delay, q.failedRetain); err != nil {
			return false, fmt.Errorf("queue: nack: requeue: %w", err)
		}
		obs.JobsRetried.WithLabelValues(string(q.kind)).Inc()
		obs.JobsFailed.WithLabelValues(string(q.kind), kind.String()).Inc()
		return true, nil
	}

	job.State = jobs.StateFailed
	body, merr := job.Marshal()
	if merr != nil {
		return false, fmt.Errorf("queue: nack: marshal: %w", merr)
	}
	if err := q.client.Fail(ctx, job.ID, body, false, 0, q.failedRetain); err != nil {
		return false, fmt.Errorf("queue: nack: terminal fail: %w", err)
	}
	obs.JobsFailed.WithLabelValues(string(q.kind), kind.String()).Inc()
	return false, nil
}

// Backoff computes the jittered exponential retry delay for the Nth
// attempt: base * 2^(attempts-1), jittered +-25%, capped at Max. The
// computed delay doubles as the delayed-set score, which is why this is
// not cenkalti/backoff/v4 (that wrapper is used for outbound HTTP retry
// in internal/catalog, where no score is needed).
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := q.backoffBase * (1 << uint(attempt-1))
	if d > q.backoffMax || d <= 0 {
		d = q.backoffMax
	}
	jitter := 0.75 + rand.Float64()*0.5 // +-25%
	d = time.Duration(float64(d) * jitter)
	if d > q.backoffMax {
		d = q.backoffMax
	}
	return d
}

// ErrStalled is the failure cause recorded for a job whose reservation
// lapsed without a heartbeat on its final attempt.
var ErrStalled = errors.New("reservation lapsed without heartbeat")

// TerminalFunc is invoked for a stalled job whose attempts are
// exhausted, before the queue-side state change, so the caller can
// write a dead-letter record as the first durable step.
type TerminalFunc func(ctx context.Context, job jobs.Job, cause error)

// SweepStalled recovers reservations whose visibility timeout lapsed.
// A stall consumes an attempt: the job is requeued with attemptsMade
// incremented, or terminally failed (via onTerminal, then the failed
// ring) once attempts are exhausted, so a job that reliably kills its
// worker before the first heartbeat still reaches the dead-letter
// queue instead of restalling forever.
func (q *Queue) SweepStalled(ctx context.Context, onTerminal TerminalFunc) (int, error) {
	requeued, failed, err := q.client.SweepStalled(ctx, func(payload []byte) ([]byte, bool) {
		job, derr := jobs.UnmarshalJob(payload)
		if derr != nil {
			return payload, true
		}
		job.AttemptsMade++
		job.UpdatedAt = time.Now().UTC()
		job.ReservedBy = ""
		job.ReservedUntil = time.Time{}
		if job.AttemptsMade >= job.MaxAttempts {
			job.State = jobs.StateFailed
			if onTerminal != nil {
				onTerminal(ctx, job, ErrStalled)
			}
			body, merr := job.Marshal()
			if merr != nil {
				return payload, false
			}
			return body, false
		}
		job.State = jobs.StateWaiting
		body, merr := job.Marshal()
		if merr != nil {
			return payload, true
		}
		return body, true
	}, q.failedRetain)
	n := requeued + failed
	if n > 0 {
		obs.JobsStalled.WithLabelValues(string(q.kind)).Add(float64(n))
	}
	return n, err
}

// Pause / Resume stop or allow new reservations for this kind.
func (q *Queue) Pause(ctx context.Context) error  { return q.client.Pause(ctx) }
func (q *Queue) Resume(ctx context.Context) error { return q.client.Resume(ctx) }

// Stats reports current queue depths.
func (q *Queue) Stats(ctx context.Context) (broker.Stats, error) { return q.client.Stats(ctx) }

// Clean removes entries from the completed or failed ring.
func (q *Queue) Clean(ctx context.Context, state string, olderThan time.Duration) (int, error) {
	return q.client.Clean(ctx, state, olderThan)
}

// effectiveKind maps an unclassified processor error to Transient, so
// it retries until the final attempt and only then dead-letters.
func effectiveKind(cause error) jobs.Kind {
	kind := jobs.ClassifyOf(cause)
	if kind == jobs.KindUnknown {
		return jobs.KindTransient
	}
	return kind
}

func marshalPayload(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
