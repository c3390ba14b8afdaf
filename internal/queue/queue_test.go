package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/reviewharvest/pipeline/internal/broker"
	"github.com/reviewharvest/pipeline/internal/jobs"
)

func setup(t *testing.T) (*Queue, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := broker.New(rdb, "SCRAPE")
	q := New(client, jobs.KindScrape, time.Second, 30*time.Second, 50, 100)
	return q, func() { mr.Close() }
}

func TestEnqueueReservePreservesPayloadPriorityAndCorrelation(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	payload := map[string]any{"appId": "737534985", "countries": []string{"us"}}
	jobID, err := q.Enqueue(ctx, payload, EnqueueOptions{Priority: 3, MaxAttempts: 3, CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	reserved, err := q.Reserve(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserved == nil {
		t.Fatalf("expected a job to reserve")
	}
	if reserved.Job.ID != jobID {
		t.Fatalf("expected job id %q, got %q", jobID, reserved.Job.ID)
	}
	if reserved.Job.Priority != 3 {
		t.Fatalf("expected priority 3, got %d", reserved.Job.Priority)
	}
	if reserved.Job.CorrelationID != "corr-1" {
		t.Fatalf("expected correlationId corr-1, got %q", reserved.Job.CorrelationID)
	}
	var decoded map[string]any
	if err := json.Unmarshal(reserved.Job.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["appId"] != "737534985" {
		t.Fatalf("expected payload round trip, got %v", decoded)
	}
	if reserved.Job.State != jobs.StateActive {
		t.Fatalf("expected reserved job in active state, got %q", reserved.Job.State)
	}
}

func TestAckMarksCompleted(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, EnqueueOptions{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	reserved, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil || reserved == nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := q.Ack(ctx, reserved.Job, jobs.Result{Success: true}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 1 {
		t.Fatalf("expected 1 completed, got %d", stats.Completed)
	}
	if stats.Active != 0 {
		t.Fatalf("expected 0 active after ack, got %d", stats.Active)
	}
}

func TestNackRetriesUntilMaxAttemptsThenDies(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()
	q.backoffBase = time.Millisecond
	q.backoffMax = 2 * time.Millisecond

	_, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, EnqueueOptions{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cause := jobs.Classify(jobs.KindTransient, context.DeadlineExceeded)

	for attempt := 1; attempt <= 3; attempt++ {
		// Reserve may need a brief wait for the delayed retry to become due.
		var reserved *Reserved
		for i := 0; i < 50; i++ {
			reserved, err = q.Reserve(ctx, "w1", time.Minute)
			if err != nil {
				t.Fatalf("reserve: %v", err)
			}
			if reserved != nil {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if reserved == nil {
			t.Fatalf("attempt %d: expected a job to reserve", attempt)
		}
		retried, err := q.Nack(ctx, reserved.Job, cause)
		if err != nil {
			t.Fatalf("nack: %v", err)
		}
		wantRetried := attempt < 3
		if retried != wantRetried {
			t.Fatalf("attempt %d: expected retried=%v, got %v", attempt, wantRetried, retried)
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected job in failed ring exactly once, got %d", stats.Failed)
	}
	if stats.Waiting != 0 || stats.Delayed != 0 || stats.Active != 0 {
		t.Fatalf("expected job not present in active queue, got %+v", stats)
	}
}

func TestNackCancelledDoesNotConsumeAttempt(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, EnqueueOptions{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	reserved, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil || reserved == nil {
		t.Fatalf("reserve: %v", err)
	}
	cause := jobs.Classify(jobs.KindCancelled, context.Canceled)
	retried, err := q.Nack(ctx, reserved.Job, cause)
	if err != nil {
		t.Fatalf("nack: %v", err)
	}
	if !retried {
		t.Fatalf("expected cancelled job to be requeued")
	}
	reserved2, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil || reserved2 == nil {
		t.Fatalf("expected job immediately reservable again: %v", err)
	}
	if reserved2.Job.AttemptsMade != 0 {
		t.Fatalf("expected cancellation to not consume an attempt, got %d", reserved2.Job.AttemptsMade)
	}
}

func TestWillRetry(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()

	j := jobs.Job{AttemptsMade: 0, MaxAttempts: 3}
	if !q.WillRetry(j, jobs.Classify(jobs.KindTransient, context.DeadlineExceeded)) {
		t.Fatalf("expected transient error with attempts remaining to be retryable")
	}
	j2 := jobs.Job{AttemptsMade: 2, MaxAttempts: 3}
	if q.WillRetry(j2, jobs.Classify(jobs.KindTransient, context.DeadlineExceeded)) {
		t.Fatalf("expected transient error at last attempt to not retry")
	}
	j3 := jobs.Job{AttemptsMade: 0, MaxAttempts: 3}
	if q.WillRetry(j3, jobs.Classify(jobs.KindPermanent, context.DeadlineExceeded)) {
		t.Fatalf("expected permanent error to never retry")
	}
}

func TestBackoffExponentialWithJitterAndCap(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	q.backoffBase = 2 * time.Second
	q.backoffMax = 5 * time.Minute

	for attempt := 1; attempt <= 10; attempt++ {
		d := q.Backoff(attempt)
		if d > q.backoffMax {
			t.Fatalf("attempt %d: backoff %v exceeds cap %v", attempt, d, q.backoffMax)
		}
		if d <= 0 {
			t.Fatalf("attempt %d: backoff must be positive, got %v", attempt, d)
		}
	}
}

func TestPauseResume(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, EnqueueOptions{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	reserved, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserved != nil {
		t.Fatalf("expected no reservation while paused")
	}
	if err := q.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	reserved2, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil || reserved2 == nil {
		t.Fatalf("expected reservation after resume: %v", err)
	}
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, map[string]any{"countries": []string{"us"}}, EnqueueOptions{MaxAttempts: 3})
	if err == nil {
		t.Fatalf("expected enqueue to reject payload without appId")
	}
	if !errors.Is(err, jobs.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Waiting != 0 || stats.Delayed != 0 {
		t.Fatalf("expected nothing enqueued, got %+v", stats)
	}
}

func TestWillRetryTreatsUnclassifiedAsTransient(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()

	j := jobs.Job{AttemptsMade: 0, MaxAttempts: 3}
	if !q.WillRetry(j, errors.New("boom")) {
		t.Fatalf("expected unclassified error with attempts remaining to retry")
	}
	j2 := jobs.Job{AttemptsMade: 2, MaxAttempts: 3}
	if q.WillRetry(j2, errors.New("boom")) {
		t.Fatalf("expected unclassified error at last attempt to not retry")
	}
}

func TestSweepStalledConsumesAnAttempt(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, EnqueueOptions{MaxAttempts: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, "w1", -time.Second); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	n, err := q.SweepStalled(ctx, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stalled job swept, got %d", n)
	}

	reserved, err := q.Reserve(ctx, "w2", time.Minute)
	if err != nil || reserved == nil {
		t.Fatalf("expected swept job reservable again: %v", err)
	}
	if reserved.Job.AttemptsMade != 1 {
		t.Fatalf("expected the stall to consume an attempt, got attemptsMade=%d", reserved.Job.AttemptsMade)
	}
}

func TestSweepStalledTerminallyFailsWhenAttemptsExhausted(t *testing.T) {
	q, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, EnqueueOptions{MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, "w1", -time.Second); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	var terminal []jobs.Job
	n, err := q.SweepStalled(ctx, func(ctx context.Context, job jobs.Job, cause error) {
		if !errors.Is(cause, ErrStalled) {
			t.Errorf("expected ErrStalled cause, got %v", cause)
		}
		terminal = append(terminal, job)
	})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stalled job swept, got %d", n)
	}
	if len(terminal) != 1 || terminal[0].AttemptsMade != 1 {
		t.Fatalf("expected the terminal hook invoked with the consumed attempt, got %+v", terminal)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 || stats.Waiting != 0 || stats.Active != 0 {
		t.Fatalf("expected job terminally failed, got %+v", stats)
	}
}
