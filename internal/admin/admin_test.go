package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/reviewharvest/pipeline/internal/broker"
	"github.com/reviewharvest/pipeline/internal/dlq"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/queue"
)

func setup(t *testing.T) (*Surface, *queue.Queue, *dlq.Manager, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := broker.New(rdb, "SCRAPE")
	q := queue.New(client, jobs.KindScrape, time.Second, 30*time.Second, 50, 100)
	m := dlq.New(client, q, jobs.KindScrape)
	s := New(map[jobs.JobKind]*queue.Queue{jobs.KindScrape: q}, map[jobs.JobKind]*dlq.Manager{jobs.KindScrape: m})
	return s, q, m, func() { mr.Close() }
}

func TestPauseResumeViaAdminSurface(t *testing.T) {
	s, q, _, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Pause(ctx, jobs.KindScrape); err != nil {
		t.Fatalf("pause: %v", err)
	}
	reserved, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserved != nil {
		t.Fatalf("expected no reservation while paused")
	}
	if err := s.Resume(ctx, jobs.KindScrape); err != nil {
		t.Fatalf("resume: %v", err)
	}
	reserved2, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil || reserved2 == nil {
		t.Fatalf("expected reservation after resume: %v", err)
	}
}

func TestPauseUnknownKindErrors(t *testing.T) {
	s, _, _, cleanup := setup(t)
	defer cleanup()
	if err := s.Pause(context.Background(), jobs.KindLabel); err == nil {
		t.Fatalf("expected an error pausing an unregistered kind")
	}
}

func TestReplayViaAdminSurface(t *testing.T) {
	s, q, m, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, queue.EnqueueOptions{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	reserved, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil || reserved == nil {
		t.Fatalf("reserve: %v", err)
	}
	cause := jobs.Classify(jobs.KindPermanent, errors.New("rate limited by catalog"))
	dlqID, err := m.Record(ctx, reserved.Job, cause)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := q.Nack(ctx, reserved.Job, cause); err != nil {
		t.Fatalf("nack: %v", err)
	}

	newID, err := s.Replay(ctx, jobs.KindScrape, dlqID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if newID == "" {
		t.Fatalf("expected a new job id from replay")
	}

	dl, err := s.DeadLetters(ctx, jobs.KindScrape, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dl) != 0 {
		t.Fatalf("expected dead letter removed after replay, got %d", len(dl))
	}
}

func TestStatsAcrossRegisteredKinds(t *testing.T) {
	s, q, _, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, map[string]any{"appId": "x", "countries": []string{"us"}}, queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats.Kinds) != 1 {
		t.Fatalf("expected 1 kind in stats, got %d", len(stats.Kinds))
	}
	if stats.Kinds[0].Queue.Waiting != 1 {
		t.Fatalf("expected 1 waiting job, got %d", stats.Kinds[0].Queue.Waiting)
	}
}
