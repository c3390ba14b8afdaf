// Package admin implements the operator surface: per-kind pause/resume,
// clean(olderThanHours), and dead-letter replay by id or by
// failure-reason substring, plus a stats snapshot. Operates on the typed
// internal/queue.Queue and internal/dlq.Manager facades so the same
// commands work for every kind.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewharvest/pipeline/internal/broker"
	"github.com/reviewharvest/pipeline/internal/dlq"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/queue"
)

// Surface bundles the per-kind queue and DLQ manager pairs the admin
// commands operate over.
type Surface struct {
	Queues map[jobs.JobKind]*queue.Queue
	DLQs   map[jobs.JobKind]*dlq.Manager
}

// New constructs a Surface. queues and dlqs must share the same key set.
func New(queues map[jobs.JobKind]*queue.Queue, dlqs map[jobs.JobKind]*dlq.Manager) *Surface {
	return &Surface{Queues: queues, DLQs: dlqs}
}

// KindStats is one kind's combined queue/DLQ snapshot.
type KindStats struct {
	Kind    jobs.JobKind `json:"kind"`
	Queue   broker.Stats `json:"queue"`
	DeadLetter dlq.KindStats `json:"deadLetter"`
}

// StatsResult is the full admin stats response across every registered
// kind.
type StatsResult struct {
	Kinds []KindStats `json:"kinds"`
}

// Stats reports queue and DLQ depths for every registered kind.
func (s *Surface) Stats(ctx context.Context) (StatsResult, error) {
	var out StatsResult
	for kind, q := range s.Queues {
		qs, err := q.Stats(ctx)
		if err != nil {
			return out, fmt.Errorf("admin: stats: %s: %w", kind, err)
		}
		var ds dlq.KindStats
		if m, ok := s.DLQs[kind]; ok {
			ds, err = m.StatsDetailed(ctx)
			if err != nil {
				return out, fmt.Errorf("admin: stats: %s: dlq: %w", kind, err)
			}
		}
		out.Kinds = append(out.Kinds, KindStats{Kind: kind, Queue: qs, DeadLetter: ds})
	}
	return out, nil
}

// Pause stops new reservations for kind; in-flight jobs continue.
func (s *Surface) Pause(ctx context.Context, kind jobs.JobKind) error {
	q, ok := s.Queues[kind]
	if !ok {
		return fmt.Errorf("admin: pause: unknown kind %q", kind)
	}
	return q.Pause(ctx)
}

// Resume undoes Pause.
func (s *Surface) Resume(ctx context.Context, kind jobs.JobKind) error {
	q, ok := s.Queues[kind]
	if !ok {
		return fmt.Errorf("admin: resume: unknown kind %q", kind)
	}
	return q.Resume(ctx)
}

// Clean removes completed/failed entries for kind older than
// olderThanHours (0 means "all").
func (s *Surface) Clean(ctx context.Context, kind jobs.JobKind, state string, olderThanHours int) (int, error) {
	q, ok := s.Queues[kind]
	if !ok {
		return 0, fmt.Errorf("admin: clean: unknown kind %q", kind)
	}
	var olderThan time.Duration
	if olderThanHours > 0 {
		olderThan = time.Duration(olderThanHours) * time.Hour
	}
	return q.Clean(ctx, state, olderThan)
}

// Replay re-enqueues a single dead-letter record for kind by its DLQ id.
func (s *Surface) Replay(ctx context.Context, kind jobs.JobKind, dlqID string) (string, error) {
	m, ok := s.DLQs[kind]
	if !ok {
		return "", fmt.Errorf("admin: replay: unknown kind %q", kind)
	}
	return m.Replay(ctx, dlqID, queue.EnqueueOptions{Priority: 5, MaxAttempts: jobs.MaxAttemptsForKind(kind)})
}

// ReplayByReason bulk-replays dead-letter records for kind whose failure
// reason contains substr, stopping at maxJobs.
func (s *Surface) ReplayByReason(ctx context.Context, kind jobs.JobKind, substr string, maxJobs int) ([]string, error) {
	m, ok := s.DLQs[kind]
	if !ok {
		return nil, fmt.Errorf("admin: replay_by_reason: unknown kind %q", kind)
	}
	return m.ReplayByReason(ctx, substr, maxJobs, queue.EnqueueOptions{Priority: 5, MaxAttempts: jobs.MaxAttemptsForKind(kind)})
}

// DeadLetters lists up to limit dead-letter records for kind.
func (s *Surface) DeadLetters(ctx context.Context, kind jobs.JobKind, limit int64) ([]dlq.Record, error) {
	m, ok := s.DLQs[kind]
	if !ok {
		return nil, fmt.Errorf("admin: dead_letters: unknown kind %q", kind)
	}
	return m.List(ctx, limit)
}

// Sweep applies the DLQ TTL cleanup for kind. Normally driven by
// internal/supervisor.DLQScheduler on a cron schedule, but also exposed
// here for a manual operator invocation.
func (s *Surface) Sweep(ctx context.Context, kind jobs.JobKind, olderThan time.Duration) (int, error) {
	m, ok := s.DLQs[kind]
	if !ok {
		return 0, fmt.Errorf("admin: sweep: unknown kind %q", kind)
	}
	return m.Sweep(ctx, olderThan)
}
