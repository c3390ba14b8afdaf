// Package dlq is the dead-letter manager: once a job exhausts its
// retries, Manager records why before the queue facade marks it
// terminally failed, and offers replay back into the live queue by id
// or by reason.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reviewharvest/pipeline/internal/broker"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/obs"
	"github.com/reviewharvest/pipeline/internal/queue"
)

// Record is a single dead-letter entry.
type Record struct {
	ID            string    `json:"id"`
	JobID         string    `json:"jobId"`
	Kind          jobs.JobKind `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string    `json:"reason"`
	ErrorClass    string    `json:"errorClass"`
	AttemptsMade  int       `json:"attemptsMade"`
	CorrelationID string    `json:"correlationId"`
	DeadLetteredAt time.Time `json:"deadLetteredAt"`
}

// Manager wraps one kind's broker client and queue facade for
// dead-letter operations.
type Manager struct {
	kind   jobs.JobKind
	client *broker.Client
	q      *queue.Queue
}

// New constructs a Manager for kind.
func New(client *broker.Client, q *queue.Queue, kind jobs.JobKind) *Manager {
	return &Manager{kind: kind, client: client, q: q}
}

// Record writes a dead-letter entry for job before the queue facade
// terminally fails it. Ordering matters: the DLQ write happens first so
// a crash between the two leaves a record with no matching terminal
// state rather than a silently dropped failure.
func (m *Manager) Record(ctx context.Context, job jobs.Job, cause error) (string, error) {
	rec := Record{
		ID:             broker.NewDLQID(),
		JobID:          job.ID,
		Kind:           job.Kind,
		Payload:        job.Payload,
		Reason:         cause.Error(),
		ErrorClass:     jobs.ClassifyOf(cause).String(),
		AttemptsMade:   job.AttemptsMade,
		CorrelationID:  job.CorrelationID,
		DeadLetteredAt: time.Now().UTC(),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("dlq: record: marshal: %w", err)
	}
	if err := m.client.DLQInsert(ctx, rec.ID, map[string]any{"record": string(body)}); err != nil {
		return "", fmt.Errorf("dlq: record: %w", err)
	}
	obs.JobsDeadLettered.WithLabelValues(string(m.kind)).Inc()
	m.refreshGauge(ctx)
	return rec.ID, nil
}

// List returns up to limit dead-letter records, most recent first.
func (m *Manager) List(ctx context.Context, limit int64) ([]Record, error) {
	ids, err := m.client.DLQList(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("dlq: list: %w", err)
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := m.get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *Manager) get(ctx context.Context, dlqID string) (Record, error) {
	fields, err := m.client.DLQGet(ctx, dlqID)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(fields["record"]), &rec); err != nil {
		return Record{}, fmt.Errorf("dlq: get: decode: %w", err)
	}
	return rec, nil
}

// Stats reports the dead-letter queue depth for this kind.
func (m *Manager) Stats(ctx context.Context) (int64, error) {
	return m.client.DLQCount(ctx)
}

// Replay re-enqueues a single dead-letter record by its DLQ id, resetting
// attempts to zero and removing the record on success.
func (m *Manager) Replay(ctx context.Context, dlqID string, opts queue.EnqueueOptions) (string, error) {
	rec, err := m.get(ctx, dlqID)
	if err != nil {
		return "", fmt.Errorf("dlq: replay: %w", err)
	}
	var payload any = rec.Payload
	opts.CorrelationID = rec.CorrelationID
	jobID, err := m.q.Enqueue(ctx, payload, opts)
	if err != nil {
		return "", fmt.Errorf("dlq: replay: enqueue: %w", err)
	}
	if err := m.client.DLQRemove(ctx, dlqID); err != nil {
		return jobID, fmt.Errorf("dlq: replay: remove record: %w", err)
	}
	m.refreshGauge(ctx)
	return jobID, nil
}

// ReplayByReason replays every record whose Reason contains substr,
// stopping at limit records, and returns the job ids created.
func (m *Manager) ReplayByReason(ctx context.Context, substr string, limit int, opts queue.EnqueueOptions) ([]string, error) {
	records, err := m.List(ctx, 1000)
	if err != nil {
		return nil, fmt.Errorf("dlq: replay by reason: %w", err)
	}
	var replayed []string
	for _, rec := range records {
		if len(replayed) >= limit {
			break
		}
		if !strings.Contains(rec.Reason, substr) {
			continue
		}
		id, err := m.Replay(ctx, rec.ID, opts)
		if err != nil {
			continue
		}
		replayed = append(replayed, id)
	}
	return replayed, nil
}

// Sweep removes dead-letter records older than olderThan (TTL cleanup,
// default 30 days), returning the count removed.
func (m *Manager) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	records, err := m.List(ctx, 100000)
	if err != nil {
		return 0, fmt.Errorf("dlq: sweep: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, rec := range records {
		if rec.DeadLetteredAt.After(cutoff) {
			continue
		}
		if err := m.client.DLQRemove(ctx, rec.ID); err == nil {
			removed++
		}
	}
	if removed > 0 {
		m.refreshGauge(ctx)
	}
	return removed, nil
}

// KindStats aggregates dead-letter counts by failure class for one
// kind.
type KindStats struct {
	Total         int64
	ByFailureReason map[string]int64
	OldestFailure *time.Time
	NewestFailure *time.Time
}

// StatsDetailed computes the full per-reason breakdown, beyond the
// single DLQCount Stats exposes.
func (m *Manager) StatsDetailed(ctx context.Context) (KindStats, error) {
	records, err := m.List(ctx, 100000)
	if err != nil {
		return KindStats{}, fmt.Errorf("dlq: stats: %w", err)
	}
	out := KindStats{ByFailureReason: map[string]int64{}}
	for _, rec := range records {
		out.Total++
		out.ByFailureReason[rec.ErrorClass]++
		if out.OldestFailure == nil || rec.DeadLetteredAt.Before(*out.OldestFailure) {
			t := rec.DeadLetteredAt
			out.OldestFailure = &t
		}
		if out.NewestFailure == nil || rec.DeadLetteredAt.After(*out.NewestFailure) {
			t := rec.DeadLetteredAt
			out.NewestFailure = &t
		}
	}
	return out, nil
}

func (m *Manager) refreshGauge(ctx context.Context) {
	if n, err := m.client.DLQCount(ctx); err == nil {
		obs.DeadLetterLength.WithLabelValues(string(m.kind)).Set(float64(n))
	}
}
