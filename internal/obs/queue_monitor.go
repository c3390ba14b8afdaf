package obs

import (
	"context"
	"time"
)

// QueueStatsSource is the minimal view internal/queue.Queue exposes to
// the monitor, kept here (rather than importing internal/queue
// directly) to avoid an obs -> queue -> obs import cycle.
type QueueStatsSource struct {
	Kind      string
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
	DeadLetter int64
}

// Snapshot is one point-in-time read across every kind's queue and DLQ
// depth.
type Snapshot struct {
	Timestamp time.Time                    `json:"timestamp"`
	Connection string                      `json:"connection"`
	Queues    map[string]QueueStatsSource   `json:"queues"`
	Summary   SnapshotSummary              `json:"summary"`
}

// SnapshotSummary totals counts across every kind.
type SnapshotSummary struct {
	TotalActive  int64 `json:"totalActive"`
	TotalWaiting int64 `json:"totalWaiting"`
	TotalFailed  int64 `json:"totalFailed"`
	TotalDLQ     int64 `json:"totalDlq"`
}

// CollectFunc gathers one kind's stats; the caller (cmd/pipeline) wires
// this from internal/queue.Queue.Stats and internal/dlq.Manager.Stats so
// this package stays free of a dependency on either.
type CollectFunc func(ctx context.Context) (QueueStatsSource, error)

// BuildSnapshot runs every registered collector and folds the results,
// pushing each kind's depths into the QueueLength and DeadLetterLength
// gauges along the way so /metrics stays current between scrapes even if
// nothing else touched those gauges recently.
func BuildSnapshot(ctx context.Context, connection string, collectors map[string]CollectFunc) Snapshot {
	snap := Snapshot{
		Timestamp:  time.Now().UTC(),
		Connection: connection,
		Queues:     make(map[string]QueueStatsSource, len(collectors)),
	}
	for kind, collect := range collectors {
		stats, err := collect(ctx)
		if err != nil {
			continue
		}
		stats.Kind = kind
		snap.Queues[kind] = stats
		QueueLength.WithLabelValues(kind, "waiting").Set(float64(stats.Waiting))
		QueueLength.WithLabelValues(kind, "active").Set(float64(stats.Active))
		QueueLength.WithLabelValues(kind, "completed").Set(float64(stats.Completed))
		QueueLength.WithLabelValues(kind, "failed").Set(float64(stats.Failed))
		QueueLength.WithLabelValues(kind, "delayed").Set(float64(stats.Delayed))
		DeadLetterLength.WithLabelValues(kind).Set(float64(stats.DeadLetter))

		snap.Summary.TotalActive += stats.Active
		snap.Summary.TotalWaiting += stats.Waiting
		snap.Summary.TotalFailed += stats.Failed
		snap.Summary.TotalDLQ += stats.DeadLetter
	}
	return snap
}
