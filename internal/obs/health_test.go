package obs

import (
	"context"
	"testing"
	"time"
)

func TestAggregateHealthyWhenAllChecksHealthy(t *testing.T) {
	m := NewMonitor()
	m.Register("redis", true, time.Second, func(ctx context.Context) DependencyHealth {
		return DependencyHealth{Status: StatusHealthy}
	})
	m.Register("postgres", true, time.Second, func(ctx context.Context) DependencyHealth {
		return DependencyHealth{Status: StatusHealthy}
	})

	status, results := m.Aggregate(context.Background())
	if status != StatusHealthy {
		t.Fatalf("expected StatusHealthy, got %v", status)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 dependency results, got %d", len(results))
	}
}

func TestAggregateNonCriticalUnhealthyDowngradesToDegraded(t *testing.T) {
	m := NewMonitor()
	m.Register("redis", true, time.Second, func(ctx context.Context) DependencyHealth {
		return DependencyHealth{Status: StatusHealthy}
	})
	m.Register("optional-cache", false, time.Second, func(ctx context.Context) DependencyHealth {
		return DependencyHealth{Status: StatusUnhealthy, Error: "timeout"}
	})

	status, _ := m.Aggregate(context.Background())
	if status != StatusDegraded {
		t.Fatalf("expected a non-critical failure to degrade, not fail, the aggregate; got %v", status)
	}
}

func TestAggregateCriticalUnhealthyForcesUnhealthy(t *testing.T) {
	m := NewMonitor()
	m.Register("redis", true, time.Second, func(ctx context.Context) DependencyHealth {
		return DependencyHealth{Status: StatusUnhealthy, Error: "connection refused"}
	})
	m.Register("optional-cache", false, time.Second, func(ctx context.Context) DependencyHealth {
		return DependencyHealth{Status: StatusHealthy}
	})

	status, _ := m.Aggregate(context.Background())
	if status != StatusUnhealthy {
		t.Fatalf("expected a critical failure to force the aggregate unhealthy, got %v", status)
	}
}

func TestAggregateTimesOutSlowCheck(t *testing.T) {
	m := NewMonitor()
	m.Register("slow", true, 5*time.Millisecond, func(ctx context.Context) DependencyHealth {
		<-ctx.Done()
		return DependencyHealth{Status: StatusHealthy}
	})

	status, results := m.Aggregate(context.Background())
	if status != StatusUnhealthy {
		t.Fatalf("expected a timed-out critical check to yield StatusUnhealthy, got %v", status)
	}
	if len(results) != 1 || results[0].Error == "" {
		t.Fatalf("expected a timeout error recorded, got %+v", results)
	}
}

func TestReadinessReturnsErrorOnlyWhenUnhealthy(t *testing.T) {
	m := NewMonitor()
	m.Register("redis", true, time.Second, func(ctx context.Context) DependencyHealth {
		return DependencyHealth{Status: StatusDegraded}
	})
	if err := m.Readiness(context.Background()); err != nil {
		t.Fatalf("expected no error for a degraded (not unhealthy) dependency, got %v", err)
	}

	m2 := NewMonitor()
	m2.Register("redis", true, time.Second, func(ctx context.Context) DependencyHealth {
		return DependencyHealth{Status: StatusUnhealthy, Error: "down"}
	})
	if err := m2.Readiness(context.Background()); err == nil {
		t.Fatalf("expected an error for a critical unhealthy dependency")
	}
}

func TestLivenessFalseImmediatelyAfterStart(t *testing.T) {
	m := NewMonitor()
	if m.Liveness() {
		t.Fatalf("expected Liveness to be false immediately after NewMonitor")
	}
}

func TestAggregateWithNoChecksIsHealthy(t *testing.T) {
	m := NewMonitor()
	status, results := m.Aggregate(context.Background())
	if status != StatusHealthy {
		t.Fatalf("expected an empty monitor to aggregate healthy, got %v", status)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
