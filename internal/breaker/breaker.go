// Package breaker is a sliding-window circuit breaker. Each external
// dependency (catalog client, LLM client) gets its own
// instance, so New takes a name used to drive the CircuitBreakerState
// metric per dependency.
package breaker

import (
	"sync"
	"time"

	"github.com/reviewharvest/pipeline/internal/obs"
)

type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) gaugeValue() float64 { return float64(s) }

type result struct {
	t  time.Time
	ok bool
}

// CircuitBreaker trips open when the failure rate over a sliding window
// reaches a threshold, then probes a single half-open request after a
// cooldown before deciding whether to close or re-open.
type CircuitBreaker struct {
	name string

	mu               sync.Mutex
	state            State
	window           time.Duration
	cooldown         time.Duration
	failureThresh    float64
	minSamples       int
	lastTransition   time.Time
	results          []result
	halfOpenInFlight bool
}

// New constructs a named CircuitBreaker. name labels the
// CircuitBreakerState gauge so dashboards can tell the catalog breaker
// from the LLM breaker.
func New(name string, window, cooldown time.Duration, failureThresh float64, minSamples int) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:           name,
		state:          Closed,
		window:         window,
		cooldown:       cooldown,
		failureThresh:  failureThresh,
		minSamples:     minSamples,
		lastTransition: time.Now(),
	}
	obs.CircuitBreakerState.WithLabelValues(name).Set(cb.state.gaugeValue())
	return cb
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed. Open rejects until the
// cooldown elapses, at which point exactly one half-open probe is let
// through; Closed always allows.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case Open:
		if time.Since(cb.lastTransition) >= cb.cooldown {
			cb.transition(HalfOpen)
			cb.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of a call admitted by Allow.
func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()

	cutoff := now.Add(-cb.window)
	filtered := cb.results[:0]
	for _, r := range cb.results {
		if r.t.After(cutoff) {
			filtered = append(filtered, r)
		}
	}
	cb.results = append(filtered, result{t: now, ok: ok})

	if cb.state == HalfOpen {
		if ok {
			cb.transition(Closed)
		} else {
			cb.transition(Open)
		}
		cb.halfOpenInFlight = false
		return
	}

	total := len(cb.results)
	if total < cb.minSamples {
		return
	}
	fails := 0
	for _, r := range cb.results {
		if !r.ok {
			fails++
		}
	}
	rate := float64(fails) / float64(total)
	if cb.state == Closed && rate >= cb.failureThresh {
		cb.transition(Open)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	cb.lastTransition = time.Now()
	obs.CircuitBreakerState.WithLabelValues(cb.name).Set(to.gaugeValue())
}
