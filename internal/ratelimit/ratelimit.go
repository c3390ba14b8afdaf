// Package ratelimit wraps golang.org/x/time/rate into per-kind token
// buckets: tokens are consumed before a job is reserved, and a
// 429/Retry-After response can halve the bucket's rate via Feedback.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reviewharvest/pipeline/internal/obs"
)

// Limiter is a named token bucket; name labels the RateLimiterTokens
// gauge.
type Limiter struct {
	name string
	max  int

	mu       sync.Mutex
	window   time.Duration
	limiter  *rate.Limiter
	halved   bool
	halvedAt time.Time
}

// New builds a Limiter that allows up to max events per window.
func New(name string, max int, window time.Duration) *Limiter {
	l := &Limiter{
		name:   name,
		max:    max,
		window: window,
	}
	l.limiter = rate.NewLimiter(ratePerSecond(max, window), max)
	obs.RateLimiterTokens.WithLabelValues(name).Set(l.limiter.Tokens())
	return l
}

func ratePerSecond(max int, window time.Duration) rate.Limit {
	if window <= 0 {
		return rate.Inf
	}
	return rate.Every(window / time.Duration(max))
}

// Wait blocks until a token is available or ctx is done, then reports
// the remaining approximate token count to the gauge.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.restoreIfWindowElapsed()
	lim := l.limiter
	l.mu.Unlock()
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	obs.RateLimiterTokens.WithLabelValues(l.name).Set(lim.Tokens())
	return nil
}

// Allow is a non-blocking variant used by callers that want to skip
// waiting and instead requeue-with-delay on exhaustion.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restoreIfWindowElapsed()
	ok := l.limiter.Allow()
	obs.RateLimiterTokens.WithLabelValues(l.name).Set(l.limiter.Tokens())
	return ok
}

// Feedback adjusts the bucket's rate in response to upstream pressure:
// when halved is true the rate is cut in half (floor of 1 event per
// window) for the next window, restoring itself once a full window
// passes without another halving signal. Feedback(false) restores the
// original rate immediately.
func (l *Limiter) Feedback(halved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if halved {
		l.halvedAt = time.Now()
	}
	if halved == l.halved {
		return
	}
	l.halved = halved
	effectiveMax := l.max
	if halved {
		effectiveMax = l.max / 2
		if effectiveMax < 1 {
			effectiveMax = 1
		}
	}
	l.limiter.SetLimit(ratePerSecond(effectiveMax, l.window))
}

// restoreIfWindowElapsed undoes a halving once a full window has passed
// since the last rate-limited signal. Caller must hold mu.
func (l *Limiter) restoreIfWindowElapsed() {
	if !l.halved || l.window <= 0 {
		return
	}
	if time.Since(l.halvedAt) < l.window {
		return
	}
	l.halved = false
	l.limiter.SetLimit(ratePerSecond(l.max, l.window))
}
