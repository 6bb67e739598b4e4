package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/metrics"
)

// RateLimiter admits at most max requests inside any rolling window. The
// gateway publishes separate budgets for historical and general endpoints,
// so the client owns two independent lanes.
//
// Acquire never fails on pressure; it only delays. Callers queue on the
// mutex, and the slot sleep happens while the mutex is held, so admissions
// leave in arrival order.
type RateLimiter struct {
	lane   string
	max    int
	window time.Duration

	mu         sync.Mutex
	admissions []time.Time
}

func NewRateLimiter(lane string, cfg config.RateLaneConfig) *RateLimiter {
	return &RateLimiter{
		lane:   lane,
		max:    cfg.MaxRequests,
		window: time.Duration(cfg.WindowSeconds) * time.Second,
	}
}

// Acquire blocks until a slot is free or ctx is cancelled. The only error
// it can return is the context's.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.prune(now)

	if len(l.admissions) >= l.max {
		wait := l.window - now.Sub(l.admissions[0])
		if wait > 0 {
			metrics.RateLimitWaits.WithLabelValues(l.lane).Inc()
			logger.Debug("rate limit reached, waiting for slot",
				"lane", l.lane, "wait", wait.String())

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		l.prune(time.Now())
	}

	l.admissions = append(l.admissions, time.Now())
	return nil
}

// prune drops admissions older than the window. Caller holds the mutex.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admissions) && l.admissions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.admissions = append(l.admissions[:0], l.admissions[i:]...)
	}
}

// Pending returns the number of admissions still inside the window.
func (l *RateLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.admissions)
}
