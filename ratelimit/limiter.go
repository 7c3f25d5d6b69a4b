// Package ratelimit tracks an outbound request budget per external
// service key and folds in server-supplied throttle hints.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter vends wait durations per service key. It never sleeps
// itself; callers are expected to wait out whatever Acquire returns
// before issuing the request. That keeps policy separate from
// scheduling and makes the limiter trivially testable.
type Limiter struct {
	mu        sync.Mutex
	perWindow int
	window    time.Duration
	buckets   map[string]*rate.Limiter
	throttled map[string]time.Time
	now       func() time.Time
}

// New builds a limiter allowing perWindow requests per window for
// every key.
func New(perWindow int, window time.Duration) *Limiter {
	if perWindow < 1 {
		perWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		perWindow: perWindow,
		window:    window,
		buckets:   make(map[string]*rate.Limiter),
		throttled: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(l.window/time.Duration(l.perWindow)), l.perWindow)
		l.buckets[key] = b
	}
	return b
}

// Acquire consumes one slot of key's budget and returns how long the
// caller must wait before sending. Zero means go now. A throttle
// override set via ReportThrottled dominates the window budget.
func (l *Limiter) Acquire(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	wait := time.Duration(0)
	if until, ok := l.throttled[key]; ok {
		if remaining := until.Sub(now); remaining > 0 {
			wait = remaining
		} else {
			delete(l.throttled, key)
		}
	}

	res := l.bucket(key).ReserveN(now, 1)
	if d := res.DelayFrom(now); d > wait {
		wait = d
	}

	return wait
}

// ReportThrottled records a server cool-down for key: no request for
// that key should go out until retryAfter has elapsed, whatever the
// window counter says.
func (l *Limiter) ReportThrottled(key string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	until := l.now().Add(retryAfter)
	if existing, ok := l.throttled[key]; !ok || until.After(existing) {
		l.throttled[key] = until
	}
}

// ReportSuccess clears any throttle override for key. Servers that
// signal only transient throttling are treated as recovered on the
// first successful response.
func (l *Limiter) ReportSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.throttled, key)
}

// Wait sleeps out a duration returned by Acquire, bailing early if the
// context dies.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
