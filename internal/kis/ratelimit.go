// ratelimit.go implements sliding-window rate limiting for the KIS API.
//
// The KIS gateway counts discrete requests per wall-clock second and rejects
// the overflow with EGW00201, so admission is a true sliding window rather
// than a refilling bucket: at most N admissions may fall inside any trailing
// 1-second interval. Defaults are 5/s on the paper server and 20/s on live;
// deployments usually configure a safety margin below the published limit.
package kis

import (
	"context"
	"sync"
	"time"
)

const (
	windowSize   = time.Second
	windowMargin = 50 * time.Millisecond // slack added to every computed wait
)

// SlidingWindowLimiter admits at most n events per trailing one-second
// window and enforces a minimum spacing of 1/n between admissions so bursts
// are smoothed instead of front-loaded.
//
// Waiters are FIFO: an acquisition mutex serializes them in arrival order,
// while the inner mutex covers only window mutation — never the sleep.
type SlidingWindowLimiter struct {
	n int

	admitMu sync.Mutex // held for the whole acquisition, orders waiters

	mu        sync.Mutex // protects window and lastAdmit
	window    []time.Time
	lastAdmit time.Time
}

// NewSlidingWindowLimiter creates a limiter admitting n events per second.
func NewSlidingWindowLimiter(n int) *SlidingWindowLimiter {
	if n < 1 {
		n = 1
	}
	return &SlidingWindowLimiter{
		n:      n,
		window: make([]time.Time, 0, n),
	}
}

// Limit returns the configured admissions per second.
func (l *SlidingWindowLimiter) Limit() int { return l.n }

// Acquire blocks until the caller may proceed or ctx is cancelled.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context) error {
	l.admitMu.Lock()
	defer l.admitMu.Unlock()

	for {
		wait, ok := l.tryAdmit()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAdmit evicts expired timestamps and either records an admission or
// returns how long the caller should sleep before retrying.
func (l *SlidingWindowLimiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.evict(now)

	if len(l.window) >= l.n {
		oldest := l.window[0]
		return windowSize - now.Sub(oldest) + windowMargin, false
	}

	// Smooth bursts: consecutive admissions at least 1/n apart.
	spacing := windowSize / time.Duration(l.n)
	if !l.lastAdmit.IsZero() {
		if since := now.Sub(l.lastAdmit); since < spacing {
			return spacing - since, false
		}
	}

	l.window = append(l.window, now)
	l.lastAdmit = now
	return 0, true
}

func (l *SlidingWindowLimiter) evict(now time.Time) {
	cutoff := now.Add(-windowSize)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// InFlight returns the number of admissions in the current window.
// Intended for tests and diagnostics.
func (l *SlidingWindowLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(time.Now())
	return len(l.window)
}
