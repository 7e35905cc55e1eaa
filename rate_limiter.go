package walletauth

import (
	"sync"
	"time"
)

// LimitResult is the outcome of a CheckLimit call.
type LimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type rateEntry struct {
	count     int
	resetTime time.Time
}

// RateLimiter is a fixed-window attempt counter keyed by an arbitrary
// caller-supplied identifier (email, IP). Login and signup use independent
// instances so one flow cannot starve the other.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	now     func() time.Time
	hits    uint64
}

// RateLimiterOption customizes limiter construction.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterClock injects a custom clock (useful for tests).
func WithRateLimiterClock(clock func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		if clock != nil {
			l.now = clock
		}
	}
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	l := &RateLimiter{
		entries: make(map[string]*rateEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// CheckLimit counts one attempt for key against a fixed window. A fresh or
// elapsed window starts at count 1 and allows; a full window denies and
// reports how long the caller must wait. Every 512 checks it opportunistically
// evicts elapsed windows to bound memory between sweeps.
func (l *RateLimiter) CheckLimit(key string, maxAttempts int, window time.Duration) LimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	l.hits++
	if l.hits%512 == 0 {
		l.sweepLocked(now)
	}

	entry, ok := l.entries[key]
	if !ok || !now.Before(entry.resetTime) {
		l.entries[key] = &rateEntry{
			count:     1,
			resetTime: now.Add(window),
		}
		return LimitResult{Allowed: true, Remaining: maxAttempts - 1}
	}

	if entry.count < maxAttempts {
		entry.count++
		return LimitResult{Allowed: true, Remaining: maxAttempts - entry.count}
	}

	return LimitResult{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: entry.resetTime.Sub(now),
	}
}

// Reset clears the window for key. Called after a confirmed legitimate
// action so follow-up requests are not penalized.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Sweep removes entries whose window elapsed and returns the number removed.
func (l *RateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *RateLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range l.entries {
		if !now.Before(entry.resetTime) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
