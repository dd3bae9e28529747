// Package ratelimit computes wait times for assistant API rate limits and
// the pacing delays between calls. Backoff doubles with each consecutive
// hit, jittered by ten percent, capped at a configurable maximum. A hint
// from the server overrides the computed wait.
package ratelimit

import (
	"math/rand"
	"time"
)

// Limiter tracks consecutive rate-limit hits and produces wait durations.
// The clock and random source are injectable for tests; the zero values
// fall back to time.Now and the global rand.
type Limiter struct {
	BaseWait   time.Duration
	MaxWait    time.Duration
	Multiplier float64

	// DelayBetweenCalls spaces successive assistant calls.
	DelayBetweenCalls time.Duration
	// DelayAfterFailure is the longer pause after a failed fix attempt.
	DelayAfterFailure time.Duration

	now     func() time.Time
	randPct func() float64 // uniform in [0, 1)

	consecutive  int
	totalHits    int
	totalWaited  time.Duration
	lastHit      time.Time
	limitedUntil time.Time
	lastSuccess  time.Time
}

// New returns a Limiter with the given policy.
func New(base, max time.Duration, multiplier float64) *Limiter {
	if multiplier <= 1 {
		multiplier = 2.0
	}
	return &Limiter{
		BaseWait:   base,
		MaxWait:    max,
		Multiplier: multiplier,
		now:        time.Now,
		randPct:    rand.Float64,
	}
}

// WithClock overrides the clock and random source. Used in tests.
func (l *Limiter) WithClock(now func() time.Time, randPct func() float64) *Limiter {
	l.now = now
	l.randPct = randPct
	return l
}

// RecordHit registers a rate-limit response and returns how long to wait
// and the wall-clock time the wait ends. When the server supplied a
// retry-after hint, that value is used exactly. Otherwise the wait is
// base * multiplier^n where n is the number of consecutive hits seen
// before this one, jittered by up to ten percent in either direction and
// clamped to [BaseWait, MaxWait].
func (l *Limiter) RecordHit(retryAfter time.Duration) (time.Duration, time.Time) {
	var wait time.Duration
	if retryAfter > 0 {
		wait = retryAfter
	} else {
		wait = l.backoff(l.consecutive)
	}
	l.consecutive++
	l.totalHits++
	l.totalWaited += wait
	l.lastHit = l.now()
	l.limitedUntil = l.lastHit.Add(wait)
	return wait, l.limitedUntil
}

func (l *Limiter) backoff(hits int) time.Duration {
	wait := float64(l.BaseWait)
	for i := 0; i < hits; i++ {
		wait *= l.Multiplier
	}
	if max := float64(l.MaxWait); wait > max {
		wait = max
	}

	// Jitter in [-10%, +10%], then re-clamp so the floor and cap hold.
	jitter := (l.randPct()*2 - 1) * 0.10
	wait *= 1 + jitter
	if wait < float64(l.BaseWait) {
		wait = float64(l.BaseWait)
	}
	if max := float64(l.MaxWait); wait > max {
		wait = max
	}
	return time.Duration(wait)
}

// RecordSuccess resets the consecutive counter after a call that was not
// rate limited and stamps the success time pacing is measured from.
// Lifetime totals are kept.
func (l *Limiter) RecordSuccess() {
	l.consecutive = 0
	l.lastSuccess = l.now()
}

// PacingDelay returns the remaining spacing before the next assistant call:
// DelayBetweenCalls measured from the last recorded success, clamped at
// zero. The first call, and any call made after the spacing has already
// elapsed, proceeds immediately.
func (l *Limiter) PacingDelay() time.Duration {
	if l.lastSuccess.IsZero() {
		return 0
	}
	remaining := l.DelayBetweenCalls - l.now().Sub(l.lastSuccess)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FailureDelay returns the pause to insert after a failed fix attempt.
func (l *Limiter) FailureDelay() time.Duration {
	return l.DelayAfterFailure
}

// Stats reports lifetime rate-limit counters for analytics and the status
// surface. LastHit is zero when no hit has been recorded; RemainingCooldown
// is how long until the most recent wait expires, zero once it has passed.
type Stats struct {
	ConsecutiveHits   int
	TotalHits         int
	TotalWaited       time.Duration
	LastHit           time.Time
	RemainingCooldown time.Duration
}

// Stats returns the current counters.
func (l *Limiter) Stats() Stats {
	var cooldown time.Duration
	if !l.limitedUntil.IsZero() {
		if remaining := l.limitedUntil.Sub(l.now()); remaining > 0 {
			cooldown = remaining
		}
	}
	return Stats{
		ConsecutiveHits:   l.consecutive,
		TotalHits:         l.totalHits,
		TotalWaited:       l.totalWaited,
		LastHit:           l.lastHit,
		RemainingCooldown: cooldown,
	}
}
