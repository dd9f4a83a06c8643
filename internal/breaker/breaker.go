// Package breaker implements a circuit breaker: it tracks
// consecutive task failures across a whole plan run and opens for a
// cooldown window once a threshold streak is hit, resetting on any
// success.
package breaker

import "time"

// DefaultThreshold and DefaultCooldown are the breaker's default settings.
const (
	DefaultThreshold = 3
	DefaultCooldown  = 300 * time.Second
)

// Breaker is not safe for concurrent use — the orchestrator's own loop is
// single-threaded, so no locking is needed.
type Breaker struct {
	threshold       int
	cooldown        time.Duration
	consecutiveFail int
	openUntil       time.Time
}

// New constructs a breaker with the given threshold and cooldown; a
// threshold or cooldown of zero falls back to the package defaults.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// RecordSuccess resets the consecutive-failure streak.
func (b *Breaker) RecordSuccess() {
	b.consecutiveFail = 0
}

// RecordFailure increments the streak and opens the breaker once the
// threshold is reached.
func (b *Breaker) RecordFailure(now time.Time) {
	b.consecutiveFail++
	if b.consecutiveFail >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
	}
}

// Open reports whether the breaker is currently in cooldown at the given
// time; no new tasks may be spawned while Open is true.
func (b *Breaker) Open(now time.Time) bool {
	return now.Before(b.openUntil)
}

// OpenUntil returns the time the breaker will close, the zero value if it
// has never opened.
func (b *Breaker) OpenUntil() time.Time {
	return b.openUntil
}

// ConsecutiveFailures exposes the current streak length, for metrics and
// logging.
func (b *Breaker) ConsecutiveFailures() int {
	return b.consecutiveFail
}
