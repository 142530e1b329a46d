package livequery

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BreakerState is the breaker's current mode.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // endpoint considered down, calls fail fast
	BreakerHalfOpen                     // cooldown elapsed, probing
)

// BreakerOptions configures the failure breaker.
type BreakerOptions struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration

	// SuccessThreshold is the number of consecutive probe successes needed
	// to close again.
	SuccessThreshold int
}

func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker latches repeated live-query failures so a dead endpoint degrades
// the remaining pools immediately instead of burning a full retry budget
// per pool.
type Breaker struct {
	opts BreakerOptions

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

func NewBreaker(opts BreakerOptions) *Breaker {
	return &Breaker{opts: opts}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.opts.Cooldown {
			b.state = BreakerHalfOpen
			b.successes = 0
			logrus.Info("Live-query breaker half-open, probing endpoint")
			return true
		}
		return false
	}
	return true
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.opts.SuccessThreshold {
			b.state = BreakerClosed
			logrus.Info("Live-query breaker closed")
		}
	}
}

// RecordFailure notes a failed call, opening the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.opts.FailureThreshold) {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		logrus.WithField("failures", b.failures).Warn("Live-query breaker open")
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
