package portal

import (
	"sync"
	"time"

	"NormScanner/internal/metrics"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// hostBreaker is a per-host circuit breaker: it opens after maxFailures
// consecutive failures, stays open for cooldown, then admits exactly one
// probe to test the host.
type hostBreaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	states      map[string]*hostState
}

type hostState struct {
	state     breakerState
	failures  int
	openedAt  time.Time
	halfInUse bool
}

func newHostBreaker(maxFailures int, cooldown time.Duration, now func() time.Time) *hostBreaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &hostBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         now,
		states:      map[string]*hostState{},
	}
}

// Allow reports whether a call to host may proceed. While open it returns
// false; after cooldown it half-opens and admits a single caller.
func (b *hostBreaker) Allow(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateFor(host)
	switch st.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(st.openedAt) < b.cooldown {
			return false
		}
		st.state = breakerHalfOpen
		st.halfInUse = true
		metrics.BreakerTransitions.WithLabelValues(host, st.state.String()).Inc()
		return true
	case breakerHalfOpen:
		if st.halfInUse {
			return false
		}
		st.halfInUse = true
		return true
	}
	return true
}

// Success closes the breaker for host.
func (b *hostBreaker) Success(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateFor(host)
	if st.state != breakerClosed {
		metrics.BreakerTransitions.WithLabelValues(host, breakerClosed.String()).Inc()
	}
	st.state = breakerClosed
	st.failures = 0
	st.halfInUse = false
}

// Failure records one failed call; a half-open failure or the Nth consecutive
// closed failure reopens the breaker.
func (b *hostBreaker) Failure(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateFor(host)
	st.failures++
	st.halfInUse = false

	if st.state == breakerHalfOpen || st.failures >= b.maxFailures {
		if st.state != breakerOpen {
			metrics.BreakerTransitions.WithLabelValues(host, breakerOpen.String()).Inc()
		}
		st.state = breakerOpen
		st.openedAt = b.now()
		st.failures = 0
	}
}

func (b *hostBreaker) stateFor(host string) *hostState {
	st, ok := b.states[host]
	if !ok {
		st = &hostState{}
		b.states[host] = st
	}
	return st
}
