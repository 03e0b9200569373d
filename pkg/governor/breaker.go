package governor

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

// Breaker states.
const (
	// StateClosed lets requests proceed normally.
	StateClosed State = iota

	// StateOpen holds all requests until the cooldown elapses.
	StateOpen
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker tracks the recent global error rate across all endpoints and
// opens once the count of failures inside the rolling window reaches
// the threshold. It models systemic distress (the whole process being
// rate-limited), distinct from per-endpoint cooldown which models a
// single unhealthy backend.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration

	events   []time.Time
	state    State
	openedAt time.Time
}

// BreakerStats is a copy of the breaker's state for status reporting.
type BreakerStats struct {
	State    string    `json:"state"`
	Events   int       `json:"events"`
	OpenedAt time.Time `json:"openedAt,omitempty"`
}

// NewBreaker creates a circuit breaker that opens after threshold
// failures within window and holds requests for cooldown.
func NewBreaker(threshold int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
	}
}

// RecordFailure appends a failure event at the given time and prunes
// events that have aged out of the window.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, now)
	b.prune(now)
}

// ShouldBlock evaluates the breaker at the given time. It returns true
// with the remaining wait while the circuit is open. Transitions
// happen here and only here: closed moves to open exactly when the
// in-window failure count reaches the threshold, and open moves back
// to closed (clearing events) once the cooldown elapses. Calling it
// twice with no intervening failures yields the same answer.
func (b *Breaker) ShouldBlock(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		reopen := b.openedAt.Add(b.cooldown)
		if now.Before(reopen) {
			return true, reopen.Sub(now)
		}
		b.state = StateClosed
		b.events = nil
		return false, 0
	}

	b.prune(now)
	if len(b.events) >= b.threshold {
		b.state = StateOpen
		b.openedAt = now
		return true, b.cooldown
	}
	return false, 0
}

// State returns the current breaker state without evaluating
// transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the breaker state for status reporting.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := BreakerStats{
		State:  b.state.String(),
		Events: len(b.events),
	}
	if b.state == StateOpen {
		stats.OpenedAt = b.openedAt
	}
	return stats
}

// prune removes events that have aged out. An event exactly at the
// window boundary is aged out, not counted.
func (b *Breaker) prune(now time.Time) {
	cutoff := 0
	for cutoff < len(b.events) && now.Sub(b.events[cutoff]) >= b.window {
		cutoff++
	}
	if cutoff > 0 {
		b.events = append(b.events[:0], b.events[cutoff:]...)
	}
}
