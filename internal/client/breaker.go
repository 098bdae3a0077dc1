package client

import (
	"sync"
	"time"
)

// BreakerState is the circuit position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// Breaker trips after a run of consecutive publish failures and holds
// the circuit open for a cooldown, then lets a single probe through.
// Safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	run      int
	trip     int
	cooldown time.Duration
	openedAt time.Time
}

// NewBreaker trips the circuit after trip consecutive failures and
// probes again once cooldown has elapsed.
func NewBreaker(trip int, cooldown time.Duration) *Breaker {
	return &Breaker{trip: trip, cooldown: cooldown}
}

// Allow reports whether an attempt may proceed. While open, the first
// call after the cooldown moves the circuit to half-open and is let
// through as a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	default:
		if time.Since(b.openedAt) > b.cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
}

// Success resets the failure run and closes a half-open circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.run = 0
	b.state = BreakerClosed
}

// Failure extends the failure run. A half-open probe failure reopens
// the circuit immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run++
	b.openedAt = time.Now()
	if b.state == BreakerHalfOpen || b.run >= b.trip {
		b.state = BreakerOpen
	}
}

// State returns the current circuit position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
