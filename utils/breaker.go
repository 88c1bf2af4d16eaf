package utils

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while a breaker is in its cool-off window.
var ErrBreakerOpen = errors.New("breaker is open")

// Breaker trips after a run of consecutive failures and stays open for a
// cool-off period. Auto-resolution uses it so a strategy that keeps failing
// against the same data stops burning passes until the world has a chance to
// change.
type Breaker struct {
	name     string
	limit    int
	coolOff  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func NewBreaker(name string, limit int, coolOff time.Duration) *Breaker {
	if limit <= 0 {
		limit = 5
	}
	return &Breaker{
		name:    name,
		limit:   limit,
		coolOff: coolOff,
		now:     time.Now,
	}
}

// Allow reports whether a new attempt may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.openUntil) {
		return ErrBreakerOpen
	}
	return nil
}

// Success resets the failure run.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

// Failure records a failed attempt and trips the breaker when the consecutive
// failure limit is reached.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.limit {
		b.openUntil = b.now().Add(b.coolOff)
		b.failures = 0
	}
}
