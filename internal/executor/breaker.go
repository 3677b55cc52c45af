package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while the breaker is
// open. The concrete error is a *CircuitOpenError.
var ErrCircuitOpen = errors.New("executor: circuit open")

// CircuitOpenError reports a call that was refused before reaching the
// backend, and how long until the breaker lets a trial call through.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrCircuitOpen, e.RetryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int32

const (
	CircuitClosed   CircuitState = iota // healthy
	CircuitOpen                         // backend unavailable, calls rejected
	CircuitHalfOpen                     // one trial call in flight
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker wraps an Executor and stops calling it after Threshold consecutive
// transport or server failures. After Cooldown a single trial call is let through;
// its result closes or reopens the circuit. Rejections count as success since
// the backend answered.
type Breaker struct {
	next      Executor
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
}

// NewBreaker wraps next. Non-positive settings default to 5 failures and 30s.
func NewBreaker(next Executor, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{next: next, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Execute(ctx context.Context, req Request) (Outcome, error) {
	if wait, ok := b.allow(); !ok {
		return Outcome{}, &CircuitOpenError{RetryAfter: wait}
	}
	out, err := b.next.Execute(ctx, req)
	b.record(err)
	return out, err
}

// allow reports whether a call may go out, and otherwise how long to wait.
func (b *Breaker) allow() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitOpen:
		if wait := b.cooldown - b.now().Sub(b.openedAt); wait > 0 {
			return wait, false
		}
		b.state = CircuitHalfOpen
		return 0, true
	case CircuitHalfOpen:
		return b.cooldown, false
	default:
		return 0, true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil || errors.Is(err, ErrRejected) {
		if b.state != CircuitClosed {
			slog.Info("executor: circuit closed")
		}
		b.failures = 0
		b.state = CircuitClosed
		return
	}
	if errors.Is(err, context.Canceled) {
		if b.state == CircuitHalfOpen {
			b.state = CircuitOpen
		}
		return
	}
	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.threshold {
		if b.state != CircuitOpen {
			slog.Warn("executor: circuit opened",
				slog.Int("failures", b.failures),
				slog.String("error", err.Error()),
			)
		}
		b.state = CircuitOpen
		b.openedAt = b.now()
	}
}
