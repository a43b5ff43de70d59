package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBreakerOpen is returned while a Breaker is skipping deliveries.
var ErrBreakerOpen = errors.New("notifier circuit is open")

// BreakerState is the state of a Breaker's circuit.
type BreakerState int

const (
	// BreakerClosed delivers every event and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen drops events without calling the wrapped notifier.
	BreakerOpen
	// BreakerHalfOpen lets probe deliveries through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerSettings tunes a Breaker. Zero values take the defaults of five
// failures to open, two successes to close and a 30 second cooldown.
type BreakerSettings struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// Breaker guards a remote notifier with a circuit breaker so an unreachable
// broker does not add a network timeout to every lifecycle operation.
// Events published while the circuit is open are dropped and logged.
type Breaker struct {
	next   Notifier
	logger *zap.Logger
	now    func() time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker wraps next.
func NewBreaker(next Notifier, settings BreakerSettings, logger *zap.Logger) *Breaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold < 1 {
		settings.SuccessThreshold = 2
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		next:             next,
		logger:           logger,
		now:              time.Now,
		failureThreshold: settings.FailureThreshold,
		successThreshold: settings.SuccessThreshold,
		cooldown:         settings.Cooldown,
	}
}

// Publish delivers evt unless the circuit is open.
func (b *Breaker) Publish(ctx context.Context, evt Event) error {
	if !b.allow() {
		b.logger.Debug("event dropped, notifier circuit open",
			zap.String("event", string(evt.Type)),
			zap.String("request_id", evt.RequestID),
		)
		return ErrBreakerOpen
	}
	err := b.next.Publish(ctx, evt)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State returns the current state, moving an expired open circuit to
// half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireLocked()
	return b.state != BreakerOpen
}

// expireLocked must be called with mu held.
func (b *Breaker) expireLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
			b.logger.Info("notifier circuit closed")
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.openLocked()
		}
	case BreakerHalfOpen:
		// One failed probe reopens.
		b.openLocked()
	}
}

func (b *Breaker) openLocked() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
	b.logger.Warn("notifier circuit opened",
		zap.Int("consecutive_failures", b.failures),
		zap.Duration("cooldown", b.cooldown),
	)
}
