package chat

import (
	"errors"
	"sync"
	"time"
)

// ErrModelUnavailable is returned while the breaker is open.
var ErrModelUnavailable = errors.New("model temporarily unavailable")

// CircuitState is the breaker's phase.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig configures the model-call circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerConfig returns the defaults used when a field is zero.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// breaker guards the model API against hammering a failing upstream.
// After FailureThreshold consecutive failures it opens and rejects calls
// until Cooldown passes, then lets probes through half-open.
type breaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	cfg         BreakerConfig
}

func newBreaker(cfg BreakerConfig) *breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &breaker{state: CircuitClosed, cfg: cfg}
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitOpen:
		if time.Since(b.lastFailure) <= b.cfg.Cooldown {
			return ErrModelUnavailable
		}
		b.state = CircuitHalfOpen
		b.successes = 0
	}
	return nil
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = CircuitClosed
			b.failures = 0
		}
	case CircuitClosed:
		b.failures = 0
	}
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	switch b.state {
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = CircuitOpen
		}
	case CircuitHalfOpen:
		b.state = CircuitOpen
	}
}

// currentState is used by tests and the health endpoint.
func (b *breaker) currentState() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
