package openai

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig controls the circuit breaker. MaxFailures 0 disables it.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" json:"max_failures"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultBreakerConfig opens after five consecutive failures for thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second}
}

// Breaker trips after MaxFailures consecutive retryable failures. After Timeout
// one request is let through; its success closes the breaker again. Errors that
// Classify rejects are the caller's fault and do not count against the endpoint.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a closed breaker, or nil when cfg disables it.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		return nil
	}
	threshold := uint32(cfg.MaxFailures)
	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, retryable := Classify(err)
			return !retryable
		},
	})}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	if b == nil {
		return fn()
	}
	out, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return out, err
}

// Open reports whether the breaker currently rejects requests.
func (b *Breaker) Open() bool {
	return b != nil && b.cb.State() == gobreaker.StateOpen
}
