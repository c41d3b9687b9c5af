// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/mathqa/pkg/core"
	"github.com/jllopis/mathqa/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed lets every call through.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen rejects calls without running them.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen lets a trial call through to test whether the remote recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes that closes it.
	SuccessThreshold int

	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration

	// Name identifies the breaker in errors and health results.
	Name string

	// Code is the error code of rejected calls. Defaults to CodeInternal.
	Code errors.ErrorCode
}

// CircuitBreaker stops calling a remote provider after repeated failures
// and tries it again after a cooldown.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitBreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	if config.Code == "" {
		config.Code = errors.CodeInternal
	}
	return &CircuitBreaker{config: config, now: time.Now, state: StateClosed}
}

// Call runs fn unless the circuit is open. Failures caused by the caller's
// own context ending are not counted against the remote.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err != nil && ctx.Err() == nil)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	if cb.state == StateOpen {
		return errors.Newf(cb.config.Code, "%s circuit is open", cb.config.Name).
			WithContext("breaker", cb.config.Name).
			WithRecoverable(true)
	}
	return nil
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case failed && cb.state == StateHalfOpen:
		cb.trip()
	case failed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.trip()
		}
	case cb.state == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
		}
	default:
		cb.failures = 0
	}
}

// trip opens the circuit. Must be called under lock.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = 0
	cb.successes = 0
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

// Check implements core.HealthChecker. An open circuit is degraded: the
// service still answers, only calls behind the breaker fail fast.
func (cb *CircuitBreaker) Check(context.Context) core.HealthResult {
	state := cb.State()
	res := core.HealthResult{
		Component: cb.config.Name,
		Status:    core.HealthHealthy,
		Message:   string(state),
		LastCheck: cb.now(),
		Details:   map[string]any{"state": string(state)},
	}
	if state == StateOpen {
		res.Status = core.HealthDegraded
	}
	return res
}
