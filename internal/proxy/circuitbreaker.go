package proxy

import (
	"sync"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// cbState represents the operational state of a per-provider circuit breaker.
//
//	cbClosed   — normal operation; all requests pass through.
//	cbOpen     — provider is failing; requests are rejected immediately.
//	cbHalfOpen — recovery probing; requests pass until enough succeed.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// CBConfig holds circuit breaker tuning parameters. Zero values fall back to
// the package-level defaults defined in providers/provider.go.
type CBConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker. Default: providers.CBFailureThreshold (10).
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open before the next attempt
	// moves it to half-open. Default: providers.CBOpenTimeout (60s).
	OpenTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes that
	// closes the breaker. Default: providers.CBSuccessThreshold (3).
	SuccessThreshold int
}

func (c *CBConfig) failureThreshold() int {
	if c.FailureThreshold > 0 {
		return c.FailureThreshold
	}
	return providers.CBFailureThreshold
}

func (c *CBConfig) openTimeout() time.Duration {
	if c.OpenTimeout > 0 {
		return c.OpenTimeout
	}
	return providers.CBOpenTimeout
}

func (c *CBConfig) successThreshold() int {
	if c.SuccessThreshold > 0 {
		return c.SuccessThreshold
	}
	return providers.CBSuccessThreshold
}

// providerCB holds per-provider circuit breaker state.
type providerCB struct {
	mu sync.Mutex

	state        cbState
	failureCount int       // consecutive failures in Closed/HalfOpen
	successCount int       // consecutive successes in HalfOpen
	lastFailure  time.Time // for the Open→HalfOpen timer
}

// CircuitBreaker manages independent circuit breakers for each provider
// tag. It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*providerCB
	cfg      CBConfig

	now func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker with default settings for
// every tag in providers.DefaultProviderOrder.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CBConfig{})
}

// NewCircuitBreakerWithConfig creates a CircuitBreaker with custom
// thresholds. Use this to apply values loaded from configuration.
func NewCircuitBreakerWithConfig(cfg CBConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		breakers: make(map[string]*providerCB),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, name := range providers.DefaultProviderOrder {
		cb.breakers[name] = &providerCB{state: cbClosed}
	}
	return cb
}

// Allow reports whether the named provider should receive the next request.
//
//   - Closed   → always true.
//   - Open     → false, unless the open timeout has elapsed, in which case
//     the breaker transitions to HalfOpen and allows the request.
//   - HalfOpen → true.
//
// Returns true for unknown providers (the breaker is not tracking them yet).
func (cb *CircuitBreaker) Allow(provider string) bool {
	pcb := cb.get(provider)
	if pcb == nil {
		return true // unknown provider, optimistic allow
	}

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	switch pcb.state {
	case cbClosed:
		return true

	case cbOpen:
		if cb.now().Sub(pcb.lastFailure) >= cb.cfg.openTimeout() {
			pcb.state = cbHalfOpen
			pcb.failureCount = 0
			pcb.successCount = 0
			return true
		}
		return false

	case cbHalfOpen:
		return true
	}

	return true
}

// RecordSuccess marks a successful upstream call. In Closed it resets the
// consecutive failure counter; in HalfOpen it counts toward the success
// threshold and closes the breaker when reached.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	pcb := cb.get(provider)
	if pcb == nil {
		return
	}

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	switch pcb.state {
	case cbHalfOpen:
		pcb.successCount++
		if pcb.successCount >= cb.cfg.successThreshold() {
			pcb.state = cbClosed
			pcb.failureCount = 0
			pcb.successCount = 0
		}
	default:
		pcb.failureCount = 0
	}
}

// RecordFailure marks a failed upstream call. Consecutive failures at the
// threshold open the breaker from Closed; any half-open failure reopens it
// immediately.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	pcb := cb.get(provider)
	if pcb == nil {
		return
	}

	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	pcb.lastFailure = cb.now()

	switch pcb.state {
	case cbHalfOpen:
		pcb.state = cbOpen
		pcb.failureCount = 0
		pcb.successCount = 0

	default:
		pcb.failureCount++
		if pcb.failureCount >= cb.cfg.failureThreshold() {
			pcb.state = cbOpen
		}
	}
}

// State returns the current cbState for provider (useful for metrics export).
func (cb *CircuitBreaker) State(provider string) cbState {
	pcb := cb.get(provider)
	if pcb == nil {
		return cbClosed
	}
	pcb.mu.Lock()
	defer pcb.mu.Unlock()
	return pcb.state
}

// StateLabel returns a human-readable state name: "closed", "open", or
// "half_open".
func (cb *CircuitBreaker) StateLabel(provider string) string {
	switch cb.State(provider) {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func (cb *CircuitBreaker) get(provider string) *providerCB {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.breakers[provider]
}
