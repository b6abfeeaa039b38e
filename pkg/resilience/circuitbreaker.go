package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"
)

// ErrCircuitOpen is returned without calling the protected function while
// the breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// State represents the current state of a circuit breaker
type State string

const (
	// StateClosed lets requests through
	StateClosed State = "closed"
	// StateOpen short-circuits requests until RetryTimeout elapses
	StateOpen State = "open"
	// StateHalfOpen admits a limited number of probe requests
	StateHalfOpen State = "half-open"
)

// Config holds configuration for a circuit breaker
type Config struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every error except context cancellation.
	IsFailure func(error) bool
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// Metrics is a point-in-time snapshot of breaker counters
type Metrics struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	TotalRequests    uint64    `json:"total_requests"`
	TotalFailures    uint64    `json:"total_failures"`
	TotalSuccesses   uint64    `json:"total_successes"`
	OpenCircuitCount uint64    `json:"open_circuit_count"`
	LastFailureTime  time.Time `json:"last_failure_time"`
}

// CircuitBreaker implements the Circuit Breaker pattern
type CircuitBreaker struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu               sync.Mutex
	state            State
	failureCount     uint
	successCount     uint
	halfOpenInFlight uint
	nextAttemptTime  time.Time
	metrics          Metrics
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg Config, log *logger.Logger) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	return &CircuitBreaker{
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		state:   StateClosed,
		metrics: Metrics{Name: cfg.Name},
	}
}

// Execute runs fn through the circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		cb.log.Warn("Circuit breaker preventing request", "name", cb.cfg.Name)
		return ErrCircuitOpen
	}

	start := cb.now()
	err := fn(ctx)

	if err != nil && cb.cfg.IsFailure(err) {
		cb.recordFailure()
		cb.log.Warn("Circuit breaker recorded failure",
			"name", cb.cfg.Name,
			"error", err.Error(),
			"duration", cb.now().Sub(start).String(),
		)
		return err
	}

	cb.recordSuccess()
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.TotalRequests++

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			return false
		}
		cb.toHalfOpen()
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.SuccessThreshold {
			return false
		}
		cb.halfOpenInFlight++
		return true
	}
	return false
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.TotalSuccesses++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.toClosed()
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.TotalFailures++
	cb.metrics.LastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.toOpen()
		}
	case StateHalfOpen:
		cb.toOpen()
	}
}

func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.metrics.OpenCircuitCount++
	cb.nextAttemptTime = cb.now().Add(cb.cfg.RetryTimeout)

	cb.log.Info("Circuit breaker opened",
		"name", cb.cfg.Name,
		"failures", cb.failureCount,
		"next_attempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.successCount = 0
	cb.halfOpenInFlight = 0

	cb.log.Info("Circuit breaker half-open", "name", cb.cfg.Name)
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenInFlight = 0

	cb.log.Info("Circuit breaker closed", "name", cb.cfg.Name)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns the current counters
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := cb.metrics
	m.State = cb.state
	return m
}
