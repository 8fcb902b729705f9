package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"receiptsync/internal/metrics"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a circuit breaker
type Config struct {
	Name string
	// MaxFailures consecutive failures open the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenProbes successful probes close the circuit again.
	HalfOpenProbes uint32
}

// CircuitBreaker stops calls to the relay after repeated failures so the
// send queue does not hammer a peer that is down
type CircuitBreaker struct {
	config Config
	logger *logrus.Logger
	now    func() time.Time

	mu             sync.Mutex
	state          State
	failures       uint32
	openedAt       time.Time
	probesInFlight uint32
	probeSuccesses uint32
}

// New creates a circuit breaker. Zero config fields fall back to
// five failures, a thirty second open timeout and one probe.
func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.HalfOpenProbes == 0 {
		config.HalfOpenProbes = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	cb := &CircuitBreaker{config: config, logger: logger, now: time.Now}
	cb.publish()
	return cb
}

// Execute runs fn unless the circuit is open. Context cancellation of the
// caller is not counted as a failure of the peer.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.onSuccess()
	case stderrors.Is(err, context.Canceled):
		cb.release()
	default:
		cb.onFailure()
	}
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.OpenTimeout {
		cb.transition(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.probesInFlight+cb.probeSuccesses < cb.config.HalfOpenProbes {
			cb.probesInFlight++
			return nil
		}
	}
	return &OpenError{Name: cb.config.Name, State: cb.state}
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probesInFlight > 0 {
		cb.probesInFlight--
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probesInFlight--
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.config.HalfOpenProbes {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.probesInFlight = 0
	cb.probeSuccesses = 0

	entry := cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.config.Name,
		"from":            from.String(),
		"state":           to.String(),
	})
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		entry.WithField("failures", cb.failures).Warn("Circuit breaker opened due to failures")
	case StateClosed:
		cb.failures = 0
		entry.Info("Circuit breaker closed after successful recovery")
	case StateHalfOpen:
		entry.Info("Circuit breaker transitioned to half-open")
	}

	metrics.IncrementCounter("circuit_breaker_transitions_total", map[string]string{
		"name": cb.config.Name,
		"to":   to.String(),
	}, "Circuit breaker state transitions")
	cb.publish()
}

func (cb *CircuitBreaker) publish() {
	metrics.SetGauge("circuit_breaker_state", float64(cb.state), map[string]string{
		"name": cb.config.Name,
	}, "Circuit breaker state (0 closed, 1 open, 2 half-open)")
}

// GetState returns the current state, moving an expired open circuit to half-open
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.OpenTimeout {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

// OpenError is returned by Execute while the circuit rejects calls
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsOpenError reports whether err was produced by a rejecting circuit
func IsOpenError(err error) bool {
	var openErr *OpenError
	return stderrors.As(err, &openErr)
}
