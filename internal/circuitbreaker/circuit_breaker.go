package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

type Config struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// MaxProbes caps concurrent calls let through while half-open.
	MaxProbes     int
	OnStateChange func(name string, from State, to State)
}

const (
	defaultMaxFailures = 5
	defaultOpenTimeout = 30 * time.Second
	defaultMaxProbes   = 1

	maxMaxFailures = 1000
	maxOpenTimeout = 10 * time.Minute
	maxMaxProbes   = 100
)

// sanitize replaces out-of-range values with defaults or caps and logs each change.
func (c Config) sanitize(logger *logrus.Logger) Config {
	if c.Name == "" {
		c.Name = "unnamed"
		logger.Warn("Circuit breaker created without name, using 'unnamed'")
	}
	warn := func(field string, got, used interface{}) {
		logger.WithFields(logrus.Fields{
			"circuit_breaker": c.Name,
			"field":           field,
			"invalid_value":   got,
			"used_value":      used,
		}).Warn("Circuit breaker config value out of range")
	}

	switch {
	case c.MaxFailures <= 0:
		warn("max_failures", c.MaxFailures, defaultMaxFailures)
		c.MaxFailures = defaultMaxFailures
	case c.MaxFailures > maxMaxFailures:
		warn("max_failures", c.MaxFailures, maxMaxFailures)
		c.MaxFailures = maxMaxFailures
	}

	switch {
	case c.OpenTimeout <= 0:
		warn("open_timeout", c.OpenTimeout.String(), defaultOpenTimeout.String())
		c.OpenTimeout = defaultOpenTimeout
	case c.OpenTimeout > maxOpenTimeout:
		warn("open_timeout", c.OpenTimeout.String(), maxOpenTimeout.String())
		c.OpenTimeout = maxOpenTimeout
	}

	switch {
	case c.MaxProbes <= 0:
		warn("max_probes", c.MaxProbes, defaultMaxProbes)
		c.MaxProbes = defaultMaxProbes
	case c.MaxProbes > maxMaxProbes:
		warn("max_probes", c.MaxProbes, maxMaxProbes)
		c.MaxProbes = maxMaxProbes
	}
	return c
}

// CircuitBreaker stops calling a failing dependency for OpenTimeout after
// MaxFailures consecutive failures, then lets MaxProbes calls through to test it.
type CircuitBreaker struct {
	cfg Config

	mutex        sync.RWMutex
	state        State
	failures     int
	probes       int
	lastFailTime time.Time

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejected   int64
	stateChanges    int64
	lastStateChange time.Time

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:    config.sanitize(logger),
		state:  StateClosed,
		logger: logger,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteContext(context.Background(), func(context.Context) error {
		return fn()
	})
}

// ExecuteContext is Execute bounded by ctx. If ctx ends before fn returns the
// call counts as a failure and ctx.Err() is returned; fn sees the same ctx.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	resultChan := make(chan error, 1)
	go func() {
		resultChan <- fn(ctx)
	}()

	var err error
	select {
	case err = <-resultChan:
	case <-ctx.Done():
		err = ctx.Err()
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.totalFailures++
		cb.onFailure()
		return err
	}

	cb.totalSuccesses++
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailTime) <= cb.cfg.OpenTimeout {
			cb.totalRejected++
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.cfg.Name,
				"state":           cb.state.String(),
			}).Debug("Circuit breaker is open, rejecting call")
			return ErrCircuitBreakerOpen
		}
		cb.setState(StateHalfOpen)
		cb.probes = 0
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.MaxProbes {
			cb.totalRejected++
			return ErrCircuitBreakerOpen
		}
		cb.probes++
	}

	cb.totalRequests++
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.probes = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailTime = time.Now()

	if (cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures) || cb.state == StateHalfOpen {
		cb.setState(StateOpen)
		cb.probes = 0
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.stateChanges++
	cb.lastStateChange = time.Now()

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"from_state":      oldState.String(),
		"to_state":        newState.String(),
	}).Info("Circuit breaker state changed")

	if cb.cfg.OnStateChange != nil {
		go cb.runStateChangeCallback(oldState, newState)
	}
}

func (cb *CircuitBreaker) runStateChangeCallback(from State, to State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				cb.logger.WithFields(logrus.Fields{
					"circuit_breaker": cb.cfg.Name,
					"panic":           r,
				}).Error("Circuit breaker state change callback panicked")
			}
			close(done)
		}()
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.cfg.Name,
			"from_state":      from.String(),
			"to_state":        to.String(),
		}).Warn("Circuit breaker state change callback timed out")
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

type Metrics struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejected   int64     `json:"total_rejected"`
	StateChanges    int64     `json:"state_changes"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change,omitempty"`
}

func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return Metrics{
		Name:            cb.cfg.Name,
		State:           cb.state.String(),
		Failures:        cb.failures,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejected:   cb.totalRejected,
		StateChanges:    cb.stateChanges,
		LastFailure:     cb.lastFailTime,
		LastStateChange: cb.lastStateChange,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.probes = 0
	cb.lastFailTime = time.Time{}
}

func (cb *CircuitBreaker) String() string {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, failures=%d/%d)",
		cb.cfg.Name, cb.state.String(), cb.failures, cb.cfg.MaxFailures)
}
