// Package circuit guards object store calls with circuit breakers so that a
// run against an unreachable or throttling store fails fast instead of
// retrying every remaining asset.
package circuit

import (
	"context"
	stderr "errors"
	"sync"
	"time"

	"github.com/s3gallery/s3gallery/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota
	// StateOpen - calls are rejected with CIRCUIT_OPEN
	StateOpen
	// StateHalfOpen - a limited number of trial calls decide whether to close again
	StateHalfOpen
)

// String returns string representation of state
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

// Config contains circuit breaker configuration
type Config struct {
	// ConsecutiveFailures trips the default ReadyToTrip
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	// Maximum number of trial calls allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period of the closed state after which counts are cleared
	Interval time.Duration `yaml:"interval"`

	// Period of the open state after which the breaker enters half-open state
	Timeout time.Duration `yaml:"timeout"`

	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides whether err counts against the store
	IsSuccessful func(err error) bool `yaml:"-"`
}

// DefaultConfig returns the breaker settings used for store calls.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
	}
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// Breaker implements the circuit breaker pattern for one kind of store call
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewBreaker creates a closed breaker, filling unset config fields from
// DefaultConfig.
func NewBreaker(name string, config Config) *Breaker {
	defaults := DefaultConfig()
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = defaults.MaxRequests
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ReadyToTrip == nil {
		threshold := config.ConsecutiveFailures
		config.ReadyToTrip = func(c Counts) bool {
			return c.ConsecutiveFailures >= threshold
		}
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = IsStoreHealthy
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// IsStoreHealthy reports whether err leaves the store's health untouched:
// a missing key, a denied key or a caller cancellation says nothing about
// whether the store is reachable.
func IsStoreHealthy(err error) bool {
	if err == nil {
		return true
	}
	if stderr.Is(err, context.Canceled) || stderr.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.IsNotFound(err) ||
		errors.HasCode(err, errors.ErrCodeAccessDenied) ||
		errors.HasCode(err, errors.ErrCodeOperationCanceled)
}

// Execute runs fn if the breaker allows it. A rejected call returns a
// CIRCUIT_OPEN error without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState(time.Now())
	if state == StateOpen {
		return b.rejection("circuit breaker is open")
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return b.rejection("too many trial requests while half-open")
	}

	b.counts.onRequest()
	return nil
}

func (b *Breaker) rejection(msg string) error {
	return errors.NewError(errors.ErrCodeCircuitOpen, msg).
		WithComponent("circuit").
		WithOperation(b.name).
		WithRetryable(false)
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)

	if b.config.IsSuccessful(err) {
		b.counts.onSuccess()
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state

	b.state = state
	b.counts.clear()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// State returns the current state of the breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts.clear()
	b.setState(StateClosed, time.Now())
}

// Name returns the name of the breaker
func (b *Breaker) Name() string {
	return b.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}
