// Package retry provides retry logic with exponential backoff for object store calls.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/s3gallery/s3gallery/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds ±20% randomness to every delay
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors is a list of error codes that trigger a retry even
	// when the error itself is not flagged retryable
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the retry configuration used for object store calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeConnectionTimeout,
			errors.ErrCodeConnectionFailed,
			errors.ErrCodeNetworkError,
			errors.ErrCodeOperationTimeout,
			errors.ErrCodeSlowDown,
			errors.ErrCodeInternalError,
		},
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 200 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// Config returns the effective configuration.
func (r *Retryer) Config() Config {
	return r.config
}

// Do executes fn with retry logic and context support.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("operation canceled after %d attempts: %w", attempt-1, lastErr)
			}
			return errors.Wrap(errors.ErrCodeOperationCanceled, "operation canceled", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			if attempt > 1 {
				return errors.Wrap(errors.ErrCodeRetryExhausted,
					fmt.Sprintf("gave up after %d attempts", attempt), err)
			}
			return err
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, lastErr)
		case <-timer.C:
		}
	}

	return errors.Wrap(errors.ErrCodeRetryExhausted,
		fmt.Sprintf("max retry attempts (%d) exceeded", r.config.MaxAttempts), lastErr)
}

// shouldRetry determines if an error is retryable
func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}
	if stderr.Is(err, context.Canceled) || stderr.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ge *errors.GalleryError
	if !stderr.As(err, &ge) {
		return false
	}
	if ge.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if ge.Code == code {
			return true
		}
	}
	return false
}

// calculateDelay calculates the delay for the next retry attempt
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	// initialDelay * multiplier^(attempt-1)
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// WithOnRetry returns a new Retryer with a retry callback
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.OnRetry = callback
	return New(newConfig)
}
