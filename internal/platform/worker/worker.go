// Package worker runs background protocol tasks with bounded retries.
// Only transient gateway outages are retried; every other failure is
// recorded on the owning record and logged.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes tasks with exponential backoff on retryable errors.
type Runner struct {
	logger     zerolog.Logger
	retryable  func(error) bool
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxRetries sets how many times a retryable failure is reattempted.
func WithMaxRetries(n int) Option {
	return func(r *Runner) { r.maxRetries = n }
}

// WithBaseDelay sets the first backoff delay; each retry doubles it.
func WithBaseDelay(d time.Duration) Option {
	return func(r *Runner) { r.baseDelay = d }
}

// NewRunner creates a Runner. retryable decides which errors earn another
// attempt; nil means nothing is retried.
func NewRunner(logger zerolog.Logger, retryable func(error) bool, opts ...Option) *Runner {
	r := &Runner{
		logger:     logger,
		retryable:  retryable,
		maxRetries: 3,
		baseDelay:  2 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes fn, retrying retryable errors with exponential backoff. The
// last error is returned when attempts are exhausted.
func (r *Runner) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if r.retryable == nil || !r.retryable(err) || attempt >= r.maxRetries {
			return err
		}

		delay := r.baseDelay << attempt
		r.logger.Warn().
			Err(err).
			Str("task", name).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("task failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Go runs fn on its own goroutine via Run, logging the terminal failure.
// Callers use it for fire-and-forget callback processing where the HTTP
// response has already been sent.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) error) {
	go func() {
		if err := r.Run(ctx, name, fn); err != nil {
			r.logger.Error().Err(err).Str("task", name).Msg("task failed")
		}
	}()
}
