// Package poll repeatedly queries a slow external operation until it reports
// ready or failed, with exponential backoff and attempt and wall-clock budgets.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Static errors for poll outcomes.
var (
	// ErrTimeout is matched by errors returned when the attempt or time budget is exhausted.
	ErrTimeout = errors.New("poll: operation did not finish in time")
	// ErrFailed is matched by errors returned when the operation reports failure.
	ErrFailed = errors.New("poll: operation failed")
	// ErrInvalidConfig is returned for a Config that cannot make progress.
	ErrInvalidConfig = errors.New("poll: invalid config")
)

// TimeoutError reports how far polling got before giving up.
type TimeoutError struct {
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll: operation not ready after %d attempts (%s)", e.Attempts, e.Elapsed.Round(time.Second))
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// FailedError carries the reason the external operation gave for failing.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return "poll: operation failed"
	}
	return "poll: operation failed: " + e.Reason
}

// Is makes errors.Is(err, ErrFailed) true.
func (e *FailedError) Is(target error) bool {
	return target == ErrFailed
}

// Config bounds one polling loop.
type Config struct {
	// MaxAttempts is the maximum number of pollOnce calls.
	MaxAttempts int
	// InitialDelay is the wait after the first not-ready poll.
	InitialDelay time.Duration
	// MaxDelay caps the wait between polls.
	MaxDelay time.Duration
	// Multiplier grows the delay after each wait. Values below 1 are treated as 1.
	Multiplier float64
	// MaxWait is the total wall-clock budget. Zero disables it.
	MaxWait time.Duration
}

// BrollDefaults returns the preset used for background clip generation.
func BrollDefaults() Config {
	return Config{
		MaxAttempts:  40,
		InitialDelay: 15 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.5,
		MaxWait:      30 * time.Minute,
	}
}

// CompositionDefaults returns the preset used for presenter composition.
func CompositionDefaults() Config {
	return Config{
		MaxAttempts:  180,
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   1,
		MaxWait:      20 * time.Minute,
	}
}

// Validate reports whether c can drive a polling loop.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.MaxWait < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// nextDelay grows d by the multiplier, capped at MaxDelay.
func (c Config) nextDelay(d time.Duration) time.Duration {
	m := c.Multiplier
	if m < 1 {
		m = 1
	}
	next := time.Duration(float64(d) * m)
	if c.MaxDelay > 0 && next > c.MaxDelay {
		next = c.MaxDelay
	}
	return next
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Engine holds the clock and sleeper shared by polling loops.
// The zero value is not usable; use NewEngine.
type Engine struct {
	sleep Sleeper
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSleeper replaces the real sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		e.sleep = s
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine that sleeps on timers.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Await polls until isReady or isFailed holds for the latest status.
//
// A ready status is returned as-is. A failed status stops immediately with a
// *FailedError. An error from pollOnce is returned unchanged, since transport
// retries belong to the caller of the external API. Running out of attempts
// yields a *TimeoutError, as does a next delay that would end past MaxWait;
// delays are never shortened. Cancelling ctx stops the wait and returns
// ctx.Err().
func Await[S any](
	ctx context.Context,
	e *Engine,
	cfg Config,
	pollOnce func(ctx context.Context) (S, error),
	isReady func(S) bool,
	isFailed func(S) (string, bool),
) (S, error) {
	var zero S
	if err := cfg.Validate(); err != nil {
		return zero, err
	}
	if e == nil {
		e = NewEngine()
	}

	start := e.now()
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		status, err := pollOnce(ctx)
		if err != nil {
			return zero, err
		}
		if reason, failed := isFailed(status); failed {
			return zero, &FailedError{Reason: reason}
		}
		if isReady(status) {
			return status, nil
		}

		elapsed := e.now().Sub(start)
		if attempt >= cfg.MaxAttempts {
			return zero, &TimeoutError{Attempts: attempt, Elapsed: elapsed}
		}
		if cfg.MaxWait > 0 && elapsed+delay > cfg.MaxWait {
			return zero, &TimeoutError{Attempts: attempt, Elapsed: elapsed}
		}

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay = cfg.nextDelay(delay)
	}
}
