package ai

import (
	"context"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"
)

// RetryConfig bounds the retry loop for one outbound service call.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// sleep is swapped for a recording stub in tests.
	sleep func(ctx context.Context, d time.Duration) error
	// jitter returns a random delay in [0, d).
	jitter func(d time.Duration) time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// WithSleep returns a copy of the config using the given sleep function.
func (c RetryConfig) WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryConfig {
	c.sleep = sleep
	return c
}

// Backoff returns the delay before retry attempt n (0-based): base doubled
// per attempt, capped at MaxDelay, plus jitter of up to half the delay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := c.BaseDelay << uint(attempt)
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	jitter := c.jitter
	if jitter == nil {
		jitter = func(d time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(d) + 1))
		}
	}
	return delay + jitter(delay/2)
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs op up to c.Attempts times, sleeping Backoff(n) between
// attempts. It returns nil as soon as op succeeds, the context error when
// cancelled, and the last op error once attempts are exhausted; the caller
// decides whether exhaustion degrades or aborts.
func Retry(ctx context.Context, logger *log.Logger, c RetryConfig, op func(ctx context.Context) error) error {
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	var lastErr error
	for attempt := 0; attempt < c.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == c.Attempts-1 {
			break
		}
		delay := c.Backoff(attempt)
		logger.Warn("Service call failed, retrying", "attempt", attempt+1, "delay", delay, "error", lastErr)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}
