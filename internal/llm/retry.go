package llm

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgallion1/pageindex/internal/errs"
)

// RetryPolicy controls how transient failures are retried. MaxRetries is
// the total number of attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy returns three attempts with delays of 1s and 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, BackoffFactor: 2}
}

// Delay returns the wait after the given failed attempt (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	var invalidErr *InvalidResponseError
	return errors.As(err, &retryErr) || errors.As(err, &invalidErr)
}

// Caller wraps a Client with retry, throttling and latency tracking.
type Caller struct {
	client  Client
	policy  RetryPolicy
	limiter *rate.Limiter
	stats   *Stats
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithLimiter throttles every attempt through l.
func WithLimiter(l *rate.Limiter) CallerOption {
	return func(c *Caller) { c.limiter = l }
}

// WithStats records per-attempt latency into s.
func WithStats(s *Stats) CallerOption {
	return func(c *Caller) { c.stats = s }
}

// WithLogger sets the logger for attempt and outcome records.
func WithLogger(l *slog.Logger) CallerOption {
	return func(c *Caller) { c.log = l }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) CallerOption {
	return func(c *Caller) { c.sleep = fn }
}

func NewCaller(client Client, policy RetryPolicy, opts ...CallerOption) *Caller {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 1
	}
	c := &Caller{
		client: client,
		policy: policy,
		stats:  NewStats(time.Hour),
		log:    slog.Default(),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewLimiter returns a limiter for rps requests per second, or nil when
// rps is not positive.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *Caller) Model() string { return c.client.Model() }

func (c *Caller) Stats() *Stats { return c.stats }

// Call sends req and returns the reply text.
func (c *Caller) Call(ctx context.Context, op string, req Request) (string, error) {
	return c.Do(ctx, op, req, nil)
}

// Do sends req, passing each reply to check. A check failure wrapped in
// *InvalidResponseError is retried like a transient transport error.
// Exhausted or permanent failures return *errs.LLMAPIError.
func (c *Caller) Do(ctx context.Context, op string, req Request, check func(text string) error) (string, error) {
	return c.run(ctx, op, func(ctx context.Context) (string, error) {
		return c.client.Complete(ctx, req)
	}, check, nil)
}

// run drives try through the retry policy. canRetry, when set, can veto a
// retry that the error alone would allow.
func (c *Caller) run(ctx context.Context, op string, try func(ctx context.Context) (string, error), check func(text string) error, canRetry func() bool) (string, error) {
	log := c.log.With("op", op)
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxRetries; attempt++ {
		text, err := c.attempt(ctx, try)
		if err == nil && check != nil {
			err = check(text)
		}
		if err == nil {
			if attempt > 0 {
				log.Info("llm call succeeded after retry", "attempts", attempt+1)
			} else {
				log.Debug("llm call succeeded", "attempts", 1)
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err

		if !IsRetryable(err) || (canRetry != nil && !canRetry()) {
			log.Error("llm call failed", "attempt", attempt+1, "error", err)
			return "", &errs.LLMAPIError{Op: op, Attempts: attempt + 1, Err: err}
		}
		if attempt == c.policy.MaxRetries-1 {
			break
		}

		delay := c.policy.Delay(attempt)
		log.Warn("llm call failed, retrying",
			"attempt", attempt+1,
			"max_retries", c.policy.MaxRetries,
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	log.Error("llm call retries exhausted", "attempts", c.policy.MaxRetries, "error", lastErr)
	return "", &errs.LLMAPIError{Op: op, Attempts: c.policy.MaxRetries, Err: lastErr}
}

func (c *Caller) attempt(ctx context.Context, try func(ctx context.Context) (string, error)) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	start := time.Now()
	text, err := try(ctx)
	if c.stats != nil {
		if err != nil {
			c.stats.RecordFailure(time.Since(start).Milliseconds())
		} else {
			c.stats.Record(time.Since(start).Milliseconds())
		}
	}
	return text, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
