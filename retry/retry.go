// Package retry repeats provider calls that fail with a transient error.
//
// Information Hiding:
// - Backoff schedule
// - Which error kinds are retriable
// - Normalisation of foreign errors into the provider taxonomy
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/llmrelay/llm"
	"github.com/richinex/llmrelay/metrics"
)

// Policy controls how many attempts are made and how long to wait between them.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt. It doubles afterwards.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	// Overrides replaces the default retriable decision for specific kinds.
	Overrides map[llm.ErrorKind]bool
}

// DefaultPolicy returns three attempts with 2s and 4s waits.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
	}
}

var retriableKinds = map[llm.ErrorKind]bool{
	llm.KindTimeout:                true,
	llm.KindTemporarilyUnavailable: true,
	llm.KindConnectionFailed:       true,
	llm.KindFormatViolation:        true,
	llm.KindExtractionFailed:       true,
	llm.KindRateLimited:            true,
}

// Retriable reports whether an error of this kind is worth another attempt
// against the same provider. QuotaExceeded and AuthInvalid never are unless
// overridden; Unknown is not by default.
func (p Policy) Retriable(kind llm.ErrorKind) bool {
	if v, ok := p.Overrides[kind]; ok {
		return v
	}
	return retriableKinds[kind]
}

// maxDelay is where doubling saturates when no MaxDelay is set.
const maxDelay = time.Duration(1<<63 - 1)

// Delay returns the wait before the given attempt (1-based). The first
// attempt never waits.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller runs calls under a Policy.
type Controller struct {
	Policy  Policy
	Logger  *zap.Logger
	Metrics *metrics.Recorder

	// Sleep replaces the real wait in tests.
	Sleep SleepFunc
}

// NewController creates a controller. logger and recorder may be nil.
func NewController(policy Policy, logger *zap.Logger, recorder *metrics.Recorder) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		Policy:  policy,
		Logger:  logger,
		Metrics: recorder,
		Sleep:   sleep,
	}
}

// Generate calls p.Generate under the controller's policy.
func (c *Controller) Generate(ctx context.Context, p llm.Provider, req llm.GenerationRequest) (llm.Payload, error) {
	return Do(ctx, c, p.Kind(), func(ctx context.Context) (llm.Payload, error) {
		return p.Generate(ctx, req)
	})
}

// Do calls fn until it succeeds, fails with a non-retriable error or the
// policy runs out of attempts. Failures come back as *llm.ProviderError with
// Attempts set. If ctx is cancelled, Do returns ctx.Err().
func Do[T any](ctx context.Context, c *Controller, provider llm.ProviderKind, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	logger := c.logger().With(zap.String("provider", provider.String()))
	maxAttempts := c.Policy.attempts()

	var lastErr *llm.ProviderError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.Policy.Delay(attempt)
			logger.Info("retrying provider call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.String("kind", lastErr.Kind.String()))
			if err := c.sleep(ctx, delay); err != nil {
				return zero, err
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		start := time.Now()
		result, err := fn(ctx)
		c.Metrics.ObserveAttempt(provider.String(), time.Since(start), err)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		lastErr = normalise(provider, err, attempt)
		if !c.Policy.Retriable(lastErr.Kind) {
			logger.Warn("provider call failed, not retrying",
				zap.Int("attempt", attempt),
				zap.String("kind", lastErr.Kind.String()),
				zap.Error(lastErr))
			return zero, lastErr
		}
		logger.Warn("provider call failed",
			zap.Int("attempt", attempt),
			zap.String("kind", lastErr.Kind.String()),
			zap.Error(lastErr))
	}

	return zero, lastErr
}

// normalise returns a copy of err as a *llm.ProviderError carrying attempt.
func normalise(provider llm.ProviderKind, err error, attempt int) *llm.ProviderError {
	pe, ok := llm.AsProviderError(err)
	if !ok {
		return &llm.ProviderError{
			Kind:     llm.KindUnknown,
			Provider: provider,
			Message:  err.Error(),
			Attempts: attempt,
			Cause:    err,
		}
	}
	out := *pe
	out.Attempts = attempt
	return &out
}

func (c *Controller) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep == nil {
		return sleep(ctx, d)
	}
	return c.Sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
