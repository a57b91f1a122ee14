package llmclient

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tasker/types"
)

// RetryPolicy configures the exponential-backoff retry wrapper every
// provider adapter's Chat method runs through.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy matches spec §4.D: up to 3 attempts, exponential
// backoff, on RateLimited/Unavailable only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// withRetry runs fn, retrying on errors whose *types.Error reports
// Retryable() true, up to policy.MaxRetries additional attempts.
func withRetry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func() (types.ChatResponse, error)) (types.ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(policy, attempt)
			logger.Debug("retrying llm call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return types.ChatResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		tErr := types.AsError(err)
		if tErr == nil || !tErr.Retryable() {
			return types.ChatResponse{}, err
		}
		if attempt >= policy.MaxRetries {
			break
		}
	}

	return types.ChatResponse{}, lastErr
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt-1))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(policy.InitialDelay) {
		delay = float64(policy.InitialDelay)
	}
	return time.Duration(delay)
}
