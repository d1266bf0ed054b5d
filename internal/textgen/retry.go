package textgen

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/leadbot/internal/reliability"
)

// RetryGenerator retries ErrTransient failures, empty output included, with
// capped exponential backoff. Any other failure is returned on the first attempt.
type RetryGenerator struct {
	inner      Generator
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewRetryGenerator(inner Generator, maxRetries int) *RetryGenerator {
	return &RetryGenerator{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   4 * time.Second,
	}
}

// WithBackoff overrides the backoff bounds.
func (g *RetryGenerator) WithBackoff(base, maxDelay time.Duration) *RetryGenerator {
	g.baseDelay = base
	g.maxDelay = maxDelay
	return g
}

func (g *RetryGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			if err := reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt-1, g.baseDelay, g.maxDelay)); err != nil {
				return "", lastErr
			}
		}
		text, err := g.inner.Generate(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return "", err
		}
	}
	return "", lastErr
}
