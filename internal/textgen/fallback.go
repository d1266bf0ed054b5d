package textgen

import (
	"context"
	"errors"
	"fmt"
)

// FallbackGenerator attempts a primary generator first and falls back on error.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.primary == nil {
		if g.fallback != nil {
			return g.fallback.Generate(ctx, prompt)
		}
		return "", errors.New("fallback generator misconfigured")
	}

	text, err := g.primary.Generate(ctx, prompt)
	if err == nil {
		return text, nil
	}
	// A moderation refusal would be repeated by any backend; cancellation means nobody is waiting.
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrContentPolicy) || g.fallback == nil {
		return "", err
	}

	text, fallbackErr := g.fallback.Generate(ctx, prompt)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary generator error: %w; fallback generator error: %w", err, fallbackErr)
	}
	return text, nil
}
