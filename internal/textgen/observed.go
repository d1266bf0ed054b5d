package textgen

import (
	"context"
	"time"
)

// ObserveFunc receives the duration and outcome of every generation call.
type ObserveFunc func(d time.Duration, err error)

type observedGenerator struct {
	inner   Generator
	observe ObserveFunc
}

// Observe wraps g so every call is reported to fn.
func Observe(g Generator, fn ObserveFunc) Generator {
	if fn == nil {
		return g
	}
	return &observedGenerator{inner: g, observe: fn}
}

func (g *observedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	text, err := g.inner.Generate(ctx, prompt)
	g.observe(time.Since(start), err)
	return text, err
}
