// Package textgen adapts text-generation backends to a single prompt-in, text-out call.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTransient marks failures worth retrying: network errors, timeouts, 429/5xx.
	ErrTransient = errors.New("text generation transient failure")
	// ErrContentPolicy marks refusals by the backend's moderation layer.
	ErrContentPolicy = errors.New("text generation refused by content policy")
	// ErrEmptyGeneration marks a successful call that produced no text. It is transient.
	ErrEmptyGeneration = fmt.Errorf("%w: empty generation", ErrTransient)
)

// Generator renders generated text for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config controls generator construction.
type Config struct {
	Mode          string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	HTTPURL       string
	Timeout       time.Duration
	MaxRetries    int
}

// NewGenerator builds the configured backend wrapped with transient-failure retries.
func NewGenerator(cfg Config) (Generator, error) {
	base, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MaxRetries <= 0 {
		return base, nil
	}
	return NewRetryGenerator(base, cfg.MaxRetries), nil
}

func newBackend(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoGenerator(cfg)
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.Timeout,
		})
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("text generation HTTP url is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockGenerator(nil), nil
	default:
		return nil, fmt.Errorf("unsupported text generation mode %q", cfg.Mode)
	}
}

// newAutoGenerator prefers OpenAI, falls back to the HTTP backend when both are configured,
// and uses the mock only when nothing is configured.
func newAutoGenerator(cfg Config) (Generator, error) {
	var httpGen Generator
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		httpGen = NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout)
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		oa, err := NewOpenAIGenerator(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if httpGen != nil {
			return NewFallbackGenerator(oa, httpGen), nil
		}
		return oa, nil
	}
	if httpGen != nil {
		return httpGen, nil
	}
	return NewMockGenerator(nil), nil
}

// Kind labels an error for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrContentPolicy):
		return "content_policy"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "other"
	}
}
