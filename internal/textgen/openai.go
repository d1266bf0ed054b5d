package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ent0n29/leadbot/internal/reliability"
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// OpenAIGenerator sends each prompt as a single user message to the chat completions API.
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// RetryGenerator owns retries so backoff and error kinds stay consistent across backends.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	return &OpenAIGenerator{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: temperature,
	}, nil
}

func (g *OpenAIGenerator) Model() string { return g.model }

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", ErrTransient)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", fmt.Errorf("%w: finish reason content_filter", ErrContentPolicy)
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", ErrEmptyGeneration
	}
	return text, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == "content_policy_violation" || apiErr.Code == "content_filter" {
			return fmt.Errorf("%w: %w", ErrContentPolicy, err)
		}
		if reliability.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return fmt.Errorf("openai chat completion: %w", err)
	}
	if reliability.IsTransientNetError(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return fmt.Errorf("openai chat completion: %w", err)
}
