package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/leadbot/internal/reliability"
)

// HTTPGenerator forwards prompts to a generic JSON text-generation endpoint.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

type httpGenerateRequest struct {
	Prompt string `json:"prompt"`
}

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGenerator{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(httpGenerateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		if reliability.IsTransientNetError(err) {
			return "", fmt.Errorf("%w: send request: %w", ErrTransient, err)
		}
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return "", fmt.Errorf("%w: generator http status %d: %s", ErrTransient, res.StatusCode, string(body))
		}
		if res.StatusCode == http.StatusUnavailableForLegalReasons || strings.Contains(string(body), "content_policy") {
			return "", fmt.Errorf("%w: generator http status %d", ErrContentPolicy, res.StatusCode)
		}
		return "", fmt.Errorf("generator http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrTransient, err)
	}

	text := strings.TrimSpace(string(body))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		text = strings.TrimSpace(extractText(obj))
	}
	if text == "" {
		return "", ErrEmptyGeneration
	}
	return text, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "response", "message", "content"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	// Completion-style payloads: {"choices":[{"text":..}]} or {"choices":[{"message":{"content":..}}]}.
	choices, _ := obj["choices"].([]any)
	if len(choices) == 0 {
		return ""
	}
	first, _ := choices[0].(map[string]any)
	if s, ok := first["text"].(string); ok {
		return s
	}
	if msg, ok := first["message"].(map[string]any); ok {
		if s, ok := msg["content"].(string); ok {
			return s
		}
	}
	return ""
}
