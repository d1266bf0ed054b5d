package textgen

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator provides deterministic replies when no backend is configured.
type MockGenerator struct {
	reply func(prompt string) string
}

// NewMockGenerator uses reply to answer prompts; nil echoes the prompt's last line.
func NewMockGenerator(reply func(prompt string) string) *MockGenerator {
	if reply == nil {
		reply = echoLastLine
	}
	return &MockGenerator{reply: reply}
}

func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return g.reply(prompt), nil
}

func echoLastLine(prompt string) string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return fmt.Sprintf("(simulado) %s", line)
		}
	}
	return "(simulado) Hola, ¿en qué puedo ayudarte?"
}
