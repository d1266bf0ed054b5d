// Package intent maps free-text customer messages onto a closed label set.
package intent

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/ent0n29/leadbot/internal/textgen"
)

// Label is one member of the closed intent taxonomy.
type Label string

const (
	HoursInfo         Label = "hours_info"
	ReservationInfo   Label = "reservation_info"
	CancelReservation Label = "cancel_reservation"
	Complaints        Label = "complaints"
	OrderStatus       Label = "order_status"
	NewOrder          Label = "new_order"
	OrderFeedback     Label = "order_feedback"
	ProductInfo       Label = "product_info"
	Discounts         Label = "discounts"
	NotApplicable     Label = "not_applicable"
)

// Fallback is returned for any model output outside the closed set.
const Fallback = NotApplicable

var labels = []Label{
	HoursInfo,
	ReservationInfo,
	CancelReservation,
	Complaints,
	OrderStatus,
	NewOrder,
	OrderFeedback,
	ProductInfo,
	Discounts,
	NotApplicable,
}

// Labels returns the closed set in canonical order.
func Labels() []Label {
	out := make([]Label, len(labels))
	copy(out, labels)
	return out
}

// Parse normalises raw model output and maps non-members to Fallback.
func Parse(raw string) Label {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, l := range labels {
		if string(l) == s {
			return l
		}
	}
	return Fallback
}

var classifyPrompt = template.Must(template.New("classify").Parse(
	`Clasifica el siguiente mensaje de un cliente en una de estas categorías:
{{.Labels}}

Mensaje del cliente: {{.Message}}

Solo devuelve el nombre exacto de la categoría sin explicaciones ni comillas.
`))

// Classifier issues one generation request per call; there is no caching.
type Classifier struct {
	gen textgen.Generator
}

func NewClassifier(gen textgen.Generator) *Classifier {
	return &Classifier{gen: gen}
}

// Classify returns a member of the closed set. Generation errors are returned unchanged
// in kind so the caller can surface them; the label is meaningless when err != nil.
func (c *Classifier) Classify(ctx context.Context, message string) (Label, error) {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = string(l)
	}

	var buf bytes.Buffer
	if err := classifyPrompt.Execute(&buf, struct {
		Labels  string
		Message string
	}{
		Labels:  strings.Join(names, ", "),
		Message: message,
	}); err != nil {
		return Fallback, fmt.Errorf("render classify prompt: %w", err)
	}

	out, err := c.gen.Generate(ctx, buf.String())
	if err != nil {
		return Fallback, fmt.Errorf("classify intent: %w", err)
	}
	return Parse(out), nil
}
