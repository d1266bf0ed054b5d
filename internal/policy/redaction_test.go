package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Escríbeme a sam@example.com o al +34 (555) 123-9876 y paga con 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIILeavesPlainText(t *testing.T) {
	out, changed := RedactPII("quiero reservar una mesa")
	if changed || out != "quiero reservar una mesa" {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}

func TestRedactKnown(t *testing.T) {
	got := RedactKnown("Hola, soy JUAN perez", "Juan Perez", "", "x")
	if got != "Hola, soy [REDACTED_NAME]" {
		t.Fatalf("RedactKnown() = %q", got)
	}
}

func TestPreview(t *testing.T) {
	got := Preview("mi correo es  ana@x.com\ny me llamo Ana", 0, "Ana")
	if got != "mi correo es [REDACTED_EMAIL] y me llamo [REDACTED_NAME]" {
		t.Fatalf("Preview() = %q", got)
	}
	if got := Preview("añadir pedido", 5); got != "añadi…" {
		t.Fatalf("Preview() truncated = %q", got)
	}
}
