package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"user_message","message":"hola"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	um, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserMessage", msg)
	}
	if um.Message != "hola" {
		t.Fatalf("Message = %q, want hola", um.Message)
	}
}

func TestParseClientMessageRejectsBlankMessage(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"user_message","message":"   "}`))
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("error = %v, want ErrEmptyMessage", err)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":"reset"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionReset {
		t.Fatalf("Action = %q, want reset", control.Action)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"stop"}`)); err == nil {
		t.Fatalf("expected error for unknown control action")
	}
}

func TestSendMessageResponseShape(t *testing.T) {
	raw, err := json.Marshal(SendMessageResponse{
		Response:  "¡Hola!",
		SessionID: "s1",
		UserInfo:  UserInfo{Name: "Ana"},
		Intent:    "hours_info",
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got := string(raw)
	for _, want := range []string{`"response":"¡Hola!"`, `"session_id":"s1"`, `"user_info":{"name":"Ana"}`, `"intent":"hours_info"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("body %s missing %s", got, want)
		}
	}
	if strings.Contains(got, `"error"`) {
		t.Fatalf("empty error should be omitted: %s", got)
	}
}
