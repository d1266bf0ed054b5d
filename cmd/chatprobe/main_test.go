package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/leadbot/internal/protocol"
)

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://bot.example.com/base/", "s 1")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if got != "wss://bot.example.com/base/v1/chat/ws?session_id=s+1" {
		t.Fatalf("wsURLForSession() = %q", got)
	}
	if _, err := wsURLForSession("ftp://bot", ""); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestParseFlagsSplitsTexts(t *testing.T) {
	cfg, err := parseFlags([]string{"-texts", "hola| |adiós", "-turn-timeout-ms", "10"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(cfg.texts) != 2 || cfg.texts[1] != "adiós" {
		t.Fatalf("texts = %q", cfg.texts)
	}
	if cfg.turnTimeout != time.Second {
		t.Fatalf("turnTimeout = %v, want clamped to 1s", cfg.turnTimeout)
	}
}

func TestSummarize(t *testing.T) {
	s := summarize([]turnResult{
		{Latency: 30 * time.Millisecond},
		{Latency: 10 * time.Millisecond},
		{Latency: 20 * time.Millisecond, Err: protocol.CodeGenerationFailed},
	})
	if s.Turns != 3 || s.Errors != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if s.P50 != 20*time.Millisecond || s.P95 != 30*time.Millisecond || s.Max != 30*time.Millisecond {
		t.Fatalf("latencies = %+v", s)
	}
}

func TestRunReplaysUntilEnded(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: "issued", Code: protocol.EventSessionStarted})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg protocol.UserMessage
			_ = json.Unmarshal(data, &msg)
			_ = conn.WriteJSON(protocol.AssistantReply{
				Type:     protocol.TypeAssistantReply,
				Response: "ok: " + msg.Message,
				Step:     "determine_intent",
				Ended:    strings.Contains(msg.Message, "adiós"),
			})
		}
	}))
	defer srv.Close()

	cfg := options{
		baseURL:     srv.URL,
		turnTimeout: 2 * time.Second,
		texts:       []string{"hola", "adiós", "never sent"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	results, err := run(ctx, cfg)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (stop after ended)", len(results))
	}
	if results[0].Reply != "ok: hola" || !results[1].Ended {
		t.Fatalf("unexpected results: %+v", results)
	}
}
