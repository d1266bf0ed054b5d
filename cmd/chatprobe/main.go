// Command chatprobe replays a scripted lead conversation against a running
// leadbot over the chat websocket and reports per-turn latency.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/leadbot/internal/protocol"
)

type options struct {
	baseURL        string
	sessionID      string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	reset          bool
	verbose        bool
}

type turnResult struct {
	Text    string
	Reply   string
	Step    string
	Intent  string
	Ended   bool
	Latency time.Duration
	Err     string
}

var defaultUtterances = []string{
	"hola",
	"me llamo Ana Pérez",
	"mi correo es ana.perez@example.com",
	"¿a qué hora abren el sábado?",
	"quiero reservar una mesa para cuatro",
	"eso es todo, gracias",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatprobe: %v\n", err)
		os.Exit(2)
	}
	results, err := run(context.Background(), cfg)
	printSummary(os.Stdout, results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatprobe: %v\n", err)
		os.Exit(1)
	}
	if cfg.verbose {
		if err := printSteps(os.Stdout, &http.Client{Timeout: 10 * time.Second}, cfg.baseURL); err != nil {
			fmt.Fprintf(os.Stderr, "chatprobe: step snapshot: %v\n", err)
		}
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("chatprobe", flag.ContinueOnError)
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "leadbot base URL")
	fs.StringVar(&cfg.sessionID, "session-id", "", "reuse an existing session id (default: server issues one)")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for each reply in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "user messages separated by '|' (optional)")
	fs.BoolVar(&cfg.reset, "reset", true, "reset the conversation before replaying")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress and the server step snapshot")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty messages")
		}
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options) ([]turnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	wsURL, err := wsURLForSession(cfg.baseURL, cfg.sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	sessionID := cfg.sessionID
	if sessionID == "" {
		var started protocol.SystemEvent
		if err := readFrame(conn, cfg.turnTimeout, &started); err != nil {
			return nil, fmt.Errorf("await session_started: %w", err)
		}
		sessionID = started.SessionID
	} else if cfg.reset {
		if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionReset}); err != nil {
			return nil, fmt.Errorf("send reset: %w", err)
		}
		var ev protocol.SystemEvent
		if err := readFrame(conn, cfg.turnTimeout, &ev); err != nil {
			return nil, fmt.Errorf("await reset: %w", err)
		}
		if ev.SessionID != "" {
			sessionID = ev.SessionID
		}
	}
	if cfg.verbose {
		fmt.Printf("chatprobe: session=%s turns=%d\n", sessionID, len(cfg.texts))
	}

	results := make([]turnResult, 0, len(cfg.texts))
	for i, text := range cfg.texts {
		res, err := sendTurn(conn, text, cfg.turnTimeout)
		if err != nil {
			return results, fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("chatprobe: turn %d/%d %s %q -> %q (%s)\n", i+1, len(cfg.texts), res.Latency.Round(time.Millisecond), text, res.Reply, res.Step)
		}
		if res.Ended {
			break
		}
		if cfg.interTurnDelay > 0 && i < len(cfg.texts)-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return results, nil
}

func sendTurn(conn *websocket.Conn, text string, timeout time.Duration) (turnResult, error) {
	start := time.Now()
	if err := conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, Message: text}); err != nil {
		return turnResult{}, fmt.Errorf("send message: %w", err)
	}

	var frame replyFrame
	if err := readFrame(conn, timeout, &frame); err != nil {
		return turnResult{}, err
	}

	res := turnResult{Text: text, Latency: time.Since(start)}
	switch frame.Type {
	case protocol.TypeAssistantReply:
		res.Reply = frame.Response
		res.Step = frame.Step
		res.Intent = frame.Intent
		res.Ended = frame.Ended
	case protocol.TypeErrorEvent:
		res.Err = frame.Code
		res.Reply = frame.Detail
		res.Ended = frame.Code == protocol.CodeConversationEnded
	default:
		return turnResult{}, fmt.Errorf("unexpected frame type %q", frame.Type)
	}
	return res, nil
}

// replyFrame decodes either an assistant_reply or an error_event.
type replyFrame struct {
	Type     protocol.MessageType `json:"type"`
	Response string               `json:"response"`
	Step     string               `json:"step"`
	Intent   string               `json:"intent"`
	Ended    bool                 `json:"ended"`
	Code     string               `json:"code"`
	Detail   string               `json:"detail"`
}

func readFrame(conn *websocket.Conn, timeout time.Duration, out any) error {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("ws read: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	if sessionID != "" {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type latencySummary struct {
	Turns  int
	Errors int
	P50    time.Duration
	P95    time.Duration
	Max    time.Duration
}

func summarize(results []turnResult) latencySummary {
	s := latencySummary{Turns: len(results)}
	if len(results) == 0 {
		return s
	}
	lat := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r.Err != "" {
			s.Errors++
		}
		lat = append(lat, r.Latency)
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	s.P50 = nearestRank(lat, 0.50)
	s.P95 = nearestRank(lat, 0.95)
	s.Max = lat[len(lat)-1]
	return s
}

func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(q*float64(len(sorted))+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printSummary(w io.Writer, results []turnResult) {
	s := summarize(results)
	fmt.Fprintf(w, "chatprobe: turns=%d errors=%d p50=%s p95=%s max=%s\n",
		s.Turns, s.Errors, s.P50.Round(time.Millisecond), s.P95.Round(time.Millisecond), s.Max.Round(time.Millisecond))
}

func printSteps(w io.Writer, client *http.Client, baseURL string) error {
	res, err := client.Get(baseURL + "/v1/perf/steps")
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	var snap struct {
		Steps []struct {
			Step    string  `json:"step"`
			Samples int     `json:"samples"`
			P50MS   float64 `json:"p50_ms"`
			P95MS   float64 `json:"p95_ms"`
		} `json:"steps"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&snap); err != nil {
		return err
	}
	for _, st := range snap.Steps {
		fmt.Fprintf(w, "chatprobe: step=%-20s samples=%-4d p50=%.1fms p95=%.1fms\n", st.Step, st.Samples, st.P50MS, st.P95MS)
	}
	return nil
}
