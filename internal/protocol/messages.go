// Package protocol defines the JSON bodies and websocket frames of the chat API.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage    MessageType = "user_message"
	TypeClientControl  MessageType = "client_control"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

// Client control actions.
const (
	ActionReset = "reset"
)

// Error codes shared by HTTP and websocket responses.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeConversationEnded  = "conversation_ended"
	CodeGenerationFailed   = "generation_failed"
	CodeSessionBusy        = "session_busy"
	CodeUnsupportedFrame   = "unsupported_frame"
	CodeInternal           = "internal_error"
	CodeUnauthorized       = "unauthorized"
	EventSessionStarted    = "session_started"
	EventConversationReset = "conversation_reset"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrEmptyMessage    = errors.New("message is required")
)

type UserInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// SendMessageRequest is the body of POST /send_message.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessageResponse is returned by POST /send_message.
type SendMessageResponse struct {
	Response  string   `json:"response"`
	SessionID string   `json:"session_id"`
	UserInfo  UserInfo `json:"user_info"`
	Intent    string   `json:"intent"`
	Step      string   `json:"step,omitempty"`
	Ended     bool     `json:"ended"`
	Error     string   `json:"error,omitempty"`
}

// ResetResponse is returned by POST /reset_conversation.
type ResetResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

type Envelope struct {
	Type MessageType `json:"type"`
}

type UserMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type AssistantReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Response  string      `json:"response"`
	UserInfo  UserInfo    `json:"user_info"`
	Intent    string      `json:"intent"`
	Step      string      `json:"step"`
	Ended     bool        `json:"ended"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes one websocket frame sent by the browser.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, ErrEmptyMessage
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action != ActionReset {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
