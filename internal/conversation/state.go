// Package conversation implements the lead-capture state machine: greet, collect
// name and email, classify intent, serve, and decide whether to keep going.
package conversation

import (
	"strings"

	"github.com/ent0n29/leadbot/internal/intent"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Step is the machine's program counter.
type Step string

const (
	StepGreeting         Step = "greeting"
	StepValidateUserInfo Step = "validate_user_info"
	StepGetName          Step = "get_name"
	StepGetEmail         Step = "get_email"
	StepDetermineIntent  Step = "determine_intent"
	StepProvideService   Step = "provide_service"

	// StepEnd is the terminal marker; a session must be reset to talk again.
	StepEnd Step = "end"
)

// Sentinels the extraction prompts ask the model to return when nothing was found.
const (
	UnknownName  = "Unknown"
	UnknownEmail = "unknown@example.com"
)

// UserInfo holds the contact details collected so far. Empty means absent.
type UserInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// HasName reports whether a usable name has been collected.
func (u UserInfo) HasName() bool {
	n := strings.TrimSpace(u.Name)
	return n != "" && !strings.EqualFold(strings.TrimRight(n, "."), UnknownName)
}

// HasEmail applies both gates: not the sentinel, and syntactically valid.
func (u UserInfo) HasEmail() bool {
	e := strings.TrimSpace(u.Email)
	return e != "" && !strings.EqualFold(e, UnknownEmail) && IsValidEmail(e)
}

// Complete reports whether both name and email are known.
func (u UserInfo) Complete() bool {
	return u.HasName() && u.HasEmail()
}

// IsValidEmail is the deliberately loose validity predicate used everywhere.
func IsValidEmail(e string) bool {
	return strings.Contains(e, "@") && strings.Contains(e, ".")
}

// State is the unit of continuity for one session.
type State struct {
	UserInfo    UserInfo     `json:"user_info"`
	Messages    []Message    `json:"messages"`
	Intent      intent.Label `json:"intent"`
	CurrentStep Step         `json:"current_step"`
}

// NewState returns the empty state a session starts from.
func NewState() State {
	return State{CurrentStep: StepGreeting}
}

// Clone returns a copy that shares no slices with s.
func (s State) Clone() State {
	c := s
	c.Messages = append([]Message(nil), s.Messages...)
	return c
}

// Ended reports whether the machine reached its terminal marker.
func (s State) Ended() bool {
	return s.CurrentStep == StepEnd
}

func (s State) AssistantCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleAssistant {
			n++
		}
	}
	return n
}

// LastUserMessage returns the content of the most recent user turn.
func (s State) LastUserMessage() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

// LastReply returns the content of the most recent assistant turn.
func (s State) LastReply() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Update is a partial change produced by a step.
type Update struct {
	UserInfo UserInfo
	Messages []Message
	Intent   intent.Label
	Next     Step
}

// Merge folds u into s field by field: messages append, user info overwrites
// key-wise (an empty value never clears a key), intent and current step are
// last-writer-wins when set. s is not modified.
func Merge(s State, u Update) State {
	out := s
	out.Messages = make([]Message, 0, len(s.Messages)+len(u.Messages))
	out.Messages = append(out.Messages, s.Messages...)
	out.Messages = append(out.Messages, u.Messages...)

	if v := strings.TrimSpace(u.UserInfo.Name); v != "" {
		out.UserInfo.Name = v
	}
	if v := strings.TrimSpace(u.UserInfo.Email); v != "" {
		out.UserInfo.Email = v
	}
	if u.Intent != "" {
		out.Intent = u.Intent
	}
	if u.Next != "" {
		out.CurrentStep = u.Next
	}
	return out
}
