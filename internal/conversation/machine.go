package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/leadbot/internal/intent"
	"github.com/ent0n29/leadbot/internal/textgen"
)

var (
	// ErrConversationEnded is returned by Advance once the terminal marker is reached.
	ErrConversationEnded = errors.New("conversation ended")
	// ErrStepLimit is returned when one Advance call runs more steps than allowed.
	ErrStepLimit = errors.New("step limit exceeded")
	// ErrUnknownStep is returned for a state whose current step is not in the step table.
	ErrUnknownStep = errors.New("unknown step")
	// ErrGeneration wraps every text generation or classification failure.
	ErrGeneration = errors.New("generation failed")
)

// DefaultMaxStepsPerTurn bounds the silent transitions chained by one Advance call.
const DefaultMaxStepsPerTurn = 8

// IntentClassifier maps a message to a closed-set label.
type IntentClassifier interface {
	Classify(ctx context.Context, message string) (intent.Label, error)
}

// Config tunes the interpreter.
type Config struct {
	MaxAssistantTurns int
	MaxStepsPerTurn   int
	// OnStep, when set, is called after every step execution.
	OnStep func(step Step, d time.Duration, err error)
}

// Transition is a step's result: the partial update to merge and whether the
// machine must wait for the next user message before running again.
type Transition struct {
	Update
	Halt bool
}

type stepFunc func(ctx context.Context, t *turn) (Transition, error)

// turn carries the in-flight state of one Advance call.
type turn struct {
	state   State
	replied bool
}

// Machine interprets the step table against a conversation state.
type Machine struct {
	gen        textgen.Generator
	classifier IntentClassifier
	cfg        Config
	steps      map[Step]stepFunc
}

func NewMachine(gen textgen.Generator, classifier IntentClassifier, cfg Config) *Machine {
	if cfg.MaxAssistantTurns <= 0 {
		cfg.MaxAssistantTurns = DefaultMaxAssistantTurns
	}
	if cfg.MaxStepsPerTurn <= 0 {
		cfg.MaxStepsPerTurn = DefaultMaxStepsPerTurn
	}
	m := &Machine{
		gen:        gen,
		classifier: classifier,
		cfg:        cfg,
	}
	m.steps = map[Step]stepFunc{
		StepGreeting:         m.greeting,
		StepValidateUserInfo: m.validateUserInfo,
		StepGetName:          m.getName,
		StepGetEmail:         m.getEmail,
		StepDetermineIntent:  m.determineIntent,
		StepProvideService:   m.provideService,
	}
	return m
}

// Known reports whether step names an entry of the step table or the terminal marker.
func (m *Machine) Known(step Step) bool {
	if step == StepEnd {
		return true
	}
	_, ok := m.steps[step]
	return ok
}

// Advance appends message as a user turn, runs steps from CurrentStep until one
// halts or the terminal marker is reached, and returns the new state with the
// latest assistant reply. On error the input state is returned unchanged.
func (m *Machine) Advance(ctx context.Context, s State, message string) (State, string, error) {
	if s.CurrentStep == "" {
		s.CurrentStep = StepGreeting
	}
	if s.CurrentStep == StepEnd {
		return s, "", ErrConversationEnded
	}
	if !m.Known(s.CurrentStep) {
		return s, "", fmt.Errorf("%w: %q", ErrUnknownStep, s.CurrentStep)
	}

	t := &turn{
		state: Merge(s, Update{Messages: []Message{{Role: RoleUser, Content: message}}}),
	}

	for i := 0; ; i++ {
		if i >= m.cfg.MaxStepsPerTurn {
			return s, "", fmt.Errorf("%w: %d steps without waiting for input (at %s)", ErrStepLimit, i, t.state.CurrentStep)
		}

		step := t.state.CurrentStep
		run, ok := m.steps[step]
		if !ok {
			return s, "", fmt.Errorf("%w: %q", ErrUnknownStep, step)
		}

		start := time.Now()
		tr, err := run(ctx, t)
		if m.cfg.OnStep != nil {
			m.cfg.OnStep(step, time.Since(start), err)
		}
		if err != nil {
			return s, "", fmt.Errorf("%s: %w", step, err)
		}

		for _, msg := range tr.Messages {
			if msg.Role == RoleAssistant {
				t.replied = true
			}
		}
		t.state = Merge(t.state, tr.Update)

		if tr.Halt || t.state.CurrentStep == StepEnd {
			break
		}
	}

	return t.state, t.state.LastReply(), nil
}

func (m *Machine) greeting(ctx context.Context, t *turn) (Transition, error) {
	reply, err := m.reply(ctx, greetingPrompt, promptData{History: History(t.state.Messages)})
	if err != nil {
		return Transition{}, err
	}
	return Transition{
		Update: Update{Messages: assistant(reply), Next: StepValidateUserInfo},
		Halt:   true,
	}, nil
}

// validateUserInfo routes to the collector for the first missing field, name
// before email. It only speaks when there is nothing to extract from.
func (m *Machine) validateUserInfo(ctx context.Context, t *turn) (Transition, error) {
	var missing field
	switch info := t.state.UserInfo; {
	case !info.HasName():
		missing = fieldName
	case !info.HasEmail():
		missing = fieldEmail
	default:
		// Identity complete. Classify this message unless it was already answered.
		return Transition{Update: Update{Next: StepDetermineIntent}, Halt: t.replied}, nil
	}

	if t.replied {
		// The previous step's reply already asked for the next field.
		return Transition{Update: Update{Next: missing.step}, Halt: true}, nil
	}
	if last, _ := t.state.LastUserMessage(); strings.TrimSpace(last) == "" {
		return m.requestMissing(ctx, t, missing)
	}
	return Transition{Update: Update{Next: missing.step}}, nil
}

func (m *Machine) getName(ctx context.Context, t *turn) (Transition, error) {
	msg, _ := t.state.LastUserMessage()
	if strings.TrimSpace(msg) == "" {
		return m.requestMissing(ctx, t, fieldName)
	}

	raw, err := m.generate(ctx, extractNamePrompt, promptData{Message: msg})
	if err != nil {
		return Transition{}, err
	}
	name := cleanName(raw)
	if !(UserInfo{Name: name}).HasName() {
		return m.requestMissing(ctx, t, fieldName)
	}

	reply, err := m.reply(ctx, nameAckPrompt, promptData{Name: name, History: History(t.state.Messages)})
	if err != nil {
		return Transition{}, err
	}
	return Transition{Update: Update{
		UserInfo: UserInfo{Name: name},
		Messages: assistant(reply),
		Next:     StepValidateUserInfo,
	}}, nil
}

func (m *Machine) getEmail(ctx context.Context, t *turn) (Transition, error) {
	if !t.state.UserInfo.HasName() {
		// Name is always collected first.
		return Transition{Update: Update{Next: StepValidateUserInfo}}, nil
	}

	msg, _ := t.state.LastUserMessage()
	if strings.TrimSpace(msg) == "" {
		return m.requestMissing(ctx, t, fieldEmail)
	}

	raw, err := m.generate(ctx, extractEmailPrompt, promptData{Message: msg})
	if err != nil {
		return Transition{}, err
	}
	email := cleanEmail(raw)
	if !(UserInfo{Email: email}).HasEmail() {
		return m.requestMissing(ctx, t, fieldEmail)
	}

	reply, err := m.reply(ctx, emailAckPrompt, promptData{Email: email, History: History(t.state.Messages)})
	if err != nil {
		return Transition{}, err
	}
	return Transition{Update: Update{
		UserInfo: UserInfo{Email: email},
		Messages: assistant(reply),
		Next:     StepValidateUserInfo,
	}}, nil
}

func (m *Machine) determineIntent(ctx context.Context, t *turn) (Transition, error) {
	if !t.state.UserInfo.Complete() {
		return Transition{Update: Update{Next: StepValidateUserInfo}}, nil
	}

	msg, _ := t.state.LastUserMessage()
	label, err := m.classifier.Classify(ctx, msg)
	if err != nil {
		return Transition{}, fmt.Errorf("%w: classify: %w", ErrGeneration, err)
	}
	return Transition{Update: Update{Intent: label, Next: StepProvideService}}, nil
}

func (m *Machine) provideService(ctx context.Context, t *turn) (Transition, error) {
	if !t.state.UserInfo.Complete() {
		return Transition{Update: Update{Next: StepValidateUserInfo}}, nil
	}
	if t.state.Intent == "" {
		return Transition{Update: Update{Next: StepDetermineIntent}}, nil
	}

	reply, err := m.reply(ctx, servicePrompt, promptData{
		Intent:  string(t.state.Intent),
		Name:    t.state.UserInfo.Name,
		Email:   t.state.UserInfo.Email,
		History: History(t.state.Messages),
	})
	if err != nil {
		return Transition{}, err
	}
	return m.awaitUser(t, assistant(reply), StepDetermineIntent), nil
}

// requestMissing asks for a field again and stays on its collector step.
func (m *Machine) requestMissing(ctx context.Context, t *turn, f field) (Transition, error) {
	reply, err := m.reply(ctx, requestMissingPrompt, promptData{Field: f.label, History: History(t.state.Messages)})
	if err != nil {
		return Transition{}, err
	}
	return m.awaitUser(t, assistant(reply), f.step), nil
}

// awaitUser emits messages and halts on next, or on StepEnd when the
// continuation check says the conversation is over.
func (m *Machine) awaitUser(t *turn, messages []Message, next Step) Transition {
	after := Merge(t.state, Update{Messages: messages})
	if ShouldContinue(after, m.cfg.MaxAssistantTurns) == End {
		next = StepEnd
	}
	return Transition{Update: Update{Messages: messages, Next: next}, Halt: true}
}

func (m *Machine) generate(ctx context.Context, tmpl promptTemplate, data promptData) (string, error) {
	prompt, err := render(tmpl, data)
	if err != nil {
		return "", err
	}
	out, err := m.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return out, nil
}

// reply generates text shown to the user. An empty reply is a failure.
func (m *Machine) reply(ctx context.Context, tmpl promptTemplate, data promptData) (string, error) {
	out, err := m.generate(ctx, tmpl, data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: %w", ErrGeneration, textgen.ErrEmptyGeneration)
	}
	return out, nil
}

func assistant(content string) []Message {
	return []Message{{Role: RoleAssistant, Content: strings.TrimSpace(content)}}
}

const extractionQuotes = " \t\r\n\"'`<>"

// cleanName strips quoting around an extracted name. Periods are kept so an
// initial such as "Juan P." survives.
func cleanName(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), extractionQuotes)
}

// cleanEmail strips quoting and sentence punctuation around an extracted address.
func cleanEmail(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), extractionQuotes+".")
}
