package conversation

import "strings"

// Decision is the outcome of the continuation check.
type Decision string

const (
	Continue Decision = "continue_conversation"
	End      Decision = "end_conversation"
)

// DefaultMaxAssistantTurns caps assistant replies per conversation.
const DefaultMaxAssistantTurns = 10

// ClosingPhrases end the conversation when found in the latest user message.
var ClosingPhrases = []string{
	"adios",
	"adiós",
	"chao",
	"hasta luego",
	"terminar",
	"finalizar",
	"gracias por tu ayuda",
	"gracias por todo",
	"eso es todo",
	"eso sería todo",
}

// ShouldContinue ends the conversation when the most recent user message
// contains a closing phrase (case-insensitive substring) or when the number of
// assistant messages has reached maxAssistantTurns.
func ShouldContinue(s State, maxAssistantTurns int) Decision {
	last, ok := s.LastUserMessage()
	if !ok {
		return Continue
	}
	if ContainsClosingPhrase(last) {
		return End
	}
	if maxAssistantTurns <= 0 {
		maxAssistantTurns = DefaultMaxAssistantTurns
	}
	if s.AssistantCount() >= maxAssistantTurns {
		return End
	}
	return Continue
}

func ContainsClosingPhrase(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range ClosingPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
