package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func stateWith(userMessages []string, assistantTurns int) State {
	var s State
	for _, m := range userMessages {
		s.Messages = append(s.Messages, Message{Role: RoleUser, Content: m})
	}
	for i := 0; i < assistantTurns; i++ {
		s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: "ok"})
	}
	return s
}

func TestShouldContinueClosingPhrases(t *testing.T) {
	cases := map[string]Decision{
		"Muchas gracias por todo, adiós!": End,
		"ADIOS":                           End,
		"bueno, Eso Es Todo":              End,
		"chao pescao":                     End,
		"quiero hacer un pedido":          Continue,
		"gracias":                         Continue,
	}
	for msg, want := range cases {
		require.Equal(t, want, ShouldContinue(stateWith([]string{msg}, 1), 10), msg)
	}
}

func TestShouldContinueOnlyLooksAtLatestUserMessage(t *testing.T) {
	s := stateWith([]string{"adiós", "espera, una pregunta más"}, 2)
	require.Equal(t, Continue, ShouldContinue(s, 10))
}

func TestShouldContinueTurnCap(t *testing.T) {
	require.Equal(t, Continue, ShouldContinue(stateWith([]string{"hola"}, 9), 10))
	require.Equal(t, End, ShouldContinue(stateWith([]string{"hola"}, 10), 10))
	require.Equal(t, End, ShouldContinue(stateWith([]string{"hola"}, 11), 0), "zero cap uses the default")
}

func TestShouldContinueWithoutUserMessages(t *testing.T) {
	require.Equal(t, Continue, ShouldContinue(stateWith(nil, 20), 10))
}
