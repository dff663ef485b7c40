package chat

import (
	"strings"
	"unicode"
)

var interruptionPhrases = []string{
	"never mind", "nevermind", "forget it", "stop", "cancel",
	"ignore that", "scratch that", "wait", "hold on",
}

// IsInterruption reports whether text asks to drop what the customer said
// before. Single words must match a whole word, so "waiting" or
// "cancellation policy" do not interrupt.
func IsInterruption(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	joined := " " + strings.Join(words, " ") + " "

	for _, phrase := range interruptionPhrases {
		if strings.Contains(joined, " "+phrase+" ") {
			return true
		}
	}
	return false
}
