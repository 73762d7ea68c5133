package history

import "strings"

const titleMaxRunes = 30

// DeriveTitle builds a session title from the first user message: trim,
// collapse whitespace runs (including newlines) to single spaces, cut at
// 30 runes with an ellipsis.
func DeriveTitle(content string) string {
	collapsed := strings.Join(strings.Fields(content), " ")
	runes := []rune(collapsed)
	if len(runes) <= titleMaxRunes {
		return collapsed
	}
	return string(runes[:titleMaxRunes]) + "..."
}
