package ingestion

import "strings"

var sanitizeReplacer = strings.NewReplacer(
	"\n", " ",
	"\r", " ",
	"<", "",
	">", "",
	"{", "",
	"}", "",
	"[", "",
	"]", "",
	"|", "",
)

// sanitizeFreeText strips newlines and the characters that could be used
// to smuggle structure into downstream LLM prompts, then trims
// surrounding whitespace. Applied to every free-text field (names,
// departments, roles, policy descriptions) before it enters a UserState
// or policy.
func sanitizeFreeText(text string) string {
	return strings.TrimSpace(sanitizeReplacer.Replace(text))
}
