package normalize

import (
	"strings"
	"unicode/utf8"
)

// TruncateAtParagraph shortens s to at most limit runes, cutting at the last
// paragraph break before the limit. When no paragraph break exists in range
// it falls back to the last line break, then the last space — never
// mid-word.
func TruncateAtParagraph(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)
	prefix := string(runes[:limit])

	if cut := strings.LastIndex(prefix, "\n\n"); cut > 0 {
		return strings.TrimRight(prefix[:cut], "\n ")
	}
	if cut := strings.LastIndex(prefix, "\n"); cut > 0 {
		return strings.TrimRight(prefix[:cut], "\n ")
	}
	if cut := strings.LastIndex(prefix, " "); cut > 0 {
		return strings.TrimRight(prefix[:cut], " ")
	}
	return prefix
}
