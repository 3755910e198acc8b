package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var markupPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`), ""},
	{regexp.MustCompile(`(?m)^[ \t]{0,3}>[ \t]?`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`), ""},
	// Emphasis markers only when they wrap a word, so 2*3*4 keeps its stars.
	{regexp.MustCompile(`(^|[\s(])\*{1,3}([^\s*]|[^\s*][^*\n]*?[^\s*])\*{1,3}`), "$1$2"},
	{regexp.MustCompile(`(^|[\s(])_{1,3}([^\s_]|[^\s_][^_\n]*?[^\s_])_{1,3}`), "$1$2"},
	{regexp.MustCompile(`~~([^~\n]+)~~`), "$1"},
}

// SpokenForm removes what a synthesizer cannot read aloud: code, URLs,
// markdown markers and emoji. Everything else, symbols included, is kept so
// the audio says what the reply text says.
func SpokenForm(reply string) string {
	s := strings.TrimSpace(reply)
	for _, p := range markupPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}

	var b strings.Builder
	b.Grow(len(s))
	// Removed runs become one space, emitted lazily so none lands before
	// closing punctuation.
	pending := false
	for _, r := range s {
		switch {
		case r == '\u200d' || r == '\u20e3' || unicode.Is(unicode.Variation_Selector, r):
			continue
		case unicode.IsSpace(r), isEmoji(r):
			pending = true
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(".,!?:;)", r):
			pending = false
			b.WriteRune(r)
		default:
			if pending && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pending = false
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// isEmoji covers the pictographic blocks plus skin-tone and flag modifiers.
func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0x2B50 || r == 0x2B55 || r == 0x2B1B || r == 0x2B1C:
		return true
	case r >= 0xE0020 && r <= 0xE007F:
		return true
	}
	return false
}
