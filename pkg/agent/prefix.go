package agent

import (
	"strings"
	"unicode"
)

// ParseProviderPrefix extracts a provider selector from the start of a
// message. "@groq hi" and "groq: hi" select groq when it is one of known.
// It returns the provider name (as listed in known) and the remaining text,
// or "" and the unchanged text.
func ParseProviderPrefix(text string, known []string) (string, string) {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)

	var word, rest string
	switch {
	case strings.HasPrefix(trimmed, "@"):
		end := strings.IndexFunc(trimmed, unicode.IsSpace)
		if end < 0 {
			end = len(trimmed)
		}
		word, rest = trimmed[1:end], trimmed[end:]
	default:
		colon := strings.IndexByte(trimmed, ':')
		if colon <= 0 || strings.IndexFunc(trimmed[:colon], unicode.IsSpace) >= 0 {
			return "", text
		}
		word, rest = trimmed[:colon], trimmed[colon+1:]
		if strings.HasPrefix(rest, "//") {
			return "", text
		}
	}

	for _, name := range known {
		if strings.EqualFold(name, word) {
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return "", text
			}
			return name, rest
		}
	}
	return "", text
}
