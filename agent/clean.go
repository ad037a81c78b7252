package agent

import (
	"regexp"
	"strings"
)

// labelRe matches the `Name: "content"` framing the model is instructed,
// but not guaranteed, to produce.
func labelRe(personaName string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(personaName) + `:\s*"(.*)"$`)
}

// CleanReply strips the speaker-label-and-quote framing from generated
// text. The generator's output shape is not contractual, so this is
// lenient: if nothing matches, the raw text is trimmed, loses at most one
// layer of enclosing quotes, and passes through.
func CleanReply(raw, personaName string) string {
	text := strings.TrimSpace(raw)
	if m := labelRe(personaName).FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		return strings.TrimSpace(text[1 : len(text)-1])
	}
	return text
}

// splitMessage chunks s into pieces of at most limit UTF-16 units, the
// unit Discord's message length cap is counted in.
func splitMessage(s string, limit int) []string {
	total := 0
	for _, r := range s {
		total += utf16Len(r)
	}
	if total <= limit {
		return []string{s}
	}
	var parts []string
	var buf strings.Builder
	units := 0
	for _, r := range s {
		rLen := utf16Len(r)
		if units+rLen > limit {
			parts = append(parts, buf.String())
			buf.Reset()
			units = 0
		}
		buf.WriteRune(r)
		units += rLen
	}
	if buf.Len() > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}

func utf16Len(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}
