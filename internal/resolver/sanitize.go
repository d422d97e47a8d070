package resolver

import (
	"regexp"
	"strings"
)

// space is the whitespace class used by browsers' regular expressions. RE2's \s is ASCII-only
// and misses NBSP and vertical tab.
const space = `[\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]`

var (
	fenceTagged    = regexp.MustCompile("```json" + space + "*")
	fenceBare      = regexp.MustCompile("```" + space + "*")
	citationMarker = regexp.MustCompile(`【[^】]*】`)
	// `//` counts as a comment only at line start or after whitespace, which keeps URLs intact.
	lineComment   = regexp.MustCompile(`(?m)(^|` + space + `)//[^\n]*`)
	trailingComma = regexp.MustCompile(`,(` + space + `*[}\]])`)
	controlRuns   = regexp.MustCompile(`[\r\n\t]+`)
	spaceRuns     = regexp.MustCompile(space + `+`)

	smartQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
	)
)

// Sanitize turns a raw assistant reply into a best-effort JSON object string. It never
// fails and Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw string) string {
	out := sanitizePass(raw)
	// Passes after the first only remove characters.
	for i := 0; i < maxSanitizePasses; i++ {
		next := sanitizePass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

const maxSanitizePasses = 32

func sanitizePass(s string) string {
	s = untilStable(s, func(v string) string {
		return fenceBare.ReplaceAllString(fenceTagged.ReplaceAllString(v, ""), "")
	})
	s = smartQuotes.Replace(s)
	s = citationMarker.ReplaceAllString(s, "")
	s = lineComment.ReplaceAllString(s, "${1}")
	s = untilStable(s, func(v string) string {
		return trailingComma.ReplaceAllString(v, "${1}")
	})
	s = controlRuns.ReplaceAllString(s, " ")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return repairBraces(s)
}

func repairBraces(s string) string {
	if !strings.HasPrefix(s, "{") {
		if first := strings.Index(s, "{"); first != -1 {
			s = s[first:]
		}
	}
	if !strings.HasSuffix(s, "}") {
		if last := strings.LastIndex(s, "}"); last != -1 {
			s = s[:last+1]
		} else {
			s += "}"
		}
	}
	return s
}

func untilStable(s string, step func(string) string) string {
	for {
		next := step(s)
		if next == s {
			return s
		}
		s = next
	}
}
