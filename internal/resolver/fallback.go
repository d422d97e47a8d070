package resolver

import (
	"regexp"
	"strconv"
	"strings"
)

// PatternTag names one fallback extraction pattern.
type PatternTag string

const (
	PatternQuoted            PatternTag = "quoted"
	PatternUnterminatedBrace PatternTag = "unterminated-brace"
	PatternUnterminatedComma PatternTag = "unterminated-comma"
	PatternBare              PatternTag = "bare"
	PatternSingleQuoted      PatternTag = "single-quoted"
	PatternLooseQuoted       PatternTag = "loose-quoted"
	PatternLooseBare         PatternTag = "loose-bare"
)

type fallbackPattern struct {
	tag PatternTag
	// format receives the quoted field name and returns the pattern source.
	format func(name string) string
}

// fallbackPatterns is tried in order; the first match wins.
var fallbackPatterns = []fallbackPattern{
	{PatternQuoted, func(n string) string { return `"` + n + `"\s*:\s*"([^"]*)"` }},
	{PatternUnterminatedBrace, func(n string) string { return `"` + n + `"\s*:\s*"([^"}]+)}` }},
	{PatternUnterminatedComma, func(n string) string { return `"` + n + `"\s*:\s*"([^",]+),` }},
	{PatternBare, func(n string) string { return `"` + n + `"\s*:\s*([^,}\s]+)` }},
	{PatternSingleQuoted, func(n string) string { return `'` + n + `'\s*:\s*'([^']*)'` }},
	{PatternLooseQuoted, func(n string) string { return n + `\s*:\s*"([^"]*)"` }},
	{PatternLooseBare, func(n string) string { return n + `\s*:\s*([^,}\s]+)` }},
}

var (
	wrappingQuote = regexp.MustCompile(`^["']|["']$`)
	plainNumber   = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// ExtractFallback pulls the value of fieldName out of text that is not valid JSON. It returns
// nil when no pattern matches or the matched value is the literal null.
func ExtractFallback(raw, fieldName string) interface{} {
	value, _ := ExtractFallbackTagged(raw, fieldName)
	return value
}

// ExtractFallbackTagged is ExtractFallback that also reports which pattern matched. The tag
// is empty when nothing matched.
func ExtractFallbackTagged(raw, fieldName string) (interface{}, PatternTag) {
	if fieldName == "" {
		return nil, ""
	}
	quoted := regexp.QuoteMeta(fieldName)
	for _, p := range fallbackPatterns {
		re, err := regexp.Compile("(?i)" + p.format(quoted))
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		return normalizeFallback(m[1]), p.tag
	}
	return nil, ""
}

func normalizeFallback(v string) interface{} {
	v = wrappingQuote.ReplaceAllString(strings.TrimSpace(v), "")
	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if plainNumber.MatchString(v) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}
