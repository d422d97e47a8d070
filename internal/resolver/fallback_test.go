package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFallback(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		field    string
		expected interface{}
		tag      PatternTag
	}{
		{
			name:     "quoted value",
			raw:      `blah {"website": "https://example.com"} blah`,
			field:    "website",
			expected: "https://example.com",
			tag:      PatternQuoted,
		},
		{
			name:     "unterminated before brace",
			raw:      `{"website": "https://example.com}`,
			field:    "website",
			expected: "https://example.com",
			tag:      PatternUnterminatedBrace,
		},
		{
			name:     "unterminated before comma",
			raw:      `{"city": "Stockholm, zip 11122`,
			field:    "city",
			expected: "Stockholm",
			tag:      PatternUnterminatedComma,
		},
		{
			name:     "bare number",
			raw:      `{"year": 2024}`,
			field:    "year",
			expected: float64(2024),
			tag:      PatternBare,
		},
		{
			name:     "bare decimal",
			raw:      `{"ratio": 12.5, }`,
			field:    "ratio",
			expected: 12.5,
			tag:      PatternBare,
		},
		{
			name:     "bare boolean",
			raw:      `{"active": false`,
			field:    "active",
			expected: false,
			tag:      PatternBare,
		},
		{
			name:     "single quoted",
			raw:      `{'company': 'Daily Wins AB'}`,
			field:    "company",
			expected: "Daily Wins AB",
			tag:      PatternSingleQuoted,
		},
		{
			name:     "loose quoted",
			raw:      `The website is: website: "https://example.com" and that is it`,
			field:    "website",
			expected: "https://example.com",
			tag:      PatternLooseQuoted,
		},
		{
			name:     "loose bare boolean",
			raw:      `active: true`,
			field:    "active",
			expected: true,
			tag:      PatternLooseBare,
		},
		{
			name:     "case insensitive key",
			raw:      `{"Email": "info@example.com"}`,
			field:    "email",
			expected: "info@example.com",
			tag:      PatternQuoted,
		},
		{
			name:     "regex metacharacters in field name",
			raw:      `{"contact[phone]": "+46 8 123 45"}`,
			field:    "contact[phone]",
			expected: "+46 8 123 45",
			tag:      PatternQuoted,
		},
		{
			name:     "explicit null",
			raw:      `{"fax": null`,
			field:    "fax",
			expected: nil,
			tag:      PatternBare,
		},
		{
			name:     "no match",
			raw:      `I could not find anything relevant.`,
			field:    "website",
			expected: nil,
			tag:      "",
		},
		{
			name:     "empty field name",
			raw:      `{"": "x"}`,
			field:    "",
			expected: nil,
			tag:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, tag := ExtractFallbackTagged(tt.raw, tt.field)
			assert.Equal(t, tt.expected, value)
			assert.Equal(t, tt.tag, tag)
			assert.Equal(t, tt.expected, ExtractFallback(tt.raw, tt.field))
		})
	}
}

func TestExtractFallback_FirstPatternWins(t *testing.T) {
	// Both the quoted and the loose form are present; the quoted JSON form is tried first.
	raw := `name: "loose" {"name": "strict"}`
	assert.Equal(t, "strict", ExtractFallback(raw, "name"))
}

func TestExtractFallback_StripsOneWrappingQuote(t *testing.T) {
	assert.Equal(t, "quoted", ExtractFallback(`{"v": 'quoted'}`, "v"))
}
