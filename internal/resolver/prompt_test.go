package resolver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

func TestBuildFieldPrompt(t *testing.T) {
	tests := []struct {
		name     string
		field    models.FieldDescriptor
		contains []string
		excludes []string
	}{
		{
			name:  "text field",
			field: models.FieldDescriptor{Name: "company", Type: models.FieldTypeText, Label: "Company name", SourceURL: "https://example.com"},
			contains: []string{
				`Field name: "company"`,
				"Type: text",
				"Description: Company name",
				"URL: https://example.com",
				`{"company": "value here"}`,
				"return null",
			},
			excludes: []string{"This is a checkbox"},
		},
		{
			name:     "checkbox field",
			field:    models.FieldDescriptor{Name: "agree", Type: models.FieldTypeCheckbox, Label: "Agree"},
			contains: []string{"This is a checkbox: return true or false", `{"agree": true}`},
		},
		{
			name:     "number field",
			field:    models.FieldDescriptor{Name: "employees", Type: models.FieldTypeNumber, Label: "Employees"},
			contains: []string{"This is a number field", `{"employees": 42}`},
		},
		{
			name:     "name with markup characters is not escaped",
			field:    models.FieldDescriptor{Name: "a<b>&c", Type: models.FieldTypeText},
			contains: []string{`"a<b>&c"`},
			excludes: []string{`\u003c`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := BuildFieldPrompt(tt.field)
			for _, s := range tt.contains {
				assert.Contains(t, prompt, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, prompt, s)
			}
		})
	}
}

func TestBuildFormPrompt(t *testing.T) {
	req := FormRequest{
		URL:   "https://example.com/apply",
		Title: "Apply now",
		Fields: []models.FieldDescriptor{
			{Name: "company", Type: models.FieldTypeText, Label: "Company name", Required: true},
			{Name: "size", Type: models.FieldTypeCheckbox, Label: "1-10"},
			{Name: "size", Type: models.FieldTypeCheckbox, Label: "11-50"},
			{Name: "newsletter", Type: models.FieldTypeCheckbox},
		},
	}

	prompt := BuildFormPrompt(req)

	assert.Contains(t, prompt, "Form at: https://example.com/apply")
	assert.Contains(t, prompt, "Page title: Apply now")
	assert.Contains(t, prompt, "FIELDS TO FILL (4 in total):")
	assert.Contains(t, prompt, `  "company": // text - Company name *REQUIRED*`)
	assert.Contains(t, prompt, `  "size": // checkbox [CHECKBOX GROUP - 2 options] - 1-10`)
	assert.Contains(t, prompt, `  "newsletter": // checkbox - newsletter`)
	assert.Equal(t, 2, strings.Count(prompt, "[CHECKBOX GROUP - 2 options]"))
}
