package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// BuildFieldPrompt asks for exactly one JSON object keyed by the field name.
func BuildFieldPrompt(field models.FieldDescriptor) string {
	var parts []string

	parts = append(parts, "Analyze this form field and return ONLY the value that should be filled in, based on the company documents.")
	parts = append(parts, "\nFIELD TO FILL:")
	parts = append(parts, fmt.Sprintf("Field name: %s", jsonKey(field.Name)))
	parts = append(parts, fmt.Sprintf("Type: %s", field.Type))
	parts = append(parts, fmt.Sprintf("Description: %s", field.Label))
	parts = append(parts, fmt.Sprintf("URL: %s", field.SourceURL))

	parts = append(parts, "\nINSTRUCTIONS:")
	parts = append(parts, "- Read the description carefully to understand what the field asks for")
	parts = append(parts, "- Search the documents for relevant information")
	parts = append(parts, "- Return ONLY a single JSON object with the field name as key")
	if field.Type.IsBoolean() {
		parts = append(parts, "- This is a checkbox: return true or false")
	} else {
		parts = append(parts, "- For checkboxes: return true or false")
	}
	if field.Type == models.FieldTypeNumber {
		parts = append(parts, "- This is a number field: return a plain number")
	}
	parts = append(parts, "- For text fields: return the text value (without newlines)")
	parts = append(parts, "- If the information is missing: return null")

	parts = append(parts, "\nRESPONSE FORMAT:")
	parts = append(parts, fmt.Sprintf("{%s: %s}", jsonKey(field.Name), exampleValue(field.Type)))
	parts = append(parts, "\nReturn the JSON object now:")

	return strings.Join(parts, "\n")
}

// FormRequest is a whole form resolved in one conversation.
type FormRequest struct {
	URL    string                   `json:"url"`
	Title  string                   `json:"title"`
	Fields []models.FieldDescriptor `json:"fields"`
}

// BuildFormPrompt lists every field as `"name": // type [CHECKBOX GROUP - n options] - label`
// and asks for one JSON object covering all of them.
func BuildFormPrompt(req FormRequest) string {
	groupSize := make(map[string]int, len(req.Fields))
	for _, f := range req.Fields {
		groupSize[f.Name]++
	}

	lines := make([]string, 0, len(req.Fields))
	for _, f := range req.Fields {
		label := f.Label
		if label == "" {
			label = f.Name
		}
		group := ""
		if f.Type == models.FieldTypeCheckbox && groupSize[f.Name] > 1 {
			group = fmt.Sprintf(" [CHECKBOX GROUP - %d options]", groupSize[f.Name])
		}
		required := ""
		if f.Required {
			required = " *REQUIRED*"
		}
		lines = append(lines, fmt.Sprintf("  %s: // %s%s - %s%s", jsonKey(f.Name), f.Type, group, label, required))
	}

	var parts []string
	parts = append(parts, "You are filling in a web form with information from the company documents.")
	parts = append(parts, "\nTASK: Analyze the form fields below and return company information from the uploaded documents.")
	parts = append(parts, fmt.Sprintf("\nForm at: %s", req.URL))
	parts = append(parts, fmt.Sprintf("Page title: %s", req.Title))
	parts = append(parts, fmt.Sprintf("\nFIELDS TO FILL (%d in total):", len(req.Fields)))
	parts = append(parts, strings.Join(lines, "\n"))

	parts = append(parts, "\nEach field above shows:")
	parts = append(parts, `  "field name": // type [GROUP INFO] - DESCRIPTION`)

	parts = append(parts, "\nINSTRUCTIONS:")
	parts = append(parts, `1. For EVERY field, read the description after "//"; it explains what the field asks for`)
	parts = append(parts, "2. Ignore cryptic field names and rely on the description instead")
	parts = append(parts, "3. Use the documents to answer every field")
	parts = append(parts, "4. Return one JSON object with EXACTLY the field names as keys")
	parts = append(parts, "5. If a field cannot be filled, set its value to null")

	parts = append(parts, "\nCHECKBOXES:")
	parts = append(parts, "- A name repeated with [CHECKBOX GROUP] is a group where ONLY ONE option should be selected")
	parts = append(parts, "- Read every description in the group and set true for the best match, false for the rest")
	parts = append(parts, "- For a single checkbox: true if it applies to the company, otherwise false")

	parts = append(parts, "\nRESPONSE FORMAT:")
	parts = append(parts, "- Only the JSON object, no markdown, no comments, no explanations")
	parts = append(parts, "- Text values on one line, numbers as numbers, booleans as true/false")
	parts = append(parts, "\nReturn the JSON object now:")

	return strings.Join(parts, "\n")
}

func jsonKey(name string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(name); err != nil {
		return fmt.Sprintf("%q", name)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func exampleValue(t models.FieldType) string {
	switch t {
	case models.FieldTypeCheckbox:
		return "true"
	case models.FieldTypeNumber:
		return "42"
	default:
		return `"value here"`
	}
}
