// internal/models/field.go
package models

import "strings"

// FieldType is the control kind a field descriptor was extracted from.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeNumber   FieldType = "number"
	FieldTypeSelect   FieldType = "select"
	FieldTypeTextarea FieldType = "textarea"
	FieldTypeOther    FieldType = "other"
)

// ParseFieldType maps raw control types (as reported by the page agent) onto the known set.
// Input types like "email", "tel" or "url" are text-like and map to text.
func ParseFieldType(raw string) FieldType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text", "email", "tel", "url", "search", "password", "date":
		return FieldTypeText
	case "checkbox", "radio":
		return FieldTypeCheckbox
	case "number", "range":
		return FieldTypeNumber
	case "select", "select-one", "select-multiple":
		return FieldTypeSelect
	case "textarea":
		return FieldTypeTextarea
	default:
		return FieldTypeOther
	}
}

// IsBoolean reports whether the assistant should answer with true/false.
func (t FieldType) IsBoolean() bool {
	return t == FieldTypeCheckbox
}

// FieldDescriptor identifies one form control to resolve. Name is the JSON key used in the
// prompt and in the assistant's reply.
type FieldDescriptor struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	Label     string    `json:"label"`
	SourceURL string    `json:"url"`
	Required  bool      `json:"required,omitempty"`
}

// Normalized returns a copy with a known Type and a label fallback to the name.
func (f FieldDescriptor) Normalized() FieldDescriptor {
	out := f
	out.Type = ParseFieldType(string(f.Type))
	if strings.TrimSpace(out.Label) == "" {
		out.Label = f.Name
	}
	return out
}
