package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names the request documents this service accepts.
type Schema string

const (
	SchemaFieldDescriptor Schema = "field-descriptor"
	SchemaFillRequest     Schema = "fill-request"
	SchemaFormRequest     Schema = "form-request"
	SchemaResolveFieldJob Schema = "resolve-field-job"
	SchemaCredentials     Schema = "credentials"
)

// MaxConcurrency bounds the per-request concurrency override.
const MaxConcurrency = 20

const fieldDescriptorJSON = `{
  "type": "object",
  "properties": {
    "name":     {"type": "string", "minLength": 1, "maxLength": 512},
    "type":     {"type": "string", "maxLength": 64},
    "label":    {"type": "string", "maxLength": 4096},
    "url":      {"type": "string", "maxLength": 4096},
    "required": {"type": "boolean"}
  },
  "required": ["name"]
}`

var schemaSources = map[Schema]string{
	SchemaFieldDescriptor: fieldDescriptorJSON,
	SchemaFillRequest: fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "batchId":     {"type": "string", "maxLength": 128},
    "fields":      {"type": "array", "minItems": 1, "items": %s},
    "concurrency": {"type": "integer", "minimum": 1, "maximum": %d}
  },
  "required": ["fields"]
}`, fieldDescriptorJSON, MaxConcurrency),
	SchemaFormRequest: fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "url":    {"type": "string"},
    "title":  {"type": "string"},
    "fields": {"type": "array", "minItems": 1, "items": %s}
  },
  "required": ["fields"]
}`, fieldDescriptorJSON),
	SchemaResolveFieldJob: fmt.Sprintf(`{
  "type": "object",
  "properties": {"field": %s},
  "required": ["field"]
}`, fieldDescriptorJSON),
	SchemaCredentials: `{
  "type": "object",
  "properties": {
    "apiKey":      {"type": "string", "minLength": 1},
    "assistantId": {"type": "string", "minLength": 1}
  },
  "required": ["apiKey", "assistantId"]
}`,
}

var compiled = func() map[Schema]*gojsonschema.Schema {
	out := make(map[Schema]*gojsonschema.Schema, len(schemaSources))
	for name, src := range schemaSources {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("schema %s does not compile: %v", name, err))
		}
		out[name] = s
	}
	return out
}()

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validate checks doc (any JSON-encodable Go value, typically a decoded map) against schema.
func Validate(schema Schema, doc interface{}) *ValidationResult {
	return validate(schema, gojsonschema.NewGoLoader(doc))
}

// ValidateJSON checks a raw JSON document against schema.
func ValidateJSON(schema Schema, raw []byte) *ValidationResult {
	if !json.Valid(raw) {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: "body is not valid JSON",
			Code:    "INVALID_JSON",
		}}}
	}
	return validate(schema, gojsonschema.NewBytesLoader(raw))
}

func validate(schema Schema, doc gojsonschema.JSONLoader) *ValidationResult {
	s, ok := compiled[schema]
	if !ok {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: fmt.Sprintf("unknown schema %q", schema),
			Code:    "UNKNOWN_SCHEMA",
		}}}
	}

	return collect(s, doc)
}

func collect(s *gojsonschema.Schema, doc gojsonschema.JSONLoader) *ValidationResult {
	result, err := s.Validate(doc)
	if err != nil {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: err.Error(),
			Code:    "INVALID_DOCUMENT",
		}}}
	}

	vr := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return vr
}

// SchemaMap returns the schema as a decoded JSON object, e.g. for the activity registry.
func SchemaMap(schema Schema) map[string]interface{} {
	src, ok := schemaSources[schema]
	if !ok {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(src), &m); err != nil {
		return nil
	}
	return m
}

// ValidateMap checks doc against a schema given as a decoded JSON object, e.g. an activity's
// output schema from the registry.
func ValidateMap(schema map[string]interface{}, doc interface{}) *ValidationResult {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: err.Error(),
			Code:    "INVALID_SCHEMA",
		}}}
	}
	return collect(s, gojsonschema.NewGoLoader(doc))
}

// CompileSchema reports whether a schema document given as a decoded JSON object compiles.
func CompileSchema(schema map[string]interface{}) error {
	_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	return err
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// Error joins all messages; useful as an error detail string.
func (vr *ValidationResult) Error() string {
	return strings.Join(vr.GetErrorMessages(), "; ")
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// GetErrorsForField returns errors for a specific field
func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}
