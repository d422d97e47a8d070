package registry

import (
	"github.com/Daily-Wins/dw-chromegpt/internal/common/validation"
)

const (
	TaskResolveFormField = "resolve-form-field"
	TaskFillForm         = "fill-form"
)

const registryVersion = "1.0.0"

var resolutionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"fieldName":    map[string]interface{}{"type": "string"},
		"outcome":      map[string]interface{}{"type": "string", "enum": []interface{}{"resolved", "no_value", "failed"}},
		"value":        map[string]interface{}{},
		"errorMessage": map[string]interface{}{"type": "string"},
		"errorCode":    map[string]interface{}{"type": "string"},
	},
	"required": []interface{}{"fieldName", "outcome"},
}

// FormFill describes the job workers this service registers with Zeebe.
func FormFill() *ActivityRegistry {
	return &ActivityRegistry{
		Version: registryVersion,
		Activities: []Activity{
			{
				ID:          "formfill.field.resolve",
				DisplayName: "Resolve Form Field",
				Description: "Resolves one form field against the assistant's company documents",
				Category:    "formfill",
				Version:     registryVersion,
				TaskType:    TaskResolveFormField,
				Status:      StatusCompleted,
				InputSchema: validation.SchemaMap(validation.SchemaResolveFieldJob),
				OutputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"resolution": resolutionSchema,
						"fieldValue": map[string]interface{}{},
					},
					"required": []interface{}{"resolution"},
				},
				ErrorCodes: []string{"CONFIG_ERROR", "INPUT_VALIDATION_FAILED", "INTERNAL_ERROR"},
				Timeout:    "60s",
				Retries:    1,
				Tags:       []string{"ai", "assistant", "formfill"},
			},
			{
				ID:          "formfill.form.fill",
				DisplayName: "Fill Form",
				Description: "Resolves every field of a form in concurrent groups and reports progress",
				Category:    "formfill",
				Version:     registryVersion,
				TaskType:    TaskFillForm,
				Status:      StatusCompleted,
				InputSchema: validation.SchemaMap(validation.SchemaFillRequest),
				OutputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"batchId":      map[string]interface{}{"type": "string"},
						"filledCount":  map[string]interface{}{"type": "integer"},
						"failedCount":  map[string]interface{}{"type": "integer"},
						"totalCount":   map[string]interface{}{"type": "integer"},
						"noValueCount": map[string]interface{}{"type": "integer"},
						"values":       map[string]interface{}{"type": "object"},
						"results":      map[string]interface{}{"type": "array", "items": resolutionSchema},
					},
					"required": []interface{}{"filledCount", "failedCount", "totalCount"},
				},
				ErrorCodes: []string{"CONFIG_ERROR", "INPUT_VALIDATION_FAILED", "INTERNAL_ERROR"},
				Timeout:    "300s",
				Retries:    0,
				Tags:       []string{"ai", "assistant", "formfill", "batch"},
			},
		},
	}
}
