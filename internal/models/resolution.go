// internal/models/resolution.go
package models

// Outcome is the terminal state of a single field resolution.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeNoValue  Outcome = "no_value"
	OutcomeFailed   Outcome = "failed"
)

// ResolutionResult is produced exactly once per field descriptor.
type ResolutionResult struct {
	FieldName    string      `json:"fieldName"`
	Outcome      Outcome     `json:"outcome"`
	Value        interface{} `json:"value"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	ErrorCode    string      `json:"errorCode,omitempty"`
}

// Filled reports whether the result carries a value that can be applied to a control.
func (r ResolutionResult) Filled() bool {
	return r.Outcome == OutcomeResolved && r.Value != nil
}
