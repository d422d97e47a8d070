// Package errors provides the error taxonomy of the field-resolution pipeline and its
// mapping onto BPMN errors for the Zeebe workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Missing API key or assistant id. Fatal for a whole batch.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"
	// Non-success HTTP status or malformed API response.
	ErrCodeUpstream ErrorCode = "UPSTREAM_ERROR"
	// Remote run terminated abnormally.
	ErrCodeRunFailed    ErrorCode = "RUN_FAILED"
	ErrCodeRunCancelled ErrorCode = "RUN_CANCELLED"
	// Poll attempts exhausted.
	ErrCodeTimedOut ErrorCode = "TIMED_OUT"
	// Sanitized reply was not JSON and the fallback found nothing.
	ErrCodeParse ErrorCode = "PARSE_ERROR"

	ErrCodeInputValidation ErrorCode = "INPUT_VALIDATION_FAILED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewConfigError reports missing credentials or settings.
func NewConfigError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfig,
		Message:   "assistant credentials not configured",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamError reports a failed call against the assistant API. The body excerpt is
// kept as-is so the remote explanation survives.
func NewUpstreamError(operation string, status string, body string) *StandardError {
	details := status
	if body = strings.TrimSpace(body); body != "" {
		details = fmt.Sprintf("%s: %s", status, body)
	}
	return &StandardError{
		Code:      ErrCodeUpstream,
		Message:   fmt.Sprintf("failed to %s", operation),
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"operation": operation},
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportError wraps a network-level failure of a remote call.
func NewTransportError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstream,
		Message:   fmt.Sprintf("failed to %s", operation),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"operation": operation},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewRunFailedError carries the upstream last_error message unchanged.
func NewRunFailedError(runID, upstreamMessage string) *StandardError {
	if upstreamMessage == "" {
		upstreamMessage = "Unknown error"
	}
	return &StandardError{
		Code:      ErrCodeRunFailed,
		Message:   "run failed",
		Details:   upstreamMessage,
		Retryable: false,
		Metadata:  map[string]interface{}{"runId": runID},
		Timestamp: time.Now().UTC(),
	}
}

// NewRunCancelledError carries the upstream last_error message unchanged.
func NewRunCancelledError(runID, upstreamMessage string) *StandardError {
	if upstreamMessage == "" {
		upstreamMessage = "Unknown error"
	}
	return &StandardError{
		Code:      ErrCodeRunCancelled,
		Message:   "run cancelled",
		Details:   upstreamMessage,
		Retryable: false,
		Metadata:  map[string]interface{}{"runId": runID},
		Timestamp: time.Now().UTC(),
	}
}

// NewTimedOutError reports that the run did not reach a terminal status within the bound.
func NewTimedOutError(runID string, attempts int) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimedOut,
		Message:   "assistant did not respond in time",
		Details:   fmt.Sprintf("run %s still pending after %d polls", runID, attempts),
		Retryable: true,
		Metadata:  map[string]interface{}{"runId": runID, "attempts": attempts},
		Timestamp: time.Now().UTC(),
	}
}

// NewParseError reports a reply that could not be turned into a value.
func NewParseError(fieldName string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeParse,
		Message:   "JSON parse failed",
		Details:   err.Error(),
		Retryable: false,
		Metadata:  map[string]interface{}{"field": fieldName},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewInputValidationError reports a malformed request or job payload.
func NewInputValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInputValidation,
		Message:   "input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps anything unexpected, including recovered panics.
func NewInternalError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "unexpected error",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Classification
// ==========================

// Code extracts the ErrorCode of err, or INTERNAL_ERROR when err is not a StandardError.
func Code(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}

// IsConfigError reports whether err is batch-fatal.
func IsConfigError(err error) bool {
	return Is(err, ErrCodeConfig)
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeConfig:          "CONFIG_ERROR",
	ErrCodeUpstream:        "ASSISTANT_UNAVAILABLE",
	ErrCodeRunFailed:       "ASSISTANT_RUN_FAILED",
	ErrCodeRunCancelled:    "ASSISTANT_RUN_FAILED",
	ErrCodeTimedOut:        "ASSISTANT_TIMEOUT",
	ErrCodeParse:           "RESPONSE_PARSE_FAILED",
	ErrCodeInputValidation: "INPUT_VALIDATION_FAILED",
	ErrCodeInternal:        "INTERNAL_ERROR",
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeUpstream:
		return 2
	case ErrCodeTimedOut:
		return 1
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// GetErrorCategory groups codes for log aggregation.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeConfig:
		return "CONFIG"
	case ErrCodeUpstream, ErrCodeRunFailed, ErrCodeRunCancelled, ErrCodeTimedOut:
		return "ASSISTANT"
	case ErrCodeParse:
		return "RESPONSE"
	case ErrCodeInputValidation:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
