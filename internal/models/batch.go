// internal/models/batch.go
package models

// BatchResult aggregates a multi-field fill. FilledCount+FailedCount == TotalCount once the
// batch is done; NoValueCount is the part of FailedCount where the assistant had no answer.
type BatchResult struct {
	BatchID      string                 `json:"batchId"`
	FilledCount  int                    `json:"filledCount"`
	FailedCount  int                    `json:"failedCount"`
	TotalCount   int                    `json:"totalCount"`
	NoValueCount int                    `json:"noValueCount"`
	Values       map[string]interface{} `json:"values,omitempty"`
	Results      []ResolutionResult     `json:"results,omitempty"`
}

// ProgressEvent is emitted after every individual field completes.
type ProgressEvent struct {
	BatchID    string  `json:"batchId"`
	FieldName  string  `json:"field"`
	Outcome    Outcome `json:"outcome"`
	Completed  int     `json:"completed"`
	Filled     int     `json:"filled"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
	Percentage int     `json:"percentage"`
}

// FormResolution is the result of resolving a whole form in one conversation.
type FormResolution struct {
	SessionID string                 `json:"sessionId,omitempty"`
	Values    map[string]interface{} `json:"values"`
	Missing   []string               `json:"missing,omitempty"`
}
