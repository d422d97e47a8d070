// internal/models/session.go
package models

// ConversationSession is a remote conversation scoped to a fixed set of knowledge stores.
// One is created per field resolution and abandoned afterwards; the remote side expires it.
type ConversationSession struct {
	SessionID         string   `json:"sessionId"`
	AssistantID       string   `json:"assistantId"`
	KnowledgeStoreIDs []string `json:"knowledgeStoreIds"`
}

// RunStatus is the remote run state as reported by the assistant API.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// IsTerminal reports whether polling should stop on this status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	}
	return false
}

// RunExecution is one execution of the assistant against a session's messages.
type RunExecution struct {
	RunID            string    `json:"runId"`
	SessionID        string    `json:"sessionId"`
	Status           RunStatus `json:"status"`
	LastErrorMessage string    `json:"lastErrorMessage,omitempty"`
}
