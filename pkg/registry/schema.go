// pkg/registry/schema.go
package registry

// Status tracks how far a worker's implementation has come.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusVerified   Status = "verified"
)

// Known reports whether s is one of the declared statuses.
func (s Status) Known() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusCompleted, StatusVerified:
		return true
	}
	return false
}

// ActivityRegistry is the JSON document under configs/activity-registry.json.
type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

// Activity describes one Zeebe task type: the variables it reads, the variables it
// completes with and the BPMN error codes it may throw.
type Activity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Version     string `json:"version"`
	TaskType    string `json:"taskType"`
	Status      Status `json:"implementationStatus"`

	InputSchema  map[string]interface{} `json:"inputSchema"`
	OutputSchema map[string]interface{} `json:"outputSchema"`
	ErrorCodes   []string               `json:"errorCodes"`

	Timeout   string   `json:"timeout"`
	Retries   int      `json:"retries"`
	Workflows []string `json:"workflows,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}
