// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/validation"
)

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ActivityRegistry
	err = json.Unmarshal(data, &reg)
	return &reg, err
}

// SaveRegistry writes reg as indented JSON, creating the directory if needed.
func SaveRegistry(reg *ActivityRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

// Missing returns the task types of want that reg does not declare.
func (r *ActivityRegistry) Missing(want *ActivityRegistry) []string {
	var missing []string
	for _, a := range want.Activities {
		if _, ok := r.Find(a.TaskType); !ok {
			missing = append(missing, a.TaskType)
		}
	}
	return missing
}

// Find returns the activity with the given task type.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// Validate checks required attributes, duplicate ids and that every input/output schema compiles.
func (r *ActivityRegistry) Validate() error {
	if len(r.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool)
	for _, activity := range r.Activities {
		if activity.ID == "" {
			return fmt.Errorf("activity missing required field: ID")
		}
		if ids[activity.ID] {
			return fmt.Errorf("duplicate activity ID: %s", activity.ID)
		}
		ids[activity.ID] = true

		if activity.DisplayName == "" {
			return fmt.Errorf("activity %s missing required field: DisplayName", activity.ID)
		}
		if activity.TaskType == "" {
			return fmt.Errorf("activity %s missing required field: TaskType", activity.ID)
		}
		if activity.Category == "" {
			return fmt.Errorf("activity %s missing required field: Category", activity.ID)
		}
		if activity.Status != "" && !activity.Status.Known() {
			return fmt.Errorf("activity %s has unknown implementation status %q", activity.ID, activity.Status)
		}
		for name, schema := range map[string]map[string]interface{}{
			"inputSchema":  activity.InputSchema,
			"outputSchema": activity.OutputSchema,
		} {
			if len(schema) == 0 {
				continue
			}
			if err := validation.CompileSchema(schema); err != nil {
				return fmt.Errorf("activity %s has an invalid %s: %w", activity.ID, name, err)
			}
		}
	}
	return nil
}
