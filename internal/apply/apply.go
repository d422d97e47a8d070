// Package apply converts resolved values into what a form control accepts and records them
// for the page agent, which performs the actual DOM writes.
package apply

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// Func applies one resolved value to its field. A returned error turns that field's
// result into a failure.
type Func func(field models.FieldDescriptor, value interface{}) error

var firstDigits = regexp.MustCompile(`\d+`)

// Coerce maps value onto the field's control type:
//   - checkbox: true only for the boolean true or the string "true"
//   - number: the first run of digits ("1–4" gives "1"), or the plain text when there is none
//   - everything else: the string form
func Coerce(field models.FieldDescriptor, value interface{}) interface{} {
	switch models.ParseFieldType(string(field.Type)) {
	case models.FieldTypeCheckbox:
		switch v := value.(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(strings.TrimSpace(v), "true")
		}
		return false
	case models.FieldTypeNumber:
		s := Stringify(value)
		if m := firstDigits.FindString(s); m != "" {
			return m
		}
		return s
	default:
		return Stringify(value)
	}
}

// Stringify renders a resolved value the way a text control would display it.
func Stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

// Recorder is the shipped applier: it coerces each value and keeps it by field name.
// It is safe for concurrent use by the goroutines of one batch group.
type Recorder struct {
	mu     sync.Mutex
	values map[string]interface{}
	order  []string
	logger logger.Logger
}

func NewRecorder(log logger.Logger) *Recorder {
	return &Recorder{
		values: make(map[string]interface{}),
		logger: log.WithFields(map[string]interface{}{"component": "applier"}),
	}
}

// Apply has the Func signature.
func (r *Recorder) Apply(field models.FieldDescriptor, value interface{}) error {
	if field.Name == "" {
		return fmt.Errorf("field has no name")
	}
	coerced := Coerce(field, value)

	r.mu.Lock()
	if _, seen := r.values[field.Name]; !seen {
		r.order = append(r.order, field.Name)
	}
	r.values[field.Name] = coerced
	r.mu.Unlock()

	r.logger.Debug("value applied", map[string]interface{}{
		"field": field.Name,
		"type":  string(field.Type),
	})
	return nil
}

// Values returns a copy of everything applied so far.
func (r *Recorder) Values() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Applied lists field names in the order they were first applied.
func (r *Recorder) Applied() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
