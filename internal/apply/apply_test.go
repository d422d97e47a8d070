package apply

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name      string
		fieldType models.FieldType
		value     interface{}
		want      interface{}
	}{
		{"checkbox bool true", models.FieldTypeCheckbox, true, true},
		{"checkbox bool false", models.FieldTypeCheckbox, false, false},
		{"checkbox string true", models.FieldTypeCheckbox, "true", true},
		{"checkbox string yes", models.FieldTypeCheckbox, "yes", false},
		{"checkbox number", models.FieldTypeCheckbox, float64(1), false},
		{"radio is checkbox-like", "radio", "true", true},
		{"number range text", models.FieldTypeNumber, "1–4", "1"},
		{"number float", models.FieldTypeNumber, float64(42), "42"},
		{"number without digits", models.FieldTypeNumber, "many", "many"},
		{"text string", models.FieldTypeText, "Daily Wins AB", "Daily Wins AB"},
		{"text number", models.FieldTypeText, float64(12.5), "12.5"},
		{"text bool", models.FieldTypeText, true, "true"},
		{"select", models.FieldTypeSelect, "SE", "SE"},
		{"email maps to text", "email", "info@example.com", "info@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := models.FieldDescriptor{Name: "f", Type: tt.fieldType}
			assert.Equal(t, tt.want, Coerce(field, tt.value))
		})
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(logger.NewTestLogger(t))

	require.NoError(t, r.Apply(models.FieldDescriptor{Name: "company", Type: "text"}, "Daily Wins AB"))
	require.NoError(t, r.Apply(models.FieldDescriptor{Name: "employees", Type: "number"}, float64(12)))
	require.NoError(t, r.Apply(models.FieldDescriptor{Name: "company", Type: "text"}, "Daily Wins"))

	assert.Equal(t, map[string]interface{}{"company": "Daily Wins", "employees": "12"}, r.Values())
	assert.Equal(t, []string{"company", "employees"}, r.Applied())

	assert.Error(t, r.Apply(models.FieldDescriptor{}, "x"))
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(logger.NewNoOpLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Apply(models.FieldDescriptor{Name: Stringify(i), Type: "number"}, float64(i))
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Values(), 50)
}
