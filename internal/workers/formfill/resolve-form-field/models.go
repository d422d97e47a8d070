package resolveformfield

import "github.com/Daily-Wins/dw-chromegpt/internal/models"

type Input struct {
	Field models.FieldDescriptor `json:"field"`
}

type Output struct {
	Resolution models.ResolutionResult `json:"resolution"`
	FieldValue interface{}             `json:"fieldValue"`
}
