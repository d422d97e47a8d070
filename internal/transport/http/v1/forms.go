package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Daily-Wins/dw-chromegpt/internal/batch"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/validation"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
	"github.com/Daily-Wins/dw-chromegpt/internal/resolver"
)

// ResolveField resolves a single field on a fresh conversation.
// POST /api/v1/fields/resolve
func (h *Handler) ResolveField(c echo.Context) error {
	body, ok, err := h.readValidated(c, validation.SchemaFieldDescriptor)
	if !ok {
		return err
	}

	var field models.FieldDescriptor
	if err := json.Unmarshal(body, &field); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	out, err := h.service.ResolveField(c.Request().Context(), field)
	if err != nil {
		return h.errorJSON(c, err)
	}
	// A failed resolution is still a well-formed answer about that field.
	return c.JSON(http.StatusOK, out)
}

// FillForm resolves every field of a batch and returns the aggregate.
// POST /api/v1/forms/fill
func (h *Handler) FillForm(c echo.Context) error {
	body, ok, err := h.readValidated(c, validation.SchemaFillRequest)
	if !ok {
		return err
	}

	var req batch.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	result, err := h.service.FillForm(c.Request().Context(), req)
	if err != nil {
		return h.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ResolveForm resolves a whole form in one conversation.
// POST /api/v1/forms/resolve
func (h *Handler) ResolveForm(c echo.Context) error {
	body, ok, err := h.readValidated(c, validation.SchemaFormRequest)
	if !ok {
		return err
	}

	var req resolver.FormRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	res, err := h.service.ResolveForm(c.Request().Context(), req)
	if err != nil {
		return h.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
