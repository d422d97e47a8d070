package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/validation"
	"github.com/Daily-Wins/dw-chromegpt/internal/credentials"
)

// GetCredentials reports which credentials are configured. The API key is never returned.
// GET /api/v1/credentials
func (h *Handler) GetCredentials(c echo.Context) error {
	provider := h.service.Credentials()
	if provider == nil {
		return c.JSON(http.StatusOK, credentials.Describe(credentials.Credentials{}, h.source))
	}
	creds, err := provider.Credentials(c.Request().Context())
	if err != nil {
		return h.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, credentials.Describe(creds, h.source))
}

// PutCredentials replaces the stored credentials.
// PUT /api/v1/credentials
func (h *Handler) PutCredentials(c echo.Context) error {
	if h.store == nil {
		return c.JSON(http.StatusMethodNotAllowed, map[string]string{"error": "credentials are read-only"})
	}
	body, ok, err := h.readValidated(c, validation.SchemaCredentials)
	if !ok {
		return err
	}

	var creds credentials.Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := creds.Validate(); err != nil {
		return h.errorJSON(c, err)
	}

	if err := h.store.Save(c.Request().Context(), creds); err != nil {
		return h.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, credentials.Describe(creds, h.source))
}

// DeleteCredentials removes stored credentials; a configured fallback applies again.
// DELETE /api/v1/credentials
func (h *Handler) DeleteCredentials(c echo.Context) error {
	if h.store == nil {
		return c.JSON(http.StatusMethodNotAllowed, map[string]string{"error": "credentials are read-only"})
	}
	if err := h.store.Clear(c.Request().Context()); err != nil {
		return h.errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
