package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// StreamProgress upgrades to a WebSocket and streams progress events of one batch.
// GET /api/v1/batches/:batch_id/progress
func (h *Handler) StreamProgress(c echo.Context) error {
	if h.hub == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "progress streaming is disabled"})
	}
	batchID := strings.TrimSpace(c.Param("batch_id"))
	if batchID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "batch_id is required"})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"batchId": batchID,
			"error":   err.Error(),
		})
		return nil
	}

	h.hub.Serve(ws, batchID)
	return nil
}
