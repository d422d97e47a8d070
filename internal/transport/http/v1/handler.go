// Package v1 exposes the form-fill operations over HTTP.
package v1

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"path"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/config"
	apperrors "github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/validation"
	"github.com/Daily-Wins/dw-chromegpt/internal/credentials"
	"github.com/Daily-Wins/dw-chromegpt/internal/formfill"
	"github.com/Daily-Wins/dw-chromegpt/internal/progress"
)

// maxBodyBytes bounds request bodies read for schema validation.
const maxBodyBytes = 1 << 20

// Handler handles HTTP requests.
type Handler struct {
	service  *formfill.Service
	hub      *progress.Hub
	store    credentials.Store
	source   string
	ready    func(ctx context.Context) error
	version  string
	origins  []string
	token    string
	upgrader websocket.Upgrader
	logger   logger.Logger
}

type Option func(*Handler)

// WithHub enables the WebSocket progress endpoint.
func WithHub(h *progress.Hub) Option {
	return func(hd *Handler) { hd.hub = h }
}

// WithCredentialStore allows credentials to be replaced at runtime. Without it PUT and
// DELETE on /api/v1/credentials answer 405.
func WithCredentialStore(s credentials.Store) Option {
	return func(hd *Handler) { hd.store = s }
}

// WithCredentialSource names the provider in credential status responses.
func WithCredentialSource(source string) Option {
	return func(hd *Handler) { hd.source = source }
}

// WithReadiness is consulted by /ready, e.g. to ping Redis.
func WithReadiness(ready func(ctx context.Context) error) Option {
	return func(hd *Handler) { hd.ready = ready }
}

// WithAllowedOrigins replaces config.DefaultAllowedOrigins. Patterns follow path.Match, so
// chrome-extension://* admits any extension and "*" admits every origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(hd *Handler) {
		if len(origins) > 0 {
			hd.origins = origins
		}
	}
}

// WithAPIToken sets the bearer token required by PUT and DELETE on /api/v1/credentials.
func WithAPIToken(token string) Option {
	return func(hd *Handler) { hd.token = token }
}

func WithVersion(version string) Option {
	return func(hd *Handler) { hd.version = version }
}

// NewHandler creates a new handler.
func NewHandler(service *formfill.Service, log logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		source:  "static",
		version: "dev",
		origins: config.DefaultAllowedOrigins,
		logger:  log.WithFields(map[string]interface{}{"component": "http"}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.originAllowed(r.Header.Get(echo.HeaderOrigin))
		},
	}
	return h
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1",
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: h.origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
		}),
		h.rejectForeignOrigin,
	)

	api.POST("/fields/resolve", h.ResolveField)
	api.POST("/forms/fill", h.FillForm)
	api.POST("/forms/resolve", h.ResolveForm)
	api.GET("/batches/:batch_id/progress", h.StreamProgress)

	api.GET("/credentials", h.GetCredentials)
	api.PUT("/credentials", h.PutCredentials, h.requireToken())
	api.DELETE("/credentials", h.DeleteCredentials, h.requireToken())

	h.RegisterHealthRoutes(e)
}

// RegisterHealthRoutes registers only the health checks and the metrics endpoint, for worker-only
// deployments.
func (h *Handler) RegisterHealthRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// originAllowed reports whether a browser origin may use the API. Requests without an
// Origin header do not come from a web page and are let through.
func (h *Handler) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, pattern := range h.origins {
		if pattern == "*" || pattern == origin {
			return true
		}
		if ok, err := path.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	return false
}

// rejectForeignOrigin refuses requests from pages outside the allowed origins. CORS alone only
// hides the response; the request would still run.
func (h *Handler) rejectForeignOrigin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		origin := c.Request().Header.Get(echo.HeaderOrigin)
		if !h.originAllowed(origin) {
			h.logger.Warn("request from foreign origin rejected", map[string]interface{}{
				"path":   c.Path(),
				"origin": origin,
			})
			return c.JSON(http.StatusForbidden, map[string]string{"error": "origin not allowed"})
		}
		return next(c)
	}
}

// requireToken guards credential writes with the configured bearer token. Without a token
// the writes are refused outright.
func (h *Handler) requireToken() echo.MiddlewareFunc {
	if h.token == "" {
		return func(echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "credential updates are disabled: no API token configured"})
			}
		}
	}
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(h.token)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			h.logger.Warn("credential update without a valid token", map[string]interface{}{
				"path":  c.Path(),
				"error": err.Error(),
			})
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or invalid API token"})
		},
	})
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// Ready reports whether dependencies are reachable.
// GET /ready
func (h *Handler) Ready(c echo.Context) error {
	if h.ready != nil {
		if err := h.ready(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// readValidated reads the body and checks it against schema. On failure the 400 response
// has already been written and ok is false.
func (h *Handler) readValidated(c echo.Context, schema validation.Schema) (body []byte, ok bool, err error) {
	body, err = io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return nil, false, c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	result := validation.ValidateJSON(schema, body)
	if !result.Valid {
		return nil, false, c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":  "request validation failed",
			"code":   string(apperrors.ErrCodeInputValidation),
			"errors": result.Errors,
		})
	}
	return body, true, nil
}

// StatusFor maps an error code onto the HTTP status returned to callers.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeConfig:
		return http.StatusPreconditionFailed
	case apperrors.ErrCodeInputValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeUpstream, apperrors.ErrCodeRunFailed, apperrors.ErrCodeRunCancelled, apperrors.ErrCodeParse:
		return http.StatusBadGateway
	case apperrors.ErrCodeTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) errorJSON(c echo.Context, err error) error {
	stdErr := apperrors.Normalize(err)
	status := StatusFor(stdErr.Code)
	fields := map[string]interface{}{
		"path":      c.Path(),
		"errorCode": string(stdErr.Code),
		"status":    status,
	}
	if status >= http.StatusInternalServerError {
		fields["error"] = stdErr.Error()
		h.logger.Error("request failed", fields)
	} else {
		h.logger.Warn("request rejected", fields)
	}
	return c.JSON(status, map[string]interface{}{
		"error":     stdErr.Message,
		"code":      string(stdErr.Code),
		"details":   stdErr.Details,
		"retryable": stdErr.Retryable,
	})
}
