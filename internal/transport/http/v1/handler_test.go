package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daily-Wins/dw-chromegpt/internal/assistant"
	"github.com/Daily-Wins/dw-chromegpt/internal/batch"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/database"
	apperrors "github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/credentials"
	"github.com/Daily-Wins/dw-chromegpt/internal/formfill"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
	"github.com/Daily-Wins/dw-chromegpt/internal/progress"
	"github.com/Daily-Wins/dw-chromegpt/internal/resolver"
)

type stubAsker struct {
	text string
	err  error
}

func (s stubAsker) Ask(context.Context, string, int) (assistant.Reply, error) {
	if s.err != nil {
		return assistant.Reply{}, s.err
	}
	return assistant.Reply{Text: s.text, Session: models.ConversationSession{SessionID: "thread_1"}}, nil
}

func newTestHandler(t *testing.T, creds credentials.Provider, asker stubAsker, opts ...Option) *Handler {
	log := logger.NewTestLogger(t)
	sessions := func(credentials.Credentials) (resolver.Asker, error) { return asker, nil }
	res := resolver.New(resolver.Config{}, log, nil)
	orch := batch.NewOrchestrator(batch.Config{}, res, creds, sessions, log,
		batch.WithSleep(func(context.Context, time.Duration) error { return nil }))
	svc := formfill.NewService(res, orch, creds, sessions, log)
	return NewHandler(svc, log, opts...)
}

func doJSON(t *testing.T, h echo.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, h(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ==========================
// Fields and forms
// ==========================

func TestResolveField(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{text: "```json\n{\"vat\": \"TRUE\"}\n```"})

	rec := doJSON(t, h.ResolveField, http.MethodPost, "/api/v1/fields/resolve", `{"name": "vat", "type": "checkbox"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, true, out["value"])
	resolution := out["resolution"].(map[string]interface{})
	assert.Equal(t, "resolved", resolution["outcome"])
	assert.Equal(t, "TRUE", resolution["value"])
}

func TestResolveField_FailedResolutionIsStillOK(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{err: apperrors.NewRunFailedError("run_1", "boom")})

	rec := doJSON(t, h.ResolveField, http.MethodPost, "/api/v1/fields/resolve", `{"name": "company"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resolution := decode(t, rec)["resolution"].(map[string]interface{})
	assert.Equal(t, "failed", resolution["outcome"])
	assert.Equal(t, "RUN_FAILED", resolution["errorCode"])
}

func TestResolveField_Validation(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{text: "{}"})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"broken json", `{"name":`},
		{"missing name", `{"type": "text"}`},
		{"name wrong type", `{"name": 12}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h.ResolveField, http.MethodPost, "/api/v1/fields/resolve", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INPUT_VALIDATION_FAILED", decode(t, rec)["code"])
		})
	}
}

func TestFillForm(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{text: `{"company": "Daily Wins AB", "employees": "about 25"}`})

	body := `{"batchId": "b7", "fields": [{"name": "company"}, {"name": "employees", "type": "number"}, {"name": "fax"}]}`
	rec := doJSON(t, h.FillForm, http.MethodPost, "/api/v1/forms/fill", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "b7", result.BatchID)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 2, result.FilledCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, result.NoValueCount)
	assert.Equal(t, map[string]interface{}{"company": "Daily Wins AB", "employees": "25"}, result.Values)
}

func TestFillForm_MissingCredentials(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("", "asst"), stubAsker{text: "{}"})

	rec := doJSON(t, h.FillForm, http.MethodPost, "/api/v1/forms/fill", `{"fields": [{"name": "company"}]}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "CONFIG_ERROR", decode(t, rec)["code"])
}

func TestFillForm_Validation(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{text: "{}"})

	rec := doJSON(t, h.FillForm, http.MethodPost, "/api/v1/forms/fill", `{"fields": [], "concurrency": 0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	errs := decode(t, rec)["errors"].([]interface{})
	assert.Len(t, errs, 2)
}

func TestResolveForm(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{text: `{"company": "Daily Wins AB", "newsletter": false, "fax": null}`})

	body := `{"url": "https://example.com/signup", "fields": [{"name": "company"}, {"name": "newsletter", "type": "checkbox"}, {"name": "fax"}]}`
	rec := doJSON(t, h.ResolveForm, http.MethodPost, "/api/v1/forms/resolve", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.FormResolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "thread_1", res.SessionID)
	assert.Equal(t, map[string]interface{}{"company": "Daily Wins AB", "newsletter": false}, res.Values)
	assert.Equal(t, []string{"fax"}, res.Missing)
}

func TestResolveForm_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		asker  stubAsker
		status int
		code   string
	}{
		{"timed out", stubAsker{err: apperrors.NewTimedOutError("run_1", 90)}, http.StatusGatewayTimeout, "TIMED_OUT"},
		{"upstream", stubAsker{err: apperrors.NewUpstreamError("create run", "500 Internal Server Error", "")}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"unparseable", stubAsker{text: "I could not find anything."}, http.StatusBadGateway, "PARSE_ERROR"},
		{"plain error", stubAsker{err: errors.New("boom")}, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, credentials.NewStatic("sk", "asst"), tt.asker)
			rec := doJSON(t, h.ResolveForm, http.MethodPost, "/api/v1/forms/resolve", `{"fields": [{"name": "company"}]}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[apperrors.ErrorCode]int{
		apperrors.ErrCodeConfig:          http.StatusPreconditionFailed,
		apperrors.ErrCodeInputValidation: http.StatusBadRequest,
		apperrors.ErrCodeUpstream:        http.StatusBadGateway,
		apperrors.ErrCodeRunFailed:       http.StatusBadGateway,
		apperrors.ErrCodeRunCancelled:    http.StatusBadGateway,
		apperrors.ErrCodeParse:           http.StatusBadGateway,
		apperrors.ErrCodeTimedOut:        http.StatusGatewayTimeout,
		apperrors.ErrCodeInternal:        http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, StatusFor(code), string(code))
	}
}

// ==========================
// Credentials
// ==========================

func TestGetCredentials_NeverReturnsKey(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk-secret", "asst_1"), stubAsker{})

	rec := doJSON(t, h.GetCredentials, http.MethodGet, "/api/v1/credentials", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-secret")

	out := decode(t, rec)
	assert.Equal(t, true, out["apiKeySet"])
	assert.Equal(t, "asst_1", out["assistantId"])
	assert.Equal(t, "static", out["source"])
}

func TestPutCredentials_ReadOnlyWithoutStore(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{})

	rec := doJSON(t, h.PutCredentials, http.MethodPut, "/api/v1/credentials", `{"apiKey": "a", "assistantId": "b"}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = doJSON(t, h.DeleteCredentials, http.MethodDelete, "/api/v1/credentials", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCredentials_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := database.WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	store := credentials.NewRedisStore(client, "formfill:credentials", nil, 0, logger.NewTestLogger(t))
	h := newTestHandler(t, store, stubAsker{text: `{"company": "Daily Wins AB"}`},
		WithCredentialStore(store), WithCredentialSource("redis"))

	rec := doJSON(t, h.FillForm, http.MethodPost, "/api/v1/forms/fill", `{"fields": [{"name": "company"}]}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = doJSON(t, h.PutCredentials, http.MethodPut, "/api/v1/credentials", `{"apiKey": "sk-new"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.PutCredentials, http.MethodPut, "/api/v1/credentials", `{"apiKey": "sk-new", "assistantId": "asst_new"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sk-new", mr.HGet("formfill:credentials", "api_key"))

	rec = doJSON(t, h.FillForm, http.MethodPost, "/api/v1/forms/fill", `{"fields": [{"name": "company"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.DeleteCredentials, http.MethodDelete, "/api/v1/credentials", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, mr.Exists("formfill:credentials"))
}

// ==========================
// Origins and API token
// ==========================

func serve(e *echo.Echo, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestOrigins(t *testing.T) {
	e := echo.New()
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{text: `{"company": "Daily Wins AB"}`})
	h.RegisterRoutes(e)
	body := `{"url": "https://example.com/signup", "fields": [{"name": "company"}]}`

	tests := []struct {
		name       string
		origin     string
		wantStatus int
	}{
		{"extension", "chrome-extension://abcdefghijklmnop", http.StatusOK},
		{"no origin header", "", http.StatusOK},
		{"foreign page", "https://evil.example.com", http.StatusForbidden},
		{"lookalike scheme", "chrome-extension-evil://abc", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.origin != "" {
				headers[echo.HeaderOrigin] = tt.origin
			}
			rec := serve(e, http.MethodPost, "/api/v1/forms/resolve", body, headers)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.origin != "" && tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.origin, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
			}
		})
	}

	t.Run("health stays open", func(t *testing.T) {
		rec := serve(e, http.MethodGet, "/health", "", map[string]string{echo.HeaderOrigin: "https://evil.example.com"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestOrigins_Configured(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{},
		WithAllowedOrigins("chrome-extension://abcdefghijklmnop", "https://intranet.example.com"))

	assert.True(t, h.originAllowed("https://intranet.example.com"))
	assert.True(t, h.originAllowed("chrome-extension://abcdefghijklmnop"))
	assert.False(t, h.originAllowed("chrome-extension://otherextension"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/b1/progress", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example.com")
	assert.False(t, h.upgrader.CheckOrigin(req))
	req.Header.Set(echo.HeaderOrigin, "https://intranet.example.com")
	assert.True(t, h.upgrader.CheckOrigin(req))
}

func TestStreamProgress_RejectsForeignOrigin(t *testing.T) {
	hub := progress.NewHub(logger.NewTestLogger(t))
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{}, WithHub(hub))
	e := echo.New()
	h.RegisterRoutes(e)
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/batches/b1/progress"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{echo.HeaderOrigin: {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.SubscriberCount("b1"))
}

func TestCredentialWrites_RequireToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := database.WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	store := credentials.NewRedisStore(client, "formfill:credentials", nil, 0, logger.NewTestLogger(t))
	creds := `{"apiKey": "sk-new", "assistantId": "asst_new"}`
	extension := "chrome-extension://abcdefghijklmnop"

	t.Run("no token configured", func(t *testing.T) {
		e := echo.New()
		newTestHandler(t, store, stubAsker{}, WithCredentialStore(store)).RegisterRoutes(e)

		rec := serve(e, http.MethodPut, "/api/v1/credentials", creds, map[string]string{echo.HeaderAuthorization: "Bearer anything"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = serve(e, http.MethodDelete, "/api/v1/credentials", "", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, mr.Exists("formfill:credentials"))
	})

	e := echo.New()
	newTestHandler(t, store, stubAsker{}, WithCredentialStore(store), WithAPIToken("tok-123")).RegisterRoutes(e)

	tests := []struct {
		name       string
		method     string
		headers    map[string]string
		wantStatus int
	}{
		{"missing token", http.MethodPut, map[string]string{echo.HeaderOrigin: extension}, http.StatusUnauthorized},
		{"wrong token", http.MethodPut, map[string]string{echo.HeaderAuthorization: "Bearer tok-999"}, http.StatusUnauthorized},
		{"foreign origin with token", http.MethodPut, map[string]string{
			echo.HeaderOrigin: "https://evil.example.com", echo.HeaderAuthorization: "Bearer tok-123",
		}, http.StatusForbidden},
		{"valid token", http.MethodPut, map[string]string{
			echo.HeaderOrigin: extension, echo.HeaderAuthorization: "Bearer tok-123",
		}, http.StatusOK},
		{"delete without token", http.MethodDelete, nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := ""
			if tt.method == http.MethodPut {
				body = creds
			}
			rec := serve(e, tt.method, "/api/v1/credentials", body, tt.headers)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, "sk-new", mr.HGet("formfill:credentials", "api_key"))

	rec := serve(e, http.MethodDelete, "/api/v1/credentials", "", map[string]string{echo.HeaderAuthorization: "Bearer tok-123"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, mr.Exists("formfill:credentials"))

	rec = serve(e, http.MethodGet, "/api/v1/credentials", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads need no token")
}

// ==========================
// Health and progress
// ==========================

func TestHealthAndReady(t *testing.T) {
	h := newTestHandler(t, nil, stubAsker{}, WithVersion("1.2.3"),
		WithReadiness(func(context.Context) error { return errors.New("redis ping failed") }))

	rec := doJSON(t, h.Health, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.3", decode(t, rec)["version"])

	rec = doJSON(t, h.Ready, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "redis ping failed", decode(t, rec)["error"])
}

func TestRegisterRoutes(t *testing.T) {
	e := echo.New()
	newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{}).RegisterRoutes(e)

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/fields/resolve",
		"POST /api/v1/forms/fill",
		"POST /api/v1/forms/resolve",
		"GET /api/v1/batches/:batch_id/progress",
		"GET /api/v1/credentials",
		"PUT /api/v1/credentials",
		"DELETE /api/v1/credentials",
		"GET /health",
		"GET /ready",
		"GET /metrics",
	} {
		assert.True(t, routes[want], want)
	}
}

func TestStreamProgress_DisabledWithoutHub(t *testing.T) {
	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{})

	rec := doJSON(t, h.StreamProgress, http.MethodGet, "/api/v1/batches/b1/progress", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamProgress_DeliversBatchEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := progress.NewHub(logger.NewTestLogger(t))
	go hub.Run(ctx)

	h := newTestHandler(t, credentials.NewStatic("sk", "asst"), stubAsker{text: `{"company": "Daily Wins AB"}`}, WithHub(hub))
	e := echo.New()
	h.RegisterRoutes(e)
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/batches/b9/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.SubscriberCount("b9") == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Report(ctx, models.ProgressEvent{BatchID: "b9", FieldName: "company", Outcome: models.OutcomeResolved, Completed: 1, Filled: 1, Total: 2, Percentage: 50})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.ProgressEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "company", got.FieldName)
	assert.Equal(t, 50, got.Percentage)
}
