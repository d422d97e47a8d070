// test/e2e/e2e_test.go
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Daily-Wins/dw-chromegpt/internal/assistant"
	"github.com/Daily-Wins/dw-chromegpt/internal/batch"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/camunda"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/database"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/observability"
	"github.com/Daily-Wins/dw-chromegpt/internal/credentials"
	"github.com/Daily-Wins/dw-chromegpt/internal/formfill"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
	"github.com/Daily-Wins/dw-chromegpt/internal/progress"
	"github.com/Daily-Wins/dw-chromegpt/internal/resolver"
	v1 "github.com/Daily-Wins/dw-chromegpt/internal/transport/http/v1"
	fillform "github.com/Daily-Wins/dw-chromegpt/internal/workers/formfill/fill-form"
)

// ==========================
// Fake assistant API
// ==========================

// companyDocs holds the fake assistant's reply per field name. Unknown fields get prose.
var companyDocs = map[string]string{
	"company":   `{"company": "Daily Wins AB"}`,
	"org_nr":    "Sure! ```json\n{\"org_nr\": \"559123-4567\"}\n```",
	"employees": `{"employees": "25"}`,
	"vat":       `{"vat": true}`,
	"fax":       `{"fax": null}`,
	"founded":   `The company was founded in "founded": "2019", according to the annual report.`,
}

type fakeAssistant struct {
	mu       sync.Mutex
	nextID   int
	prompts  map[string]string
	apiCalls int
}

func newFakeAssistant() *fakeAssistant {
	return &fakeAssistant{prompts: map[string]string{}}
}

func (f *fakeAssistant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/assistants/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.count()
		writeJSON(w, map[string]interface{}{
			"id": r.PathValue("id"),
			"tool_resources": map[string]interface{}{
				"file_search": map[string]interface{}{"vector_store_ids": []string{"vs_docs"}},
			},
		})
	})

	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		f.count()
		f.mu.Lock()
		f.nextID++
		id := fmt.Sprintf("thread_%d", f.nextID)
		f.mu.Unlock()
		writeJSON(w, map[string]interface{}{"id": id})
	})

	mux.HandleFunc("POST /v1/threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.count()
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.prompts[r.PathValue("thread")] = body.Content
		f.mu.Unlock()
		writeJSON(w, map[string]interface{}{"id": "msg_user"})
	})

	mux.HandleFunc("POST /v1/threads/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
		f.count()
		writeJSON(w, map[string]interface{}{"id": "run_1", "thread_id": r.PathValue("thread"), "status": "queued"})
	})

	mux.HandleFunc("GET /v1/threads/{thread}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
		f.count()
		writeJSON(w, map[string]interface{}{"id": r.PathValue("run"), "status": "completed"})
	})

	mux.HandleFunc("GET /v1/threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.count()
		f.mu.Lock()
		prompt := f.prompts[r.PathValue("thread")]
		f.mu.Unlock()
		writeJSON(w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "msg_reply", "role": "assistant", "content": []map[string]interface{}{
					{"type": "text", "text": map[string]interface{}{"value": reply(prompt)}},
				}},
			},
		})
	})

	return mux
}

func (f *fakeAssistant) count() {
	f.mu.Lock()
	f.apiCalls++
	f.mu.Unlock()
}

func (f *fakeAssistant) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apiCalls
}

// reply answers a single-field prompt from companyDocs.
func reply(prompt string) string {
	for name, answer := range companyDocs {
		if strings.Contains(prompt, fmt.Sprintf("Field name: %q", name)) {
			return answer
		}
	}
	return "I could not find anything about that."
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ==========================
// Stack
// ==========================

const (
	apiToken        = "tok-e2e"
	extensionOrigin = "chrome-extension://dwchromegptextension"
)

type stack struct {
	server    *httptest.Server
	assistant *fakeAssistant
	store     *credentials.RedisStore
	publisher *progress.RedisPublisher
	service   *formfill.Service
	spans     *tracetest.SpanRecorder
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)

	fake := newFakeAssistant()
	api := httptest.NewServer(fake.handler(t))
	t.Cleanup(api.Close)

	mr := miniredis.RunT(t)
	rdb := database.WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rdb.Close() })

	spans := tracetest.NewSpanRecorder()
	obs, err := observability.New("formfill-e2e",
		observability.WithRegisterer(prometheus.NewRegistry()),
		observability.WithSpanProcessor(spans),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

	store := credentials.NewRedisStore(rdb, "formfill:credentials", credentials.NewStatic("", ""), 0, log)
	publisher := progress.NewRedisPublisher(rdb, "formfill:progress", log)

	res := resolver.New(resolver.Config{FieldMaxPolls: 5, FormMaxPolls: 5}, log, obs)
	sessions := batch.AssistantSessions(assistant.Config{
		BaseURL:        api.URL + "/v1",
		BetaHeader:     "assistants=v2",
		RequestTimeout: 5 * time.Second,
		PollInterval:   time.Millisecond,
	}, log)
	orchestrator := batch.NewOrchestrator(batch.Config{Concurrency: 2, GroupDelay: time.Millisecond, MaxFields: 50},
		res, store, sessions, log,
		batch.WithProgress(progress.NewMulti(progress.NewLogReporter(log), publisher)),
		batch.WithObservability(obs),
	)
	svc := formfill.NewService(res, orchestrator, store, sessions, log)

	e := echo.New()
	v1.NewHandler(svc, log,
		v1.WithCredentialStore(store),
		v1.WithCredentialSource("redis"),
		v1.WithReadiness(rdb.Ping),
		v1.WithAPIToken(apiToken),
	).RegisterRoutes(e)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &stack{server: server, assistant: fake, store: store, publisher: publisher, service: svc, spans: spans}
}

func (s *stack) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", extensionOrigin)
	req.Header.Set("Authorization", "Bearer "+apiToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func formFields() []map[string]interface{} {
	return []map[string]interface{}{
		{"name": "company", "type": "text", "label": "Company name"},
		{"name": "org_nr", "type": "text", "label": "Organisation number"},
		{"name": "employees", "type": "select", "label": "Number of employees"},
		{"name": "vat", "type": "checkbox", "label": "VAT registered"},
		{"name": "fax", "type": "tel", "label": "Fax"},
		{"name": "founded", "type": "number", "label": "Year founded"},
		{"name": "motto", "type": "text", "label": "Company motto"},
	}
}

// ==========================
// HTTP flow
// ==========================

func TestFillFormOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E tests in short mode")
	}
	s := newStack(t)

	t.Run("without credentials", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/v1/forms/fill", map[string]interface{}{"fields": formFields()})
		assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
		assert.Zero(t, s.assistant.calls())
	})

	t.Run("foreign page is refused", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/v1/forms/fill", strings.NewReader(`{"fields": [{"name": "company"}]}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "https://evil.example.com")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Zero(t, s.assistant.calls())
	})

	t.Run("store credentials", func(t *testing.T) {
		resp := s.do(t, http.MethodPut, "/api/v1/credentials", map[string]interface{}{
			"apiKey":      "sk-e2e",
			"assistantId": "asst_e2e",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = s.do(t, http.MethodGet, "/api/v1/credentials", nil)
		var status map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.Equal(t, "redis", status["source"])
		assert.NotContains(t, fmt.Sprint(status), "sk-e2e")
	})

	t.Run("fill with progress", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		events, err := s.publisher.Subscribe(ctx, "signup-e2e")
		require.NoError(t, err)

		resp := s.do(t, http.MethodPost, "/api/v1/forms/fill", map[string]interface{}{
			"batchId": "signup-e2e",
			"fields":  formFields(),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result models.BatchResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, "signup-e2e", result.BatchID)
		assert.Equal(t, 7, result.TotalCount)
		assert.Equal(t, 5, result.FilledCount)
		assert.Equal(t, 2, result.FailedCount)
		assert.Equal(t, 1, result.NoValueCount)
		assert.Equal(t, "Daily Wins AB", result.Values["company"])
		assert.Equal(t, "559123-4567", result.Values["org_nr"])
		assert.Equal(t, "25", result.Values["employees"])
		assert.Equal(t, "2019", result.Values["founded"])
		assert.Equal(t, true, result.Values["vat"])
		assert.NotContains(t, result.Values, "fax")
		assert.NotContains(t, result.Values, "motto")

		var last models.ProgressEvent
		seen := 0
		for seen < result.TotalCount {
			select {
			case event := <-events:
				assert.Equal(t, "signup-e2e", event.BatchID)
				assert.GreaterOrEqual(t, event.Completed, last.Completed)
				last = event
				seen++
			case <-ctx.Done():
				t.Fatalf("received %d of %d progress events", seen, result.TotalCount)
			}
		}
		assert.Equal(t, 7, last.Completed)
		assert.Equal(t, 100, last.Percentage)
	})

	t.Run("spans recorded", func(t *testing.T) {
		names := map[string]int{}
		for _, span := range s.spans.Ended() {
			names[span.Name()]++
		}
		assert.Equal(t, 7, names["resolver.Resolve"])
	})

	t.Run("clear credentials", func(t *testing.T) {
		resp := s.do(t, http.MethodDelete, "/api/v1/credentials", nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = s.do(t, http.MethodPost, "/api/v1/fields/resolve", map[string]interface{}{
			"field": map[string]interface{}{"name": "company"},
		})
		assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	})
}

// ==========================
// Zeebe flow
// ==========================

const fillFormProcess = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL"
  xmlns:zeebe="http://camunda.org/schema/zeebe/1.0"
  id="Definitions_FillFormE2E" targetNamespace="http://bpmn.io/schema/bpmn">
  <bpmn:process id="fill-form-e2e" isExecutable="true">
    <bpmn:startEvent id="Start" />
    <bpmn:sequenceFlow id="Flow_1" sourceRef="Start" targetRef="Activity_FillForm" />
    <bpmn:serviceTask id="Activity_FillForm" name="Fill Form">
      <bpmn:extensionElements>
        <zeebe:taskDefinition type="fill-form" />
      </bpmn:extensionElements>
    </bpmn:serviceTask>
    <bpmn:sequenceFlow id="Flow_2" sourceRef="Activity_FillForm" targetRef="End" />
    <bpmn:endEvent id="End" />
  </bpmn:process>
</bpmn:definitions>`

// TestFillFormOverZeebe needs a running gateway, e.g. ZEEBE_ADDRESS=localhost:26500.
func TestFillFormOverZeebe(t *testing.T) {
	address := os.Getenv("ZEEBE_ADDRESS")
	if testing.Short() || address == "" {
		t.Skip("Skipping Zeebe E2E test: ZEEBE_ADDRESS not set")
	}
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, s.store.Save(ctx, credentials.Credentials{APIKey: "sk-e2e", AssistantID: "asst_e2e"}))

	client, err := camunda.NewClient(address)
	require.NoError(t, err)
	defer client.Close()

	handler, err := fillform.NewHandler(fillform.HandlerOptions{
		Camunda: client,
		Service: s.service,
		Logger:  logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, handler.Register())
	defer handler.Close()

	zbc := client.GetClient()
	_, err = zbc.NewDeployResourceCommand().AddResource([]byte(fillFormProcess), "fill-form-e2e.bpmn").Send(ctx)
	require.NoError(t, err)

	cmd, err := zbc.NewCreateInstanceCommand().
		BPMNProcessId("fill-form-e2e").
		LatestVersion().
		VariablesFromMap(map[string]interface{}{"fields": formFields()[:2]})
	require.NoError(t, err)

	result, err := cmd.WithResult().Send(ctx)
	require.NoError(t, err)

	var vars models.BatchResult
	require.NoError(t, json.Unmarshal([]byte(result.GetVariables()), &vars))
	assert.Equal(t, 2, vars.FilledCount)
	assert.Equal(t, "Daily Wins AB", vars.Values["company"])
	assert.True(t, strings.HasPrefix(vars.BatchID, "job-"))
}
