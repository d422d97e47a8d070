// Package assistant talks to the hosted assistant API: it opens a knowledge-grounded
// conversation, posts one prompt, runs the assistant and returns its reply.
package assistant

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"time"

	apperrors "github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
	commonhttp "github.com/Daily-Wins/dw-chromegpt/internal/common/http"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/metrics"
	"github.com/Daily-Wins/dw-chromegpt/internal/credentials"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// Config holds transport settings that do not change between batches.
type Config struct {
	BaseURL          string
	BetaHeader       string
	RequestTimeout   time.Duration
	PollInterval     time.Duration
	MaxResponseBytes int64
}

// Client is bound to one credential snapshot. Build a new one when credentials change.
type Client struct {
	api         *commonhttp.Client
	apiKey      string
	assistantID string
	httpOpts    []commonhttp.Option
	cfg         Config
	logger      logger.Logger
	sleep       SleepFunc
	onState     func(State)
}

// Option customises a Client.
type Option func(*Client)

// WithSleep replaces the poll sleep, used by tests to avoid real waits.
func WithSleep(s SleepFunc) Option {
	return func(c *Client) { c.sleep = s }
}

// WithStateHook is called on every state transition of Ask.
func WithStateHook(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// WithHTTPOptions forwards options to the underlying HTTP client.
func WithHTTPOptions(opts ...commonhttp.Option) Option {
	return func(c *Client) { c.httpOpts = append(c.httpOpts, opts...) }
}

// NewClient validates creds and returns a client that uses them for every call. Missing
// credentials yield CONFIG_ERROR.
func NewClient(cfg Config, creds credentials.Credentials, log logger.Logger, opts ...Option) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	c := &Client{
		apiKey:      creds.APIKey,
		assistantID: creds.AssistantID,
		cfg:         cfg,
		logger:      log.WithFields(map[string]interface{}{"component": "assistant"}),
		sleep:       ContextSleep,
	}
	for _, opt := range opts {
		opt(c)
	}

	httpOpts := []commonhttp.Option{
		commonhttp.WithBearer(c.apiKey),
		commonhttp.WithHeader("OpenAI-Beta", cfg.BetaHeader),
	}
	if cfg.MaxResponseBytes > 0 {
		httpOpts = append(httpOpts, commonhttp.WithMaxBody(cfg.MaxResponseBytes))
	}
	c.api = commonhttp.NewClient(cfg.BaseURL, cfg.RequestTimeout, append(httpOpts, c.httpOpts...)...)
	return c, nil
}

// ==========================
// Wire types
// ==========================

type assistantResponse struct {
	ID            string `json:"id"`
	ToolResources struct {
		FileSearch struct {
			VectorStoreIDs []string `json:"vector_store_ids"`
		} `json:"file_search"`
	} `json:"tool_resources"`
}

type threadRequest struct {
	ToolResources toolResources `json:"tool_resources"`
}

type toolResources struct {
	FileSearch fileSearch `json:"file_search"`
}

type fileSearch struct {
	VectorStoreIDs []string `json:"vector_store_ids"`
}

type idResponse struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	AssistantID string `json:"assistant_id"`
}

type runResponse struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// ==========================
// API operations
// ==========================

// KnowledgeStores returns the document stores attached to the configured assistant.
func (c *Client) KnowledgeStores(ctx context.Context) ([]string, error) {
	var resp assistantResponse
	if err := c.call(ctx, "fetch assistant", "GET", "/assistants/"+url.PathEscape(c.assistantID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.ToolResources.FileSearch.VectorStoreIDs, nil
}

// OpenSession fetches the assistant's knowledge stores and creates a conversation scoped to
// exactly those stores.
func (c *Client) OpenSession(ctx context.Context) (models.ConversationSession, error) {
	stores, err := c.KnowledgeStores(ctx)
	if err != nil {
		return models.ConversationSession{}, err
	}
	if stores == nil {
		stores = []string{}
	}

	var resp idResponse
	body := threadRequest{ToolResources: toolResources{FileSearch: fileSearch{VectorStoreIDs: stores}}}
	if err := c.call(ctx, "create thread", "POST", "/threads", body, &resp); err != nil {
		return models.ConversationSession{}, err
	}
	if resp.ID == "" {
		return models.ConversationSession{}, apperrors.NewUpstreamError("create thread", "200 OK", "response has no thread id")
	}
	return models.ConversationSession{
		SessionID:         resp.ID,
		AssistantID:       c.assistantID,
		KnowledgeStoreIDs: stores,
	}, nil
}

// PostMessage adds one user message to the session.
func (c *Client) PostMessage(ctx context.Context, session models.ConversationSession, content string) error {
	return c.call(ctx, "add message", "POST", threadPath(session.SessionID, "messages"), messageRequest{Role: "user", Content: content}, nil)
}

// StartRun asks the assistant to process the session.
func (c *Client) StartRun(ctx context.Context, session models.ConversationSession) (models.RunExecution, error) {
	var resp runResponse
	if err := c.call(ctx, "start run", "POST", threadPath(session.SessionID, "runs"), runRequest{AssistantID: c.assistantID}, &resp); err != nil {
		return models.RunExecution{}, err
	}
	if resp.ID == "" {
		return models.RunExecution{}, apperrors.NewUpstreamError("start run", "200 OK", "response has no run id")
	}
	return toRun(session.SessionID, resp), nil
}

// GetRun implements RunPoller.
func (c *Client) GetRun(ctx context.Context, sessionID, runID string) (models.RunExecution, error) {
	var resp runResponse
	if err := c.call(ctx, "check run status", "GET", threadPath(sessionID, "runs/"+url.PathEscape(runID)), nil, &resp); err != nil {
		return models.RunExecution{}, err
	}
	if resp.ID == "" {
		resp.ID = runID
	}
	return toRun(sessionID, resp), nil
}

// LatestReply returns the text of the newest assistant message, unmodified.
func (c *Client) LatestReply(ctx context.Context, session models.ConversationSession) (string, error) {
	var resp messageList
	if err := c.call(ctx, "get messages", "GET", threadPath(session.SessionID, "messages"), nil, &resp); err != nil {
		return "", err
	}
	// The list is newest first.
	for _, msg := range resp.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text != nil {
				return part.Text.Value, nil
			}
		}
	}
	return "", apperrors.NewUpstreamError("get messages", "200 OK", "no assistant text message in thread")
}

func threadPath(sessionID, suffix string) string {
	return "/threads/" + url.PathEscape(sessionID) + "/" + suffix
}

func toRun(sessionID string, resp runResponse) models.RunExecution {
	run := models.RunExecution{
		RunID:     resp.ID,
		SessionID: sessionID,
		Status:    models.RunStatus(resp.Status),
	}
	if resp.LastError != nil {
		run.LastErrorMessage = resp.LastError.Message
	}
	return run
}

// call performs one API request and maps failures onto the error taxonomy.
func (c *Client) call(ctx context.Context, operation, method, path string, body, out interface{}) error {
	err := c.api.DoJSON(ctx, method, path, body, out)
	if err == nil {
		metrics.AssistantRequests.WithLabelValues(operation, "ok").Inc()
		return nil
	}
	metrics.AssistantRequests.WithLabelValues(operation, "error").Inc()

	var statusErr *commonhttp.StatusError
	if stderrors.As(err, &statusErr) {
		return apperrors.NewUpstreamError(operation, statusErr.Status, statusErr.Body)
	}
	var decodeErr *commonhttp.DecodeError
	if stderrors.As(err, &decodeErr) {
		return apperrors.NewUpstreamError(operation, "invalid response", decodeErr.Err.Error())
	}
	return contextError(operation, err)
}

// contextError classifies transport failures; an expired deadline reads as a timeout.
func contextError(operation string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		timeout := apperrors.NewTimedOutError("", 0)
		timeout.Details = fmt.Sprintf("%s: %v", operation, err)
		timeout.Cause = err
		return timeout
	}
	return apperrors.NewTransportError(operation, err)
}
