// Package camunda connects the form-fill workers to a Zeebe gateway.
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/Daily-Wins/dw-chromegpt/internal/common/errors"
)

// Client wraps the Zeebe gRPC client with a connection check and retry logic.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

// ClientConfig holds configuration for the Zeebe client.
type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RequestTimeout         time.Duration
	RetryConfig            *RetryConfig
}

// RetryConfig defines retry behavior for transient failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = &RetryConfig{
	MaxRetries: 3,
	BaseDelay:  1 * time.Second,
	MaxDelay:   10 * time.Second,
}

// NewClient creates a plaintext client with default timeouts, e.g. for local development.
func NewClient(address string) (*Client, error) {
	return NewClientWithConfig(&ClientConfig{
		GatewayAddress:         address,
		UsePlaintextConnection: true,
		ConnectionTimeout:      10 * time.Second,
		RequestTimeout:         30 * time.Second,
		RetryConfig:            DefaultRetryConfig,
	})
}

// NewClientWithConfig dials the gateway and verifies it answers a topology request.
func NewClientWithConfig(config *ClientConfig) (*Client, error) {
	if config.GatewayAddress == "" {
		return nil, fmt.Errorf("zeebe gateway address is empty")
	}
	if config.RetryConfig == nil {
		config.RetryConfig = DefaultRetryConfig
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = 10 * time.Second
	}

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         config.GatewayAddress,
		UsePlaintextConnection: config.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectionTimeout)
	defer cancel()

	if _, err := zeebeClient.NewTopologyCommand().Send(ctx); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", config.GatewayAddress, err)
	}

	return &Client{
		client: zeebeClient,
		config: config,
	}, nil
}

// GetClient returns the raw Zeebe client, e.g. to open job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ExecuteWithRetry runs a Zeebe command with the client's retry policy.
func (c *Client) ExecuteWithRetry(ctx context.Context, operationName string, commandFunc func(context.Context) error) error {
	return c.config.RetryConfig.Do(ctx, operationName, commandFunc)
}

// Do runs fn until it succeeds, fails with a non-transient error or runs out of retries.
// The delay doubles after every attempt up to MaxDelay.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(context.Context) error) error {
	if r == nil {
		r = DefaultRetryConfig
	}
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryableZeebeError(err) || attempt >= r.MaxRetries {
			return mapZeebeError(err, operationName, attempt)
		}

		delay := r.BaseDelay * time.Duration(1<<attempt)
		if delay > r.MaxDelay {
			delay = r.MaxDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return apperrors.NewTransportError(operationName, fmt.Errorf("cancelled after %d attempts: %w", attempt+1, ctx.Err()))
		}
	}
}

// isRetryableZeebeError reports whether a gateway call may succeed on a later attempt.
// gRPC statuses are classified by code; anything else by its message.
func isRetryableZeebeError(err error) bool {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		default:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, transient := range transientMessages {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

var transientMessages = []string{
	"code = unavailable",
	"code = deadlineexceeded",
	"code = resourceexhausted",
	"connection refused",
	"connection reset",
	"deadline exceeded",
	"broken pipe",
	"i/o timeout",
}

// mapZeebeError converts Zeebe errors into the application's error taxonomy.
func mapZeebeError(err error, operation string, attempt int) error {
	op := "zeebe " + operation
	if attempt > 0 {
		op = fmt.Sprintf("%s (after %d retries)", op, attempt)
	}

	e := apperrors.NewTransportError(op, err)
	// NOT_FOUND: the job was already completed, failed or timed out on the broker.
	if isNotFound(err) {
		e.Retryable = false
	}
	return e
}

func isNotFound(err error) bool {
	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.NotFound
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// HealthCheck performs a basic health check against the Zeebe broker.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}
