package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/database"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// RedisPublisher publishes every event as JSON on "<prefix>:<batchId>".
type RedisPublisher struct {
	redis  *database.RedisClient
	prefix string
	logger logger.Logger
}

func NewRedisPublisher(client *database.RedisClient, prefix string, log logger.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "formfill:progress"
	}
	return &RedisPublisher{
		redis:  client,
		prefix: prefix,
		logger: log.WithFields(map[string]interface{}{"component": "progress-redis"}),
	}
}

// Channel returns the pub/sub channel for batchID.
func (p *RedisPublisher) Channel(batchID string) string {
	return fmt.Sprintf("%s:%s", p.prefix, batchID)
}

func (p *RedisPublisher) Report(ctx context.Context, event models.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode progress event", map[string]interface{}{"error": err.Error()})
		return
	}
	// A cancelled batch context must not suppress the final events.
	if _, err := p.redis.Publish(context.WithoutCancel(ctx), p.Channel(event.BatchID), payload); err != nil {
		p.logger.Warn("failed to publish progress event", map[string]interface{}{
			"batchId": event.BatchID,
			"error":   err.Error(),
		})
	}
}

// Subscribe streams the events of batchID until ctx is done. The returned channel is closed
// when the subscription ends.
func (p *RedisPublisher) Subscribe(ctx context.Context, batchID string) (<-chan models.ProgressEvent, error) {
	sub := p.redis.Subscribe(ctx, p.Channel(batchID))
	// Wait for the subscription confirmation so no event published afterwards is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to progress of %s: %w", batchID, err)
	}

	out := make(chan models.ProgressEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event models.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.logger.Warn("dropping malformed progress event", map[string]interface{}{"error": err.Error()})
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
