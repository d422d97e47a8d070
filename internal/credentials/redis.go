package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/database"
	"github.com/Daily-Wins/dw-chromegpt/internal/common/logger"
)

const (
	fieldAPIKey      = "api_key"
	fieldAssistantID = "assistant_id"
	fieldUpdatedAt   = "updated_at"
)

// RedisStore keeps credentials in one Redis hash so every replica sees updates. Values
// missing from the hash fall back to the optional fallback provider.
type RedisStore struct {
	client   *database.RedisClient
	key      string
	fallback Provider
	ttl      time.Duration
	logger   logger.Logger

	mu       sync.Mutex
	cached   Credentials
	cachedAt time.Time
}

func NewRedisStore(client *database.RedisClient, key string, fallback Provider, cacheTTL time.Duration, log logger.Logger) *RedisStore {
	return &RedisStore{
		client:   client,
		key:      key,
		fallback: fallback,
		ttl:      cacheTTL,
		logger:   log.WithFields(map[string]interface{}{"component": "credentials", "store": "redis"}),
	}
}

func (s *RedisStore) Credentials(ctx context.Context) (Credentials, error) {
	if s.ttl > 0 {
		s.mu.Lock()
		if !s.cachedAt.IsZero() && time.Since(s.cachedAt) < s.ttl {
			c := s.cached
			s.mu.Unlock()
			return c, nil
		}
		s.mu.Unlock()
	}

	values, err := s.client.HGetAll(ctx, s.key)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials from redis: %w", err)
	}
	creds := Credentials{
		APIKey:      values[fieldAPIKey],
		AssistantID: values[fieldAssistantID],
	}

	if s.fallback != nil && (creds.APIKey == "" || creds.AssistantID == "") {
		fb, err := s.fallback.Credentials(ctx)
		if err != nil {
			return Credentials{}, err
		}
		if creds.APIKey == "" {
			creds.APIKey = fb.APIKey
		}
		if creds.AssistantID == "" {
			creds.AssistantID = fb.AssistantID
		}
	}

	if s.ttl > 0 {
		s.mu.Lock()
		s.cached, s.cachedAt = creds, time.Now()
		s.mu.Unlock()
	}
	return creds, nil
}

// Save stores both values. Empty values are rejected so a save can't half-clear the hash.
func (s *RedisStore) Save(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	err := s.client.HSet(ctx, s.key, map[string]string{
		fieldAPIKey:      creds.APIKey,
		fieldAssistantID: creds.AssistantID,
		fieldUpdatedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("save credentials to redis: %w", err)
	}
	s.invalidate()
	s.logger.Info("credentials updated", map[string]interface{}{"assistantId": creds.AssistantID})
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key); err != nil {
		return fmt.Errorf("clear credentials in redis: %w", err)
	}
	s.invalidate()
	s.logger.Info("credentials cleared", nil)
	return nil
}

func (s *RedisStore) invalidate() {
	s.mu.Lock()
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}
