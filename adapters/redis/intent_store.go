package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

const (
	defaultTTL    = time.Hour
	defaultPrefix = "bidstream"
)

// IntentStore keeps the last voice intent per user in Redis so every server
// instance serving that user sees the same value
type IntentStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ repositories.IntentStore = (*IntentStore)(nil)

// Option configures an IntentStore
type Option func(*IntentStore)

// WithTTL sets how long a stored intent stays readable. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *IntentStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix
func WithPrefix(prefix string) Option {
	return func(s *IntentStore) {
		s.prefix = prefix
	}
}

// NewIntentStore creates a Redis-backed intent store
func NewIntentStore(client *redis.Client, opts ...Option) *IntentStore {
	store := &IntentStore{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *IntentStore) key(userID string) string {
	return fmt.Sprintf("%s:intent:%s", s.prefix, userID)
}

// Save implements repositories.IntentStore
func (s *IntentStore) Save(ctx context.Context, userID string, result entities.VoiceIntentResult) error {
	if userID == "" {
		return errors.New("user id is required")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}

	if err := s.client.Set(ctx, s.key(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Last implements repositories.IntentStore
func (s *IntentStore) Last(ctx context.Context, userID string) (*entities.VoiceIntentResult, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var result entities.VoiceIntentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
	}
	return &result, nil
}

// Clear implements repositories.IntentStore
func (s *IntentStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
