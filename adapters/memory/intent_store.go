package memory

import (
	"context"
	"sync"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

// IntentStore keeps the last voice intent per user in process memory
type IntentStore struct {
	mu      sync.RWMutex
	results map[string]entities.VoiceIntentResult
}

// NewIntentStore creates an empty intent store
func NewIntentStore() *IntentStore {
	return &IntentStore{results: make(map[string]entities.VoiceIntentResult)}
}

// Save implements repositories.IntentStore
func (s *IntentStore) Save(ctx context.Context, userID string, result entities.VoiceIntentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[userID] = result
	return nil
}

// Last implements repositories.IntentStore
func (s *IntentStore) Last(ctx context.Context, userID string) (*entities.VoiceIntentResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &result, nil
}

// Clear implements repositories.IntentStore
func (s *IntentStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, userID)
	return nil
}
