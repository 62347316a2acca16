package memory

import (
	"context"
	"sync"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
)

// APIKeyStore holds the staff API keys loaded from configuration.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*domain.APIKey
}

// NewAPIKeyStore creates a store seeded with keys. Invalid keys are
// rejected so a bad configuration fails at startup.
func NewAPIKeyStore(keys ...*domain.APIKey) (*APIKeyStore, error) {
	s := &APIKeyStore{keys: make(map[string]*domain.APIKey, len(keys))}
	for _, k := range keys {
		if k.RateLimit == 0 {
			k.RateLimit = domain.DefaultKeyRateLimit
		}
		if k.Status == "" {
			k.Status = domain.KeyStatusActive
		}
		if err := k.Validate(); err != nil {
			return nil, err
		}
		s.keys[k.KeyID] = k.Clone()
	}
	return s, nil
}

// Get retrieves an API key by ID.
func (s *APIKeyStore) Get(_ context.Context, keyID string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[keyID]
	if !ok {
		return nil, domain.ErrAPIKeyInvalid
	}
	return key.Clone(), nil
}

// Touch records the last use of a key.
func (s *APIKeyStore) Touch(_ context.Context, keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok {
		return domain.ErrAPIKeyInvalid
	}
	key.LastUsed = at.UnixMilli()
	return nil
}
