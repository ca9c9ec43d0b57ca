package tokenauth

import (
	"sync"

	"github.com/bitrise-io/go-swiftclient/dispatch"
)

// Store caches tokens by key. Implementations must be safe for concurrent use.
type Store interface {
	Get(key string) (dispatch.Token, bool, error)
	Set(key string, token dispatch.Token) error
	// Delete removes the entry only if it still holds token, so a token
	// refreshed by someone else in the meantime survives.
	Delete(key string, token dispatch.Token) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]dispatch.Token
}

// NewMemoryStore ...
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: map[string]dispatch.Token{}}
}

// Get ...
func (s *MemoryStore) Get(key string) (dispatch.Token, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[key]
	return token, ok, nil
}

// Set ...
func (s *MemoryStore) Set(key string, token dispatch.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = token
	return nil
}

// Delete ...
func (s *MemoryStore) Delete(key string, token dispatch.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.tokens[key]; ok && current.Value == token.Value {
		delete(s.tokens, key)
	}
	return nil
}
