package csrf

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	interrors "github.com/trustcore/trustcore/internal/errors"
)

// InMemoryTokenStore is a mutex-guarded TokenStore for single-process
// deployments and tests.
type InMemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewInMemoryTokenStore initializes an empty InMemoryTokenStore.
func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[string]string)}
}

// Put stores the anti-forgery token for the session.
func (s *InMemoryTokenStore) Put(_ context.Context, sessionToken, csrfToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[sessionToken] = csrfToken
	return nil
}

// Get returns the token bound to the session.
func (s *InMemoryTokenStore) Get(_ context.Context, sessionToken string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[sessionToken]
	if !ok {
		return "", errors.Wrap(interrors.ErrNotFound, "[InMemoryTokenStore.Get]")
	}
	return token, nil
}

// Delete removes the binding for the session.
func (s *InMemoryTokenStore) Delete(_ context.Context, sessionToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, sessionToken)
	return nil
}
