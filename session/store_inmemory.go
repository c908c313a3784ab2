package session

import (
	"context"
	"sync"
	"time"

	interrors "github.com/trustcore/trustcore/internal/errors"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is an in-memory implementation of Store. A single mutex
// serializes writes, which gives TouchIfFresh its check-then-act atomicity.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session            // token -> session
	byPrincipal map[string]map[string]struct{} // principal ID -> token set
}

// NewInMemoryStore creates a new in-memory session store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:    make(map[string]*Session),
		byPrincipal: make(map[string]map[string]struct{}),
	}
}

// Insert persists a new session, rejecting token collisions.
func (st *InMemoryStore) Insert(_ context.Context, s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[s.Token]; ok {
		return interrors.ErrTokenExists
	}

	cp := *s
	st.sessions[s.Token] = &cp
	if _, ok := st.byPrincipal[s.PrincipalID]; !ok {
		st.byPrincipal[s.PrincipalID] = make(map[string]struct{})
	}
	st.byPrincipal[s.PrincipalID][s.Token] = struct{}{}
	return nil
}

// TouchIfFresh renews a fresh session or reaps a stale one under the same
// lock acquisition, so a swept session can never be validated afterwards.
func (st *InMemoryStore) TouchIfFresh(_ context.Context, token string, now, cutoff time.Time) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[token]
	if !ok {
		return nil, interrors.ErrSessionNotFound
	}
	if !s.LastActivityAt.After(cutoff) {
		st.removeLocked(s)
		return nil, interrors.ErrSessionExpired
	}

	s.LastActivityAt = now
	cp := *s
	return &cp, nil
}

// UpdateClaims rewrites the cached principal snapshot.
func (st *InMemoryStore) UpdateClaims(_ context.Context, token string, claims Claims) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[token]; ok {
		s.Claims = claims
	}
	return nil
}

// Delete removes a session unconditionally (idempotent).
func (st *InMemoryStore) Delete(_ context.Context, token string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[token]; ok {
		st.removeLocked(s)
	}
	return nil
}

// DeleteByPrincipal removes every session owned by the principal.
func (st *InMemoryStore) DeleteByPrincipal(_ context.Context, principalID string) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	tokens, ok := st.byPrincipal[principalID]
	if !ok {
		return 0, nil
	}
	count := int64(len(tokens))
	for token := range tokens {
		delete(st.sessions, token)
	}
	delete(st.byPrincipal, principalID)
	return count, nil
}

// DeleteStale collects stale tokens under a read lock, then deletes them
// under the write lock with the staleness re-checked, so the sweep never
// holds the write lock across the full scan and never double-frees a row
// that a concurrent TouchIfFresh renewed in between.
func (st *InMemoryStore) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	st.mu.RLock()
	stale := make([]string, 0)
	for token, s := range st.sessions {
		if !s.LastActivityAt.After(cutoff) {
			stale = append(stale, token)
		}
	}
	st.mu.RUnlock()

	var count int64
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, token := range stale {
		s, ok := st.sessions[token]
		if !ok || s.LastActivityAt.After(cutoff) {
			continue
		}
		st.removeLocked(s)
		count++
	}
	return count, nil
}

// Len reports the number of stored sessions (testing convenience).
func (st *InMemoryStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *InMemoryStore) removeLocked(s *Session) {
	delete(st.sessions, s.Token)
	if tokens, ok := st.byPrincipal[s.PrincipalID]; ok {
		delete(tokens, s.Token)
		if len(tokens) == 0 {
			delete(st.byPrincipal, s.PrincipalID)
		}
	}
}
