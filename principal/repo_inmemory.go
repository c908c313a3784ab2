package principal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	interrors "github.com/trustcore/trustcore/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is an in-memory implementation of Repo. The single mutex
// serializes all writes, which gives UpdateIfVersion its atomicity.
type InMemoryRepo struct {
	mu         sync.RWMutex
	principals map[string]*Principal
	loginIDs   map[string]string // normalized login -> principal ID
	nowTime    func() time.Time
}

// NewInMemoryRepo creates a new in-memory principal repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		principals: make(map[string]*Principal),
		loginIDs:   make(map[string]string),
		nowTime:    time.Now,
	}
}

// WithNowTime overrides the clock (primarily for testing)
func (r *InMemoryRepo) WithNowTime(nowFunc func() time.Time) *InMemoryRepo {
	r.nowTime = nowFunc
	return r
}

// Create inserts a new principal, assigning an ID and version 1.
func (r *InMemoryRepo) Create(_ context.Context, p *Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	login := NormalizeLogin(p.Login)
	if _, ok := r.loginIDs[login]; ok {
		return interrors.ErrLoginTaken
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := r.nowTime()
	p.Login = login
	p.Roles = NormalizeRoles(p.Roles)
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	r.principals[p.ID] = p.Clone()
	r.loginIDs[login] = p.ID
	return nil
}

// GetByID retrieves a principal by ID
func (r *InMemoryRepo) GetByID(_ context.Context, id string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.principals[id]
	if !ok {
		return nil, interrors.ErrPrincipalNotFound
	}
	return p.Clone(), nil
}

// GetByLogin retrieves a principal by normalized login
func (r *InMemoryRepo) GetByLogin(_ context.Context, login string) (*Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.loginIDs[NormalizeLogin(login)]
	if !ok {
		return nil, interrors.ErrPrincipalNotFound
	}
	return r.principals[id].Clone(), nil
}

// UpdateIfVersion applies the mutation under the repo lock, so the version
// compare and the write cannot interleave with another writer.
func (r *InMemoryRepo) UpdateIfVersion(_ context.Context, p *Principal, expectedVersion int64) (*Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.principals[p.ID]
	if !ok {
		return nil, interrors.ErrPrincipalNotFound
	}
	if current.Version != expectedVersion {
		return nil, interrors.ErrVersionConflict
	}

	newLogin := NormalizeLogin(p.Login)
	if newLogin != current.Login {
		if _, taken := r.loginIDs[newLogin]; taken {
			return nil, interrors.ErrLoginTaken
		}
		delete(r.loginIDs, current.Login)
		r.loginIDs[newLogin] = p.ID
	}

	updated := p.Clone()
	updated.Login = newLogin
	updated.Roles = NormalizeRoles(updated.Roles)
	updated.Version = expectedVersion + 1
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = r.nowTime()

	r.principals[p.ID] = updated
	return updated.Clone(), nil
}

// Delete removes a principal row irreversibly
func (r *InMemoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[id]
	if !ok {
		return interrors.ErrPrincipalNotFound
	}
	delete(r.loginIDs, p.Login)
	delete(r.principals, id)
	return nil
}
