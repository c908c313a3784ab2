package principal

import "context"

// Repo defines the interface for principal storage operations.
//
// Implementations must serialize writes to a given row. UpdateIfVersion is
// the compare-and-swap primitive the concurrency guard builds on: the
// version check and the field write happen as one atomic operation, never
// as a separate check followed by a write.
type Repo interface {
	// Create inserts a new principal with version 1. The caller supplies
	// the ID; not every backend can mint one. Fails with ErrLoginTaken
	// when the normalized login is already registered.
	Create(ctx context.Context, p *Principal) error

	// GetByID retrieves a principal by ID
	GetByID(ctx context.Context, id string) (*Principal, error)

	// GetByLogin retrieves a principal by its normalized login identifier
	GetByLogin(ctx context.Context, login string) (*Principal, error)

	// UpdateIfVersion writes the principal's mutable fields if and only if
	// the stored version still equals expectedVersion, advancing the
	// version as part of the same atomic write. Returns ErrVersionConflict
	// when the stored version has moved on.
	UpdateIfVersion(ctx context.Context, p *Principal, expectedVersion int64) (*Principal, error)

	// Delete removes the principal row irreversibly. Deleting a missing
	// principal returns ErrPrincipalNotFound.
	Delete(ctx context.Context, id string) error
}
