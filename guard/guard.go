// Package guard implements optimistic-lock conflict detection for
// principal mutations. Callers present the version they last read; the
// guard applies the mutation only if that version is still current, and
// surfaces a conflict carrying the fresh state otherwise.
package guard

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	interrors "github.com/trustcore/trustcore/internal/errors"
	"github.com/trustcore/trustcore/principal"
)

// ConflictError reports a stale-version mutation attempt. Current holds
// the record as it exists now so the caller can re-render and retry.
type ConflictError struct {
	ExpectedVersion int64
	Current         *principal.Principal
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, current %d", e.ExpectedVersion, e.Current.Version)
}

// Unwrap allows errors.Is(err, interrors.ErrVersionConflict).
func (e *ConflictError) Unwrap() error {
	return interrors.ErrVersionConflict
}

// Mutator applies in-place changes to a principal copy. Returning an
// error aborts the update without writing.
type Mutator func(p *principal.Principal) error

// Guard performs check-and-apply updates over a principal repository.
type Guard struct {
	principals principal.Repo
}

// New initializes a Guard.
func New(principals principal.Repo) (*Guard, error) {
	if principals == nil {
		return nil, errors.New("[guard.New] principal repository is required")
	}
	return &Guard{principals: principals}, nil
}

// CheckAndApply loads the principal, verifies the caller's version is
// still current, applies the mutation and writes it back atomically with
// a version bump. A concurrent writer racing between the load and the
// write is caught by the conditional store update, so the conflict check
// and the write never separate.
func (g *Guard) CheckAndApply(ctx context.Context, id string, clientVersion int64, mutate Mutator) (*principal.Principal, error) {
	current, err := g.principals.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "[Guard.CheckAndApply]")
	}
	if current.Version != clientVersion {
		return nil, &ConflictError{ExpectedVersion: clientVersion, Current: current}
	}

	updated := current.Clone()
	if err := mutate(updated); err != nil {
		return nil, errors.Wrap(err, "[Guard.CheckAndApply] mutation rejected")
	}
	updated.ID = current.ID
	updated.Version = current.Version

	saved, err := g.principals.UpdateIfVersion(ctx, updated, clientVersion)
	if err == nil {
		return saved, nil
	}
	if errors.Is(err, interrors.ErrVersionConflict) {
		fresh, getErr := g.principals.GetByID(ctx, id)
		if getErr != nil {
			return nil, errors.Wrap(getErr, "[Guard.CheckAndApply] reload after conflict")
		}
		return nil, &ConflictError{ExpectedVersion: clientVersion, Current: fresh}
	}
	return nil, errors.Wrap(err, "[Guard.CheckAndApply]")
}
