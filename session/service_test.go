package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	interrors "github.com/trustcore/trustcore/internal/errors"
	"github.com/trustcore/trustcore/principal"
	"github.com/trustcore/trustcore/session"
)

// serviceFixture holds the session service and its collaborators, with a
// controllable clock.
type serviceFixture struct {
	store      *session.InMemoryStore
	principals *principal.InMemoryRepo
	service    *session.Service
	now        time.Time
	alice      *principal.Principal
}

func setupServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		store:      session.NewInMemoryStore(),
		principals: principal.NewInMemoryRepo(),
		now:        baseTime,
	}

	svc, err := session.NewService(f.store, f.principals, 10*time.Minute,
		session.WithNowTime(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.service = svc

	f.alice = &principal.Principal{Login: "alice", Roles: []principal.Role{principal.RoleMember}, Active: true}
	require.NoError(t, f.principals.Create(context.Background(), f.alice))
	return f
}

func (f *serviceFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestCreateIssuesUniqueOpaqueTokens(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)
	second, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)

	require.NotEqual(t, first.Token, second.Token)
	require.GreaterOrEqual(t, len(first.Token), 43) // 32 bytes base64url
	require.Equal(t, f.alice.ID, first.PrincipalID)
	require.Equal(t, "alice", first.Claims.Login)
}

func TestCreateRejectsMissingOrInactivePrincipal(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, "no-such-id")
	require.ErrorIs(t, err, interrors.ErrPrincipalNotFound)

	inactive := f.alice.Clone()
	inactive.Active = false
	_, err = f.principals.UpdateIfVersion(ctx, inactive, 1)
	require.NoError(t, err)

	_, err = f.service.Create(ctx, f.alice.ID)
	require.ErrorIs(t, err, interrors.ErrPrincipalNotFound)
}

func TestCreateRetriesTokenCollisions(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	tokens := []string{"dup", "dup", "unique"}
	var calls int
	svc, err := session.NewService(f.store, f.principals, 10*time.Minute,
		session.WithNowTime(func() time.Time { return f.now }),
		session.WithTokenGenerator(func() (string, error) {
			token := tokens[calls]
			calls++
			return token, nil
		}),
	)
	require.NoError(t, err)

	first, err := svc.Create(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Equal(t, "dup", first.Token)

	second, err := svc.Create(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Equal(t, "unique", second.Token)
	require.Equal(t, 3, calls)
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	svc, err := session.NewService(f.store, f.principals, 10*time.Minute,
		session.WithTokenGenerator(func() (string, error) { return "always-the-same", nil }),
	)
	require.NoError(t, err)

	_, err = svc.Create(ctx, f.alice.ID)
	require.NoError(t, err)
	_, err = svc.Create(ctx, f.alice.ID)
	require.Error(t, err)
}

func TestValidateRenewsSlidingWindow(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	sess, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)

	// Touch the session every 9 minutes; it stays alive far beyond the
	// 10 minute TTL because the window slides.
	for i := 0; i < 5; i++ {
		f.advance(9 * time.Minute)
		renewed, p, err := f.service.Validate(ctx, sess.Token)
		require.NoError(t, err)
		require.Equal(t, f.now, renewed.LastActivityAt)
		require.Equal(t, f.alice.ID, p.ID)
	}
}

func TestValidateExpiresIdleSession(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	sess, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)

	f.advance(10*time.Minute + time.Second)
	_, _, err = f.service.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, interrors.ErrSessionExpired)

	// The row was reaped; a replay of the same token is now unknown.
	_, _, err = f.service.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)
}

func TestValidateEmptyAndUnknownToken(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	_, _, err := f.service.Validate(ctx, "")
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)

	_, _, err = f.service.Validate(ctx, "never-issued")
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)
}

func TestValidateMasksInactivePrincipal(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	sess, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)

	inactive := f.alice.Clone()
	inactive.Active = false
	_, err = f.principals.UpdateIfVersion(ctx, inactive, 1)
	require.NoError(t, err)

	_, _, err = f.service.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)
	require.Equal(t, 0, f.store.Len())
}

func TestValidateMasksDeletedPrincipal(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	sess, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)
	require.NoError(t, f.principals.Delete(ctx, f.alice.ID))

	_, _, err = f.service.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)
	require.Equal(t, 0, f.store.Len())
}

func TestValidateRefreshesClaims(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	sess, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", sess.Claims.Login)

	renamed := f.alice.Clone()
	renamed.Login = "alice.cooper"
	_, err = f.principals.UpdateIfVersion(ctx, renamed, 1)
	require.NoError(t, err)

	validated, _, err := f.service.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, "alice.cooper", validated.Claims.Login)
}

func TestRevoke(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	sess, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(ctx, sess.Token))
	_, _, err = f.service.Validate(ctx, sess.Token)
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)

	// Revoking again, or revoking nothing, is quiet.
	require.NoError(t, f.service.Revoke(ctx, sess.Token))
	require.NoError(t, f.service.Revoke(ctx, ""))
}

func TestRevokeAllForPrincipal(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)
	_, err = f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)

	count, err := f.service.RevokeAllForPrincipal(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Equal(t, 0, f.store.Len())
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	f := setupServiceFixture(t)
	ctx := context.Background()

	stale, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)

	f.advance(9 * time.Minute)
	fresh, err := f.service.Create(ctx, f.alice.ID)
	require.NoError(t, err)

	f.advance(2 * time.Minute) // stale is now 11m idle, fresh 2m
	count, err := f.service.Sweep(ctx, f.now)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	_, _, err = f.service.Validate(ctx, stale.Token)
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)
	_, _, err = f.service.Validate(ctx, fresh.Token)
	require.NoError(t, err)
}

func TestExpiresIn(t *testing.T) {
	s := &session.Session{LastActivityAt: baseTime}
	require.Equal(t, 10*time.Minute, s.ExpiresIn(baseTime, 10*time.Minute))
	require.Equal(t, 4*time.Minute, s.ExpiresIn(baseTime.Add(6*time.Minute), 10*time.Minute))
	require.Equal(t, time.Duration(0), s.ExpiresIn(baseTime.Add(11*time.Minute), 10*time.Minute))
}
