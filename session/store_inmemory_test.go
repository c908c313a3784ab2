package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	interrors "github.com/trustcore/trustcore/internal/errors"
	"github.com/trustcore/trustcore/session"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func insertSession(t *testing.T, store session.Store, token string, lastActivity time.Time) *session.Session {
	t.Helper()
	s := &session.Session{
		Token:          token,
		PrincipalID:    "p-1",
		CreatedAt:      lastActivity,
		LastActivityAt: lastActivity,
		Claims:         session.Claims{PrincipalID: "p-1", Login: "alice"},
	}
	require.NoError(t, store.Insert(context.Background(), s))
	return s
}

func TestInsertRejectsDuplicateToken(t *testing.T) {
	store := session.NewInMemoryStore()
	insertSession(t, store, "tok-1", baseTime)

	err := store.Insert(context.Background(), &session.Session{Token: "tok-1", PrincipalID: "p-2"})
	require.ErrorIs(t, err, interrors.ErrTokenExists)
}

func TestTouchIfFreshRenews(t *testing.T) {
	store := session.NewInMemoryStore()
	insertSession(t, store, "tok-1", baseTime)

	now := baseTime.Add(5 * time.Minute)
	s, err := store.TouchIfFresh(context.Background(), "tok-1", now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, now, s.LastActivityAt)
	require.Equal(t, baseTime, s.CreatedAt)
}

func TestTouchIfFreshReapsExpired(t *testing.T) {
	store := session.NewInMemoryStore()
	insertSession(t, store, "tok-1", baseTime)

	now := baseTime.Add(11 * time.Minute)
	_, err := store.TouchIfFresh(context.Background(), "tok-1", now, now.Add(-10*time.Minute))
	require.ErrorIs(t, err, interrors.ErrSessionExpired)

	// The expired row is gone, not just rejected.
	_, err = store.TouchIfFresh(context.Background(), "tok-1", now, now.Add(-10*time.Minute))
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)
	require.Equal(t, 0, store.Len())
}

func TestTouchIfFreshExactCutoffExpires(t *testing.T) {
	store := session.NewInMemoryStore()
	insertSession(t, store, "tok-1", baseTime)

	// lastActivity == cutoff counts as expired, not fresh.
	now := baseTime.Add(10 * time.Minute)
	_, err := store.TouchIfFresh(context.Background(), "tok-1", now, baseTime)
	require.ErrorIs(t, err, interrors.ErrSessionExpired)
}

func TestTouchIfFreshUnknownToken(t *testing.T) {
	store := session.NewInMemoryStore()
	_, err := store.TouchIfFresh(context.Background(), "nope", baseTime, baseTime.Add(-time.Minute))
	require.ErrorIs(t, err, interrors.ErrSessionNotFound)
}

func TestUpdateClaims(t *testing.T) {
	store := session.NewInMemoryStore()
	insertSession(t, store, "tok-1", baseTime)

	require.NoError(t, store.UpdateClaims(context.Background(), "tok-1", session.Claims{PrincipalID: "p-1", Login: "renamed"}))

	s, err := store.TouchIfFresh(context.Background(), "tok-1", baseTime.Add(time.Second), baseTime.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, "renamed", s.Claims.Login)

	// Missing rows are quietly skipped.
	require.NoError(t, store.UpdateClaims(context.Background(), "gone", session.Claims{}))
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := session.NewInMemoryStore()
	insertSession(t, store, "tok-1", baseTime)

	require.NoError(t, store.Delete(context.Background(), "tok-1"))
	require.NoError(t, store.Delete(context.Background(), "tok-1"))
	require.Equal(t, 0, store.Len())
}

func TestDeleteByPrincipal(t *testing.T) {
	store := session.NewInMemoryStore()
	ctx := context.Background()

	insertSession(t, store, "tok-1", baseTime)
	insertSession(t, store, "tok-2", baseTime)
	require.NoError(t, store.Insert(ctx, &session.Session{Token: "tok-3", PrincipalID: "p-other", LastActivityAt: baseTime}))

	count, err := store.DeleteByPrincipal(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Equal(t, 1, store.Len())

	count, err = store.DeleteByPrincipal(ctx, "p-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDeleteStale(t *testing.T) {
	store := session.NewInMemoryStore()
	ctx := context.Background()

	insertSession(t, store, "old-1", baseTime.Add(-20*time.Minute))
	insertSession(t, store, "old-2", baseTime.Add(-15*time.Minute))
	insertSession(t, store, "fresh", baseTime)

	count, err := store.DeleteStale(ctx, baseTime.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Equal(t, 1, store.Len())

	_, err = store.TouchIfFresh(ctx, "fresh", baseTime.Add(time.Second), baseTime.Add(-time.Minute))
	require.NoError(t, err)
}

type sweepOutcome struct {
	count int64
	err   error
}

type touchOutcome struct {
	token string
	err   error
}

func insertRaceSessions(t *testing.T, store session.Store, count int) []string {
	t.Helper()
	tokens := make([]string, count)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%d", i)
		insertSession(t, store, tokens[i], baseTime)
	}
	return tokens
}

func TestTouchIfFreshSweepRaceReapsOnce(t *testing.T) {
	store := session.NewInMemoryStore()
	ctx := context.Background()
	tokens := insertRaceSessions(t, store, 64)

	// Every row sits exactly at the cutoff, so each one must be reaped
	// exactly once: by a sweeper, or by the touch that finds it stale.
	cutoff := baseTime
	now := baseTime.Add(10 * time.Minute)

	var wg sync.WaitGroup
	sweeps := make(chan sweepOutcome, 4)
	touches := make(chan touchOutcome, len(tokens))
	for i := 0; i < cap(sweeps); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.DeleteStale(ctx, cutoff)
			sweeps <- sweepOutcome{count: n, err: err}
		}()
	}
	for _, token := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TouchIfFresh(ctx, token, now, cutoff)
			touches <- touchOutcome{token: token, err: err}
		}()
	}
	wg.Wait()
	close(sweeps)
	close(touches)

	var reapedByTouch int64
	for res := range touches {
		require.Error(t, res.err, "stale session %s validated during sweep", res.token)
		if errors.Is(res.err, interrors.ErrSessionExpired) {
			reapedByTouch++
		} else {
			require.ErrorIs(t, res.err, interrors.ErrSessionNotFound)
		}
	}
	var reapedBySweep int64
	for res := range sweeps {
		require.NoError(t, res.err)
		reapedBySweep += res.count
	}
	require.Equal(t, int64(len(tokens)), reapedByTouch+reapedBySweep)
	require.Zero(t, store.Len())
}

func TestDeleteStaleSkipsConcurrentlyRenewed(t *testing.T) {
	store := session.NewInMemoryStore()
	ctx := context.Background()
	tokens := insertRaceSessions(t, store, 64)

	// Touchers see the rows as fresh while sweepers see them as stale. A
	// row either renews and survives every sweep, or is swept first and
	// never validates again.
	now := baseTime.Add(5 * time.Minute)
	touchCutoff := baseTime.Add(-time.Second)
	sweepCutoff := baseTime

	var wg sync.WaitGroup
	sweeps := make(chan sweepOutcome, 4)
	touches := make(chan touchOutcome, len(tokens))
	for i := 0; i < cap(sweeps); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.DeleteStale(ctx, sweepCutoff)
			sweeps <- sweepOutcome{count: n, err: err}
		}()
	}
	for _, token := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TouchIfFresh(ctx, token, now, touchCutoff)
			touches <- touchOutcome{token: token, err: err}
		}()
	}
	wg.Wait()
	close(sweeps)
	close(touches)

	var renewed []string
	for res := range touches {
		if res.err == nil {
			renewed = append(renewed, res.token)
			continue
		}
		require.ErrorIs(t, res.err, interrors.ErrSessionNotFound)
	}
	var reapedBySweep int64
	for res := range sweeps {
		require.NoError(t, res.err)
		reapedBySweep += res.count
	}
	require.Equal(t, int64(len(tokens)), int64(len(renewed))+reapedBySweep)
	require.Equal(t, len(renewed), store.Len())

	// Renewed rows outlived the sweep and still validate.
	for _, token := range renewed {
		_, err := store.TouchIfFresh(ctx, token, now.Add(time.Second), sweepCutoff)
		require.NoError(t, err, "renewed session %s was swept", token)
	}
}
