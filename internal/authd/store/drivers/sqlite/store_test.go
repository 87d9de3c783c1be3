package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvitals/vitalgate/internal/authd/domain"
	"github.com/openvitals/vitalgate/internal/authd/store"
	"github.com/openvitals/vitalgate/pkg/idx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "authd_test.db")
	s, err := NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func newTestUser(t *testing.T, s *Store) domain.User {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	u := domain.User{
		ID:           idx.New().String(),
		Email:        idx.New().String() + "@example.com",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func TestUsersRepo(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s)

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)
	require.Equal(t, u.PasswordHash, got.PasswordHash)

	got, err = s.Users().GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = s.Users().GetUserByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Duplicate email is a conflict.
	dup := u
	dup.ID = idx.New().String()
	err = s.Users().CreateUser(ctx, dup)
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestSessionsRepoLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	now := time.Now().UTC().Truncate(time.Second)
	sess := domain.Session{
		ID:               idx.New().String(),
		UserID:           u.ID,
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		RefreshTokenHash: "hash-1",
		RememberMe:       true,
		ExpiresAt:        now.Add(time.Hour),
		UserAgent:        "test-agent",
		IPAddress:        "127.0.0.1",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.Sessions().CreateSession(ctx, sess))

	got, err := s.Sessions().GetSessionByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
	require.Equal(t, "refresh-1", got.RefreshToken)
	require.Empty(t, got.PrevRefreshTokenHash)
	require.Nil(t, got.PrevRefreshExpiresAt)
	require.True(t, got.RememberMe)

	// Rotate: new tokens become current, old hash moves to prev.
	grace := now.Add(20 * time.Second)
	got.AccessToken = "access-2"
	got.RefreshToken = "refresh-2"
	got.RefreshTokenHash = "hash-2"
	got.PrevRefreshTokenHash = "hash-1"
	got.PrevRefreshExpiresAt = &grace
	got.RememberMe = false
	got.ExpiresAt = now.Add(2 * time.Hour)
	got.UpdatedAt = now.Add(time.Second)
	require.NoError(t, s.Sessions().UpdateSession(ctx, got))

	// Lookup by either hash resolves to the same record.
	byCurrent, err := s.Sessions().GetSessionByTokenHash(ctx, "hash-2")
	require.NoError(t, err)
	byPrev, err := s.Sessions().GetSessionByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, byCurrent.ID, byPrev.ID)
	require.Equal(t, "refresh-2", byPrev.RefreshToken)
	require.False(t, byCurrent.RememberMe, "remember_me follows the update")
	require.NotNil(t, byPrev.PrevRefreshExpiresAt)
	require.WithinDuration(t, grace, *byPrev.PrevRefreshExpiresAt, time.Second)

	require.NoError(t, s.Sessions().DeleteSessionByTokenHash(ctx, "hash-2"))
	_, err = s.Sessions().GetSessionByTokenHash(ctx, "hash-2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionsRepoDeleteExpired(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s)

	now := time.Now().UTC()
	expired := domain.Session{
		ID:               idx.New().String(),
		UserID:           u.ID,
		AccessToken:      "a",
		RefreshToken:     "r1",
		RefreshTokenHash: "h1",
		ExpiresAt:        now.Add(-time.Hour),
		CreatedAt:        now.Add(-2 * time.Hour),
		UpdatedAt:        now.Add(-2 * time.Hour),
	}
	live := domain.Session{
		ID:               idx.New().String(),
		UserID:           u.ID,
		AccessToken:      "b",
		RefreshToken:     "r2",
		RefreshTokenHash: "h2",
		ExpiresAt:        now.Add(time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.Sessions().CreateSession(ctx, expired))
	require.NoError(t, s.Sessions().CreateSession(ctx, live))

	require.NoError(t, s.Sessions().DeleteExpiredSessions(ctx))

	_, err := s.Sessions().GetSessionByTokenHash(ctx, "h1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Sessions().GetSessionByTokenHash(ctx, "h2")
	require.NoError(t, err)
}

func TestWithTxRollback(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	boom := require.New(t)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		u := domain.User{
			ID:           idx.New().String(),
			Email:        "tx@example.com",
			FirstName:    "T",
			LastName:     "X",
			PasswordHash: "hash",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Users().CreateUser(ctx, u); err != nil {
			return err
		}
		return context.Canceled // force rollback
	})
	boom.Error(err)

	_, err = s.Users().GetUserByEmail(ctx, "tx@example.com")
	boom.ErrorIs(err, store.ErrNotFound)
}
