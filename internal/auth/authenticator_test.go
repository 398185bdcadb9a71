package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nao1215/topicdigest/internal/credential"
	"github.com/nao1215/topicdigest/pkg/middleware"
)

const testSecret = "test-secret"

// fakeClock はテスト用に進められる時計。
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestAuthenticator(t *testing.T, users map[string]string) (*Authenticator, *credential.Store, *fakeClock) {
	t.Helper()

	store, err := credential.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for username, password := range users {
		hash, err := HashPassword(password)
		require.NoError(t, err)
		require.NoError(t, store.Create(context.Background(), credential.Credential{Username: username, PasswordHash: hash}))
	}

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	a, err := New(store, testSecret, 0, WithClock(clock.Now))
	require.NoError(t, err)
	return a, store, clock
}

func TestNew_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "", time.Hour)
	require.Error(t, err)
}

func TestAuthenticator_LoginThenVerify(t *testing.T) {
	users := map[string]string{"alice": "wonderland", "bob": "builder"}
	a, _, clock := newTestAuthenticator(t, users)
	ctx := context.Background()

	for username, password := range users {
		token, err := a.Login(ctx, username, password)
		require.NoError(t, err)
		assert.Equal(t, username, token.Subject)
		assert.Equal(t, clock.now, token.IssuedAt)
		assert.Equal(t, clock.now.Add(DefaultTokenTTL), token.ExpiresAt)

		got, err := a.Verify(ctx, token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, username, got)
	}
}

func TestAuthenticator_LoginInvalidCredentials(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, map[string]string{"alice": "wonderland"})
	ctx := context.Background()

	_, err := a.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Login(ctx, "mallory", "wonderland")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticator_VerifyExpired(t *testing.T) {
	a, _, clock := newTestAuthenticator(t, map[string]string{"alice": "wonderland"})
	ctx := context.Background()

	token, err := a.Login(ctx, "alice", "wonderland")
	require.NoError(t, err)

	clock.now = token.ExpiresAt.Add(-time.Second)
	_, err = a.Verify(ctx, token.AccessToken)
	require.NoError(t, err)

	clock.now = token.ExpiresAt
	_, err = a.Verify(ctx, token.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	clock.now = token.ExpiresAt.Add(time.Hour)
	_, err = a.Verify(ctx, token.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_VerifyRejectsForeignSignature(t *testing.T) {
	a, _, clock := newTestAuthenticator(t, map[string]string{"alice": "wonderland"})

	forged, err := middleware.GenerateJWT("another-secret", "alice", clock.now, time.Hour)
	require.NoError(t, err)

	_, err = a.Verify(context.Background(), forged)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_VerifyUnknownSubject(t *testing.T) {
	a, _, clock := newTestAuthenticator(t, map[string]string{"alice": "wonderland"})

	token, err := middleware.GenerateJWT(testSecret, "ghost", clock.now, time.Hour)
	require.NoError(t, err)

	_, err = a.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

// failingStore は常にエラーを返すCredentialStore。
type failingStore struct{}

func (failingStore) Get(context.Context, string) (credential.Credential, error) {
	return credential.Credential{}, errors.New("connection refused")
}

func (failingStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) UpdatePassword(context.Context, string, string) error {
	return errors.New("connection refused")
}

func TestAuthenticator_StoreFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a, err := New(failingStore{}, testSecret, time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = a.Login(context.Background(), "alice", "wonderland")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	token, err := middleware.GenerateJWT(testSecret, "alice", now, time.Hour)
	require.NoError(t, err)
	_, err = a.Verify(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_ChangePassword(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("変更後は新しいパスワードでのみログインできること", func(t *testing.T) {
		t.Parallel()

		a, _, _ := newTestAuthenticator(t, map[string]string{"alice": "wonderland"})

		require.NoError(t, a.ChangePassword(ctx, "alice", "wonderland", "looking-glass"))

		_, err := a.Login(ctx, "alice", "wonderland")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		token, err := a.Login(ctx, "alice", "looking-glass")
		require.NoError(t, err)
		assert.Equal(t, "alice", token.Subject)
	})

	t.Run("現在のパスワードが誤っている場合は変更されないこと", func(t *testing.T) {
		t.Parallel()

		a, store, _ := newTestAuthenticator(t, map[string]string{"alice": "wonderland"})
		before, err := store.Get(ctx, "alice")
		require.NoError(t, err)

		err = a.ChangePassword(ctx, "alice", "wrong", "looking-glass")
		require.ErrorIs(t, err, ErrInvalidCredentials)

		after, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, before.PasswordHash, after.PasswordHash)
	})

	t.Run("短すぎるパスワードは拒否されること", func(t *testing.T) {
		t.Parallel()

		a, _, _ := newTestAuthenticator(t, map[string]string{"alice": "wonderland"})

		err := a.ChangePassword(ctx, "alice", "wonderland", "abcd")
		require.ErrorIs(t, err, ErrPasswordTooShort)
	})

	t.Run("存在しないユーザーはErrInvalidCredentialsになること", func(t *testing.T) {
		t.Parallel()

		a, _, _ := newTestAuthenticator(t, nil)

		err := a.ChangePassword(ctx, "ghost", "whatever", "looking-glass")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("ストアの障害はErrInvalidCredentials以外のエラーになること", func(t *testing.T) {
		t.Parallel()

		a, err := New(failingStore{}, testSecret, time.Hour)
		require.NoError(t, err)

		err = a.ChangePassword(ctx, "alice", "wonderland", "looking-glass")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})
}
