package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStore starts a miniredis instance and returns a connected store.
func setupStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := Generate()
		require.NoError(t, err)
		// 32 bytes base64url without padding is 43 characters.
		assert.Len(t, token, 43)
		assert.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
}

func TestDeriveEmailKey(t *testing.T) {
	secret := []byte("s1")

	assert.Equal(t,
		DeriveEmailKey(secret, "Alice@Example.COM "),
		DeriveEmailKey(secret, "alice@example.com"),
		"derivation must be case and whitespace insensitive")

	assert.NotEqual(t,
		DeriveEmailKey(secret, "alice@example.com"),
		DeriveEmailKey([]byte("s2"), "alice@example.com"),
		"different secrets must derive different keys")
}

func TestRepositoryLifecycle(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	repo := NewRepository[ConfirmPayload](store, "confirm", time.Hour)

	token, err := repo.Create(ctx, ConfirmPayload{UserID: 7})
	require.NoError(t, err)

	payload, ok, err := repo.Resolve(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), payload.UserID)

	// Missing token resolves absent without error.
	_, ok, err = repo.Resolve(ctx, "no-such-token")
	require.NoError(t, err)
	assert.False(t, ok)

	// Revoke is idempotent.
	require.NoError(t, repo.Revoke(ctx, token))
	require.NoError(t, repo.Revoke(ctx, token))

	_, ok, err = repo.Resolve(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)

	// Store-enforced TTL expiry.
	token, err = repo.Create(ctx, ConfirmPayload{UserID: 8})
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)
	_, ok, err = repo.Resolve(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryNamespacing(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	sessions := NewRepository[SessionPayload](store, "session", time.Hour)
	confirms := NewRepository[ConfirmPayload](store, "confirm", time.Hour)

	token, err := confirms.Create(ctx, ConfirmPayload{UserID: 1})
	require.NoError(t, err)

	// The same token value under a different namespace must not resolve.
	_, ok, err := sessions.Resolve(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok, "confirmation token must not act as a session token")
}

func TestSessionStore(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	sessions := NewSessionStore(store, time.Hour)

	t.Run("create and resolve", func(t *testing.T) {
		token, err := sessions.Create(ctx, SessionPayload{UserID: 1, UserAgent: "cli"})
		require.NoError(t, err)

		payload, ok, err := sessions.Resolve(ctx, token)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(1), payload.UserID)
		assert.Equal(t, "cli", payload.UserAgent)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		token, err := sessions.Create(ctx, SessionPayload{UserID: 2})
		require.NoError(t, err)

		require.NoError(t, sessions.Revoke(ctx, token))
		require.NoError(t, sessions.Revoke(ctx, token))

		_, ok, err := sessions.Resolve(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("revoke all sessions for user", func(t *testing.T) {
		t1, err := sessions.Create(ctx, SessionPayload{UserID: 3, UserAgent: "laptop"})
		require.NoError(t, err)
		t2, err := sessions.Create(ctx, SessionPayload{UserID: 3, UserAgent: "phone"})
		require.NoError(t, err)
		other, err := sessions.Create(ctx, SessionPayload{UserID: 4})
		require.NoError(t, err)

		require.NoError(t, sessions.RevokeAllForUser(ctx, 3))

		for _, token := range []string{t1, t2} {
			_, ok, err := sessions.Resolve(ctx, token)
			require.NoError(t, err)
			assert.False(t, ok)
		}

		// Another user's session survives.
		_, ok, err := sessions.Resolve(ctx, other)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("touch does not extend TTL", func(t *testing.T) {
		token, err := sessions.Create(ctx, SessionPayload{UserID: 5})
		require.NoError(t, err)

		mr.FastForward(30 * time.Minute)

		now := time.Now()
		require.NoError(t, sessions.Touch(ctx, token, now))

		payload, ok, err := sessions.Resolve(ctx, token)
		require.NoError(t, err)
		require.True(t, ok)
		assert.WithinDuration(t, now, payload.LastSeenAt, time.Second)

		// Half the window remains; another 31 minutes must expire it.
		mr.FastForward(31 * time.Minute)
		_, ok, err = sessions.Resolve(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok, "touch must not refresh the store TTL")
	})

	t.Run("touching a missing token is a no-op", func(t *testing.T) {
		require.NoError(t, sessions.Touch(ctx, "gone", time.Now()))
	})

	t.Run("touch cannot revive a session that expires mid-flight", func(t *testing.T) {
		racing := NewSessionStore(&vanishingStore{Store: store, mr: mr}, time.Hour)
		token, err := racing.Create(ctx, SessionPayload{UserID: 6})
		require.NoError(t, err)

		require.NoError(t, racing.Touch(ctx, token, time.Now()))

		_, ok, err := racing.Resolve(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok, "an expired session must stay gone")
		assert.False(t, mr.Exists(sessionNamespace+":"+token), "the touch write must not recreate the key")
	})
}

// vanishingStore drops the key right before the touch rewrite, standing in
// for a session that expires or is revoked between the read and the write.
type vanishingStore struct {
	Store
	mr *miniredis.Miniredis
}

func (s *vanishingStore) SetKeepTTL(ctx context.Context, key, value string) error {
	s.mr.Del(key)
	return s.Store.SetKeepTTL(ctx, key, value)
}

func TestAttemptLimiter(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	limiter := NewAttemptLimiter(store, ResendAttemptsNamespace, time.Hour, 5)

	for i := 1; i <= 5; i++ {
		count, err := limiter.Increment(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
		assert.True(t, limiter.Allowed(count))
	}

	count, err := limiter.Increment(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, limiter.Allowed(count))

	// The window is fixed-length from the first attempt, not sliding.
	mr.FastForward(61 * time.Minute)
	count, err = limiter.Increment(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.True(t, limiter.Allowed(count))
}

func TestResetStore(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	resets := NewResetStore(store, []byte("secret"), time.Hour, 5)

	t.Run("attempt cap", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			_, allowed, err := resets.IncrementAttempt(ctx, "bob@example.com")
			require.NoError(t, err)
			assert.True(t, allowed, "attempt %d should be allowed", i)
		}

		_, allowed, err := resets.IncrementAttempt(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.False(t, allowed)

		// Counter is per email.
		_, allowed, err = resets.IncrementAttempt(ctx, "carol@example.com")
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("request and token lifecycle", func(t *testing.T) {
		token, err := resets.CreateRequest(ctx, ResetPayload{UserID: 9, Email: "Dave@Example.com"})
		require.NoError(t, err)

		payload, ok, err := resets.ResolveToken(ctx, token)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(9), payload.UserID)
		assert.Equal(t, "dave@example.com", payload.Email)

		require.NoError(t, resets.Consume(ctx, token, payload))

		_, ok, err = resets.ResolveToken(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok, "reset token must be single-use")

		// Consuming again is not an error.
		require.NoError(t, resets.Consume(ctx, token, payload))
	})

	t.Run("token expires with the store", func(t *testing.T) {
		token, err := resets.CreateRequest(ctx, ResetPayload{UserID: 10, Email: "eve@example.com"})
		require.NoError(t, err)

		mr.FastForward(2 * time.Hour)

		_, ok, err := resets.ResolveToken(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
