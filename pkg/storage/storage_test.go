// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/oauth"
)

type backend struct {
	name string
	new  func(t *testing.T) Storage
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			new: func(t *testing.T) Storage {
				t.Helper()
				s := NewMemoryStorage()
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "redis",
			new: func(t *testing.T) Storage {
				t.Helper()
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				s := NewRedisStorageWithClient(client, "test:")
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
}

// forEachBackend runs fn against every backend in parallel subtests.
func forEachBackend(t *testing.T, fn func(t *testing.T, ctx context.Context, s Storage)) {
	t.Helper()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			fn(t, context.Background(), b.new(t))
		})
	}
}

func newToken(access, refresh string) *GrantedToken {
	return &GrantedToken{
		AccessToken:      access,
		RefreshToken:     refresh,
		Scope:            "openid profile",
		ClientID:         "client1",
		TokenType:        TokenTypeBearer,
		ExpiresIn:        3600,
		RefreshExpiresIn: 7200,
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
		IDTokenPayload:   jose.Payload{"sub": "alice", "name": "Alice", "iat": 1},
		UserInfoPayload:  jose.Payload{"sub": "alice"},
	}
}

func TestAddToken_Uniqueness(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.AddToken(ctx, newToken("at1", "rt1")))

		err := s.AddToken(ctx, newToken("at1", "rt2"))
		require.ErrorIs(t, err, ErrAlreadyExists)

		err = s.AddToken(ctx, newToken("at2", "rt1"))
		require.ErrorIs(t, err, ErrAlreadyExists)

		// the first token is retained, the failed adds left nothing behind
		got, err := s.GetAccessToken(ctx, "at1")
		require.NoError(t, err)
		assert.Equal(t, "rt1", got.RefreshToken)

		_, err = s.GetAccessToken(ctx, "at2")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRefreshToken(ctx, "rt2")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetToken(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		older := newToken("at-old", "rt-old")
		older.CreatedAt = older.CreatedAt.Add(-time.Minute)
		require.NoError(t, s.AddToken(ctx, older))
		require.NoError(t, s.AddToken(ctx, newToken("at-new", "rt-new")))

		tests := []struct {
			name     string
			scopes   string
			clientID string
			idToken  jose.Payload
			userInfo jose.Payload
			want     string
		}{
			{
				name: "newest match", scopes: "openid profile", clientID: "client1",
				idToken: jose.Payload{"sub": "alice"}, userInfo: jose.Payload{"sub": "alice"}, want: "at-new",
			},
			{
				name: "scope order is irrelevant", scopes: "profile openid", clientID: "client1",
				idToken: jose.Payload{"sub": "alice"}, userInfo: jose.Payload{"sub": "alice"}, want: "at-new",
			},
			{
				name: "claims compared ignoring case", scopes: "openid profile", clientID: "client1",
				idToken: jose.Payload{"sub": "ALICE", "name": "alice"}, userInfo: jose.Payload{"sub": "alice"}, want: "at-new",
			},
			{
				name: "non standard claims ignored", scopes: "openid profile", clientID: "client1",
				idToken: jose.Payload{"sub": "alice", "nonce": "n-0"}, userInfo: jose.Payload{"sub": "alice"}, want: "at-new",
			},
			{
				name: "other subject", scopes: "openid profile", clientID: "client1",
				idToken: jose.Payload{"sub": "bob"}, userInfo: jose.Payload{"sub": "alice"},
			},
			{
				name: "other client", scopes: "openid profile", clientID: "client2",
				idToken: jose.Payload{"sub": "alice"}, userInfo: jose.Payload{"sub": "alice"},
			},
			{
				name: "other scopes", scopes: "openid", clientID: "client1",
				idToken: jose.Payload{"sub": "alice"}, userInfo: jose.Payload{"sub": "alice"},
			},
			{
				name: "missing user info payload", scopes: "openid profile", clientID: "client1",
				idToken: jose.Payload{"sub": "alice"},
			},
		}

		for _, tt := range tests {
			got, err := s.GetToken(ctx, tt.scopes, tt.clientID, tt.idToken, tt.userInfo)
			require.NoError(t, err, tt.name)
			if tt.want == "" {
				assert.Nil(t, got, tt.name)
				continue
			}
			require.NotNil(t, got, tt.name)
			assert.Equal(t, tt.want, got.AccessToken, tt.name)
		}
	})
}

func TestGetToken_Empty(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		got, err := s.GetToken(ctx, "openid", "client1", jose.Payload{"sub": "alice"}, nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRemoveAccessToken_CascadesToRefreshToken(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.AddToken(ctx, newToken("at1", "rt1")))

		require.NoError(t, s.RemoveAccessToken(ctx, "at1"))

		_, err := s.GetAccessToken(ctx, "at1")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRefreshToken(ctx, "rt1")
		require.ErrorIs(t, err, ErrNotFound)

		got, err := s.GetToken(ctx, "openid profile", "client1", jose.Payload{"sub": "alice"}, jose.Payload{"sub": "alice"})
		require.NoError(t, err)
		assert.Nil(t, got, "a revoked token must not be reused")

		require.ErrorIs(t, s.RemoveAccessToken(ctx, "at1"), ErrNotFound)
	})
}

func TestRemoveRefreshToken_KeepsAccessToken(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		require.NoError(t, s.AddToken(ctx, newToken("at1", "rt1")))

		require.NoError(t, s.RemoveRefreshToken(ctx, "rt1"))

		_, err := s.GetRefreshToken(ctx, "rt1")
		require.ErrorIs(t, err, ErrNotFound)
		got, err := s.GetAccessToken(ctx, "at1")
		require.NoError(t, err)
		assert.Equal(t, "at1", got.AccessToken)

		require.ErrorIs(t, s.RemoveRefreshToken(ctx, "rt1"), ErrNotFound)
	})
}

func TestAuthorizationCode_SingleUse(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		now := time.Now().UTC().Truncate(time.Second)
		code := &AuthorizationCode{
			Code:                "code1",
			ClientID:            "client1",
			RedirectURI:         "https://client.example.com/cb",
			Scope:               "openid",
			Subject:             "alice",
			CodeChallenge:       "challenge",
			CodeChallengeMethod: oauth.CodeChallengeS256,
			CreatedAt:           now,
			ExpiresAt:           now.Add(time.Minute),
		}
		require.NoError(t, s.AddAuthorizationCode(ctx, code))
		require.ErrorIs(t, s.AddAuthorizationCode(ctx, code), ErrAlreadyExists)

		got, err := s.ConsumeAuthorizationCode(ctx, "code1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Subject)
		assert.Equal(t, oauth.CodeChallengeS256, got.CodeChallengeMethod)
		assert.False(t, got.IsExpired(now))
		assert.True(t, got.IsExpired(now.Add(time.Minute)))

		_, err = s.ConsumeAuthorizationCode(ctx, "code1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAuthorizationCode_ExpiredIsStillReturned(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		past := time.Now().Add(-time.Minute)
		require.NoError(t, s.AddAuthorizationCode(ctx, &AuthorizationCode{
			Code: "old", CreatedAt: past.Add(-time.Minute), ExpiresAt: past,
		}))

		got, err := s.ConsumeAuthorizationCode(ctx, "old")
		require.NoError(t, err)
		assert.True(t, got.IsExpired(time.Now()))
	})
}

func TestContinuation(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		maxAge := 5 * time.Minute
		c := &Continuation{
			Code: "cont1",
			Parameter: &oauth.AuthorizationParameter{
				ClientID:     "client1",
				ResponseType: "code",
				Scope:        "openid",
				State:        "xyz",
				MaxAge:       &maxAge,
			},
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Minute),
		}
		require.NoError(t, s.AddContinuation(ctx, c))

		got, err := s.ConsumeContinuation(ctx, "cont1")
		require.NoError(t, err)
		assert.Equal(t, "xyz", got.Parameter.State)
		require.NotNil(t, got.Parameter.MaxAge)
		assert.Equal(t, maxAge, *got.Parameter.MaxAge)

		_, err = s.ConsumeContinuation(ctx, "cont1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAddToken_Concurrent(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		const workers = 20

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.AddToken(ctx, newToken("same", fmt.Sprintf("rt-%d", i)))
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
	})
}

func TestGetOrAddToken(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		now := time.Now()

		first, created, err := s.GetOrAddToken(ctx, newToken("at1", "rt1"), now)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "at1", first.AccessToken)

		// same scopes in another order, same owner with other casing
		other := newToken("at2", "rt2")
		other.Scope = "profile openid"
		other.IDTokenPayload = jose.Payload{"sub": "ALICE", "name": "alice", "iat": 2}
		got, created, err := s.GetOrAddToken(ctx, other, now)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "at1", got.AccessToken)
		_, err = s.GetAccessToken(ctx, "at2")
		require.ErrorIs(t, err, ErrNotFound)

		// once the match is expired it is replaced
		got, created, err = s.GetOrAddToken(ctx, newToken("at3", "rt3"), now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "at3", got.AccessToken)
		_, err = s.GetAccessToken(ctx, "at1")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRefreshToken(ctx, "rt1")
		require.ErrorIs(t, err, ErrNotFound)

		// a token added directly, as a refresh grant does, is reused too
		bob := newToken("at-bob", "rt-bob")
		bob.IDTokenPayload = jose.Payload{"sub": "bob"}
		bob.UserInfoPayload = jose.Payload{"sub": "bob"}
		require.NoError(t, s.AddToken(ctx, bob))
		again := newToken("at-bob2", "rt-bob2")
		again.IDTokenPayload = bob.IDTokenPayload
		again.UserInfoPayload = bob.UserInfoPayload
		got, created, err = s.GetOrAddToken(ctx, again, now)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "at-bob", got.AccessToken)
	})
}

func TestGetOrAddToken_Concurrent(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, ctx context.Context, s Storage) {
		const workers = 8
		now := time.Now()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			issued  = make(map[string]struct{})
			created int
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, isNew, err := s.GetOrAddToken(ctx, newToken(fmt.Sprintf("at-%d", i), fmt.Sprintf("rt-%d", i)), now)
				assert.NoError(t, err)
				if err != nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				issued[got.AccessToken] = struct{}{}
				if isNew {
					created++
				}
			}()
		}
		wg.Wait()

		assert.Len(t, issued, 1, "one record per fingerprint")
		assert.Equal(t, 1, created)

		var stored int
		for i := range workers {
			if _, err := s.GetAccessToken(ctx, fmt.Sprintf("at-%d", i)); err == nil {
				stored++
			}
		}
		assert.Equal(t, 1, stored)
	})
}

func TestMemoryStorage_CleanupExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }
	s := NewMemoryStorage(WithCleanupInterval(time.Hour), WithRetention(time.Minute), WithMemoryClock(clock))
	defer s.Close()
	ctx := context.Background()

	expired := newToken("at-expired", "rt-expired")
	expired.CreatedAt = now.Add(-3 * time.Hour)
	expired.ExpiresIn = 60
	expired.RefreshExpiresIn = 120
	require.NoError(t, s.AddToken(ctx, expired))
	require.NoError(t, s.AddToken(ctx, newToken("at-live", "rt-live")))
	require.NoError(t, s.AddAuthorizationCode(ctx, &AuthorizationCode{Code: "old", ExpiresAt: now.Add(-2 * time.Minute)}))
	require.NoError(t, s.AddAuthorizationCode(ctx, &AuthorizationCode{Code: "recent", ExpiresAt: now.Add(-30 * time.Second)}))

	s.cleanupExpired()

	_, err := s.GetAccessToken(ctx, "at-expired")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRefreshToken(ctx, "rt-expired")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAccessToken(ctx, "at-live")
	require.NoError(t, err)

	_, err = s.ConsumeAuthorizationCode(ctx, "old")
	require.ErrorIs(t, err, ErrNotFound)
	// expired but still within retention
	_, err = s.ConsumeAuthorizationCode(ctx, "recent")
	require.NoError(t, err)
}

func TestRedisStorage_Keyspace(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStorageWithClient(client, "idserver:test:")
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.AddToken(ctx, newToken("at1", "rt1")))

	assert.True(t, mr.Exists("idserver:test:access:at1"))
	assert.True(t, mr.Exists("idserver:test:refresh:rt1"))
	members, err := mr.Members("idserver:test:client_tokens:client1")
	require.NoError(t, err)
	assert.Equal(t, []string{"at1"}, members)

	// the token key expires with the refresh token plus retention
	ttl := mr.TTL("idserver:test:access:at1")
	assert.Greater(t, ttl, 2*time.Hour)

	// a token evicted by Redis is pruned from the client index on scan
	mr.Del("idserver:test:access:at1")
	got, err := s.GetToken(ctx, "openid profile", "client1", jose.Payload{"sub": "alice"}, jose.Payload{"sub": "alice"})
	require.NoError(t, err)
	assert.Nil(t, got)
	card, err := client.SCard(ctx, "idserver:test:client_tokens:client1").Result()
	require.NoError(t, err)
	assert.Zero(t, card)
}

func TestNewRedisStorage_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  RedisConfig
	}{
		{name: "no address", cfg: RedisConfig{KeyPrefix: "p:"}},
		{name: "no prefix", cfg: RedisConfig{Addrs: []string{"localhost:6379"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRedisStorage(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid redis configuration")
		})
	}
}

func TestNewRedisStorage_Connects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s, err := NewRedisStorage(context.Background(), RedisConfig{Addrs: []string{mr.Addr()}, KeyPrefix: "p:"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
