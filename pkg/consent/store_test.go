// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package consent

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

	"github.com/stacklok/idserver/pkg/client"
	"github.com/stacklok/idserver/pkg/oauth"
)

func newRedisStore(t *testing.T, mr *miniredis.Miniredis) *RedisStore {
	t.Helper()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisStore(rc, "test:")
}

func forEachStore(t *testing.T, fn func(t *testing.T, ctx context.Context, s Store)) {
	t.Helper()
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis":  func(t *testing.T) Store { return newRedisStore(t, miniredis.RunT(t)) },
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, context.Background(), newStore(t))
		})
	}
}

func TestStore_AddMergesPerClient(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, ctx context.Context, s Store) {
		now := time.Now().UTC()
		first, err := s.Add(ctx, &Consent{
			ID: "c1", ClientID: "client1", Subject: "alice",
			GrantedScopes: []string{"openid"}, Claims: []string{"sub"}, CreatedAt: now,
		})
		require.NoError(t, err)
		assert.Equal(t, "c1", first.ID)

		merged, err := s.Add(ctx, &Consent{
			ID: "c2", ClientID: "client1", Subject: "alice",
			GrantedScopes: []string{"openid", "email"}, Claims: []string{"email"}, CreatedAt: now,
		})
		require.NoError(t, err)
		assert.Equal(t, "c1", merged.ID, "the existing consent absorbs the grant")
		assert.Equal(t, []string{"openid", "email"}, merged.GrantedScopes)
		assert.Equal(t, []string{"sub", "email"}, merged.Claims)

		_, err = s.Add(ctx, &Consent{
			ID: "c3", ClientID: "client2", Subject: "alice",
			GrantedScopes: []string{"openid"}, CreatedAt: now.Add(time.Second),
		})
		require.NoError(t, err)

		all, err := s.GetBySubject(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "c1", all[0].ID)
		assert.Equal(t, "c3", all[1].ID)

		none, err := s.GetBySubject(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, ctx context.Context, s Store) {
		_, err := s.Add(ctx, &Consent{ID: "c1", ClientID: "client1", Subject: "alice", GrantedScopes: []string{"openid"}})
		require.NoError(t, err)

		require.NoError(t, s.Remove(ctx, "c1"))
		require.ErrorIs(t, s.Remove(ctx, "c1"), ErrNotFound)

		all, err := s.GetBySubject(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestRedisStore_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	s := newRedisStore(t, miniredis.RunT(t))
	ctx := context.Background()

	scopes := []string{"openid", "profile", "email", "phone", "address"}
	var wg sync.WaitGroup
	for i, scope := range scopes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, &Consent{
				ID: fmt.Sprintf("c%d", i), ClientID: "client1", Subject: "alice", GrantedScopes: []string{scope},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.GetBySubject(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.ElementsMatch(t, scopes, all[0].GrantedScopes, "no grant is lost to a concurrent merge")
}

func TestEngine_SharedRedisBackend(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	registry := client.NewMemoryRegistry(&client.Client{ID: "client1", AllowedScopes: []string{"openid", "profile"}})
	replicaA := NewEngine(newRedisStore(t, mr), client.NewValidator(registry))
	replicaB := NewEngine(newRedisStore(t, mr), client.NewValidator(registry))
	ctx := context.Background()
	p := &oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid profile"}

	created, err := replicaA.AddConsent(ctx, p, "alice")
	require.NoError(t, err)

	got, err := replicaB.GetConfirmedConsent(ctx, "alice", p)
	require.NoError(t, err)
	require.NotNil(t, got, "consent given on one replica is seen by the other")
	assert.Equal(t, created.ID, got.ID)

	again, err := replicaB.AddConsent(ctx, p, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

// appendOnlyStore never merges, so duplicates show up unless the engine
// checks for an existing consent first.
type appendOnlyStore struct {
	mu       sync.Mutex
	consents []*Consent
}

func (s *appendOnlyStore) GetBySubject(_ context.Context, subject string) ([]*Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Consent
	for _, c := range s.consents {
		if c.Subject == subject {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *appendOnlyStore) Add(_ context.Context, c *Consent) (*Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents = append(s.consents, c)
	return c, nil
}

func (*appendOnlyStore) Remove(context.Context, string) error { return nil }

func TestAddConsent_LooksUpBeforeCreating(t *testing.T) {
	t.Parallel()

	store := &appendOnlyStore{}
	registry := client.NewMemoryRegistry(&client.Client{ID: "client1", AllowedScopes: []string{"openid", "profile"}})
	engine := NewEngine(store, client.NewValidator(registry))
	ctx := context.Background()

	first, err := engine.AddConsent(ctx, &oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid profile"}, "alice")
	require.NoError(t, err)
	second, err := engine.AddConsent(ctx, &oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid"}, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.consents, 1)
}
