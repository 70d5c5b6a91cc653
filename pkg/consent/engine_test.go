// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/idserver/pkg/client"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/oauth"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	registry := client.NewMemoryRegistry(
		&client.Client{ID: "client1", AllowedScopes: []string{"openid", "profile", "email"}},
		&client.Client{ID: "client2", AllowedScopes: []string{"openid", "profile"}},
	)
	store := NewMemoryStore()
	return NewEngine(store, client.NewValidator(registry)), store
}

func TestAddConsent_ThenReuse(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	p := &oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid profile email"}
	created, err := engine.AddConsent(ctx, p, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile", "email"}, created.GrantedScopes)
	assert.Contains(t, created.Claims, "email")

	tests := []struct {
		name  string
		param *oauth.AuthorizationParameter
		found bool
	}{
		{"same request", p, true},
		{"narrower scopes", &oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid"}, true},
		{"wider scopes", &oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid phone"}, false},
		{"other client", &oauth.AuthorizationParameter{ClientID: "client2", Scope: "openid"}, false},
		{
			"granted claim",
			&oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid",
				Claims: &oauth.ClaimsParameter{UserInfo: []oauth.ClaimRequest{{Name: "email"}}}},
			true,
		},
		{
			"claim not granted",
			&oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid",
				Claims: &oauth.ClaimsParameter{IDToken: []oauth.ClaimRequest{{Name: "phone_number"}}}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := engine.GetConfirmedConsent(ctx, "alice", tt.param)
			require.NoError(t, err)
			if tt.found {
				require.NotNil(t, got)
				assert.Equal(t, created.ID, got.ID)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestAddConsent_IsIdempotent(t *testing.T) {
	t.Parallel()

	engine, store := newTestEngine(t)
	ctx := context.Background()
	p := &oauth.AuthorizationParameter{ClientID: "client1", Scope: "openid profile"}

	first, err := engine.AddConsent(ctx, p, "alice")
	require.NoError(t, err)
	second, err := engine.AddConsent(ctx, p, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := store.GetBySubject(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAddConsent_WithClaimsParameter(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t)
	p := &oauth.AuthorizationParameter{
		ClientID: "client1",
		Scope:    "openid",
		Claims:   &oauth.ClaimsParameter{UserInfo: []oauth.ClaimRequest{{Name: "email"}, {Name: "name"}}},
	}
	c, err := engine.AddConsent(context.Background(), p, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, c.Claims)
}

func TestAddConsent_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		param    *oauth.AuthorizationParameter
		wantCode string
	}{
		{"missing openid", &oauth.AuthorizationParameter{ClientID: "client1", Scope: "profile", State: "s"}, oerrors.ErrInvalidRequest},
		{"unknown client", &oauth.AuthorizationParameter{ClientID: "nope", Scope: "openid"}, oerrors.ErrInvalidClient},
		{"scope not allowed", &oauth.AuthorizationParameter{ClientID: "client2", Scope: "openid email"}, oerrors.ErrInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine, store := newTestEngine(t)
			_, err := engine.AddConsent(context.Background(), tt.param, "carol")
			assert.True(t, oerrors.HasCode(err, tt.wantCode), "got %v", err)

			all, err := store.GetBySubject(context.Background(), "carol")
			require.NoError(t, err)
			assert.Empty(t, all, "no consent is written on rejection")
		})
	}
}
