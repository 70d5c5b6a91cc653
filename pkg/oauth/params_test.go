// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationParameter_Parsing(t *testing.T) {
	t.Parallel()

	p := &AuthorizationParameter{
		ResponseType: "id_token  code code",
		Scope:        "openid profile openid",
		Prompt:       "login consent",
	}

	assert.Equal(t, []ResponseType{ResponseTypeIDToken, ResponseTypeCode}, p.ResponseTypes())
	assert.Equal(t, []string{"openid", "profile"}, p.Scopes())
	assert.True(t, p.HasPrompt(PromptConsent))
	assert.False(t, p.HasPrompt(PromptNone))
	assert.True(t, p.HasResponseType(ResponseTypeCode))
	assert.False(t, p.HasResponseType(ResponseTypeToken))
	assert.Nil(t, p.RequestedClaimNames())
}

func TestParseClaimsParameter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantNames []string
		wantErr   bool
	}{
		{name: "empty", raw: "", wantNames: nil},
		{
			name:      "userinfo and id_token",
			raw:       `{"userinfo":{"email":{"essential":true},"name":null},"id_token":{"auth_time":{"essential":true},"email":null}}`,
			wantNames: []string{"email", "name", "auth_time"},
		},
		{name: "malformed", raw: `{"userinfo":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseClaimsParameter(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNames == nil {
				assert.True(t, got.Empty())
				return
			}
			assert.Equal(t, tt.wantNames, got.Names())
		})
	}
}

func TestParseClaimsParameter_Values(t *testing.T) {
	t.Parallel()

	got, err := ParseClaimsParameter(`{"id_token":{"acr":{"values":["urn:a","urn:b"]},"sub":{"value":"248289761001"}}}`)
	require.NoError(t, err)
	require.Len(t, got.IDToken, 2)
	assert.Equal(t, []string{"urn:a", "urn:b"}, got.IDToken[0].Values)
	assert.Equal(t, "248289761001", got.IDToken[1].Value)
}

func TestClaimsForScopes(t *testing.T) {
	t.Parallel()

	got := ClaimsForScopes([]string{"openid", "email", "phone"})
	assert.Equal(t, []string{"sub", "email", "email_verified", "phone_number", "phone_number_verified"}, got)
}

func TestPrincipal(t *testing.T) {
	t.Parallel()

	var anonymous *Principal
	assert.False(t, anonymous.IsAuthenticated())

	now := time.Now()
	p := &Principal{Subject: "alice", AuthenticatedAt: now.Add(-10 * time.Minute)}
	assert.True(t, p.IsAuthenticated())
	assert.True(t, p.AuthenticatedWithin(time.Hour, now))
	assert.False(t, p.AuthenticatedWithin(time.Minute, now))
}
