// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stacklok/idserver/pkg/client"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/events"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/storage"
)

// issueCode runs a consented code request and returns the code.
func (f *fixture) issueCode(t *testing.T, p *oauth.AuthorizationParameter) string {
	t.Helper()
	result, err := f.actions.ConfirmConsent(context.Background(), p, f.principal())
	require.NoError(t, err)
	code := result.Parameters.Get(ParamCode)
	require.NotEmpty(t, code)
	return code
}

func codeGrant(code string) *TokenRequest {
	return &TokenRequest{
		GrantType:    client.GrantAuthorizationCode,
		ClientID:     "client1",
		ClientSecret: testSecret,
		Code:         code,
		RedirectURI:  testRedirectURI,
	}
}

func TestToken_AuthorizationCodeRejections(t *testing.T) {
	t.Parallel()

	other := testClient(t)
	other.ID = "client2"

	tests := []struct {
		name     string
		modify   func(*TokenRequest)
		advance  time.Duration
		wantCode string
	}{
		{name: "missing code", modify: func(r *TokenRequest) { r.Code = "" }, wantCode: oerrors.ErrInvalidRequest},
		{name: "unknown code", modify: func(r *TokenRequest) { r.Code = "nope" }, wantCode: oerrors.ErrInvalidGrant},
		{name: "wrong secret", modify: func(r *TokenRequest) { r.ClientSecret = "wrong" }, wantCode: oerrors.ErrInvalidClient},
		{name: "unknown client", modify: func(r *TokenRequest) { r.ClientID = "nobody" }, wantCode: oerrors.ErrInvalidClient},
		{name: "other client", modify: func(r *TokenRequest) { r.ClientID = "client2" }, wantCode: oerrors.ErrInvalidGrant},
		{
			name:     "other redirect uri",
			modify:   func(r *TokenRequest) { r.RedirectURI = "https://client.example.com/other" },
			wantCode: oerrors.ErrInvalidGrant,
		},
		{name: "expired code", advance: 11 * time.Minute, wantCode: oerrors.ErrInvalidGrant},
		{
			name:     "unsupported grant",
			modify:   func(r *TokenRequest) { r.GrantType = client.GrantClientCredentials },
			wantCode: oerrors.ErrUnsupportedGrantType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, other)
			req := codeGrant(f.issueCode(t, codeRequest()))
			if tt.modify != nil {
				tt.modify(req)
			}
			f.clock.Advance(tt.advance)

			resp, err := f.actions.Token(context.Background(), req)
			requireCode(t, err, tt.wantCode)
			assert.Nil(t, resp)
			assert.Contains(t, f.publisher.types(), events.OpenIDErrorReceived)
		})
	}
}

func TestToken_PKCE(t *testing.T) {
	t.Parallel()

	verifier := oauth2.GenerateVerifier()

	tests := []struct {
		name      string
		method    oauth.CodeChallengeMethod
		challenge string
		verifier  string
		wantErr   bool
	}{
		{name: "S256", method: oauth.CodeChallengeS256, challenge: oauth2.S256ChallengeFromVerifier(verifier), verifier: verifier},
		{name: "plain", method: oauth.CodeChallengePlain, challenge: verifier, verifier: verifier},
		{
			name:      "S256 wrong verifier",
			method:    oauth.CodeChallengeS256,
			challenge: oauth2.S256ChallengeFromVerifier(verifier),
			verifier:  oauth2.GenerateVerifier(),
			wantErr:   true,
		},
		{
			name:      "missing verifier",
			method:    oauth.CodeChallengeS256,
			challenge: oauth2.S256ChallengeFromVerifier(verifier),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			p := codeRequest()
			p.CodeChallenge = tt.challenge
			p.CodeChallengeMethod = tt.method
			req := codeGrant(f.issueCode(t, p))
			req.CodeVerifier = tt.verifier

			resp, err := f.actions.Token(context.Background(), req)
			if tt.wantErr {
				requireCode(t, err, oerrors.ErrInvalidGrant)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, resp.AccessToken)
		})
	}
}

func TestToken_PublicClient(t *testing.T) {
	t.Parallel()

	public := testClient(t)
	public.ID = "spa"
	public.SecretHash = nil
	public.Secret = ""
	public.TokenEndpointAuthMethod = client.AuthMethodNone
	f := newFixture(t, public)

	p := codeRequest()
	p.ClientID = "spa"
	verifier := oauth2.GenerateVerifier()
	p.CodeChallenge = oauth2.S256ChallengeFromVerifier(verifier)
	p.CodeChallengeMethod = oauth.CodeChallengeS256

	req := codeGrant(f.issueCode(t, p))
	req.ClientID = "spa"
	req.ClientSecret = ""
	req.CodeVerifier = verifier

	resp, err := f.actions.Token(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.IDToken)
}

func TestToken_RefreshToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	first, err := f.actions.Token(ctx, codeGrant(f.issueCode(t, codeRequest())))
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	refreshed, err := f.actions.Token(ctx, &TokenRequest{
		GrantType:    client.GrantRefreshToken,
		ClientID:     "client1",
		ClientSecret: testSecret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, first.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, int64(3600), refreshed.ExpiresIn)
	assert.NotEmpty(t, refreshed.IDToken)

	_, err = f.store.GetAccessToken(ctx, first.AccessToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// the old refresh token is gone
	_, err = f.actions.Token(ctx, &TokenRequest{
		GrantType:    client.GrantRefreshToken,
		ClientID:     "client1",
		ClientSecret: testSecret,
		RefreshToken: first.RefreshToken,
	})
	requireCode(t, err, oerrors.ErrInvalidGrant)
}

func TestToken_RefreshTokenExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	first, err := f.actions.Token(ctx, codeGrant(f.issueCode(t, codeRequest())))
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	_, err = f.actions.Token(ctx, &TokenRequest{
		GrantType:    client.GrantRefreshToken,
		ClientID:     "client1",
		ClientSecret: testSecret,
		RefreshToken: first.RefreshToken,
	})
	requireCode(t, err, oerrors.ErrInvalidGrant)
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	other := testClient(t)
	other.ID = "client2"

	t.Run("access token cascades", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		resp, err := f.actions.Token(ctx, codeGrant(f.issueCode(t, codeRequest())))
		require.NoError(t, err)

		require.NoError(t, f.actions.Revoke(ctx, &RevocationRequest{
			ClientID: "client1", ClientSecret: testSecret, Token: resp.AccessToken,
		}))
		_, err = f.store.GetAccessToken(ctx, resp.AccessToken)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = f.store.GetRefreshToken(ctx, resp.RefreshToken)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Contains(t, f.publisher.types(), events.TokenRevoked)
	})

	t.Run("refresh token only", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := context.Background()
		resp, err := f.actions.Token(ctx, codeGrant(f.issueCode(t, codeRequest())))
		require.NoError(t, err)

		require.NoError(t, f.actions.Revoke(ctx, &RevocationRequest{
			ClientID: "client1", ClientSecret: testSecret, Token: resp.RefreshToken,
			TokenTypeHint: TokenTypeHintRefreshToken,
		}))
		_, err = f.store.GetRefreshToken(ctx, resp.RefreshToken)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = f.store.GetAccessToken(ctx, resp.AccessToken)
		assert.NoError(t, err)
	})

	t.Run("unknown token", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		assert.NoError(t, f.actions.Revoke(context.Background(), &RevocationRequest{
			ClientID: "client1", ClientSecret: testSecret, Token: "unknown",
		}))
	})

	t.Run("token of another client", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, other)
		ctx := context.Background()
		resp, err := f.actions.Token(ctx, codeGrant(f.issueCode(t, codeRequest())))
		require.NoError(t, err)

		err = f.actions.Revoke(ctx, &RevocationRequest{
			ClientID: "client2", ClientSecret: testSecret, Token: resp.AccessToken,
		})
		requireCode(t, err, oerrors.ErrUnauthorizedClient)
	})
}

func TestGetUserInformation_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.actions.GetUserInformation(ctx, "")
	requireCode(t, err, oerrors.ErrInvalidRequest)

	_, err = f.actions.GetUserInformation(ctx, "unknown")
	requireCode(t, err, oerrors.ErrInvalidToken)

	resp, err := f.actions.Token(ctx, codeGrant(f.issueCode(t, codeRequest())))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	_, err = f.actions.GetUserInformation(ctx, resp.AccessToken)
	requireCode(t, err, oerrors.ErrInvalidToken)
}
