// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/stacklok/idserver/pkg/client"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/events"
	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/storage"
)

// Token type hints of a revocation request
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// TokenRequest is a parsed token endpoint request.
type TokenRequest struct {
	GrantType    client.GrantType
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
}

// TokenResponse is the token endpoint response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// RevocationRequest is a parsed token revocation request.
type RevocationRequest struct {
	ClientID      string
	ClientSecret  string
	Token         string
	TokenTypeHint string
}

// Token redeems an authorization code or a refresh token.
func (a *Actions) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	processID := events.NewProcessID()

	var (
		resp *TokenResponse
		err  error
	)
	switch req.GrantType {
	case client.GrantAuthorizationCode:
		resp, err = a.redeemCode(ctx, req)
	case client.GrantRefreshToken:
		resp, err = a.refresh(ctx, req)
	default:
		err = oerrors.NewUnsupportedGrantType(string(req.GrantType))
	}
	if err != nil {
		pe := a.failure(ctx, processID, req.ClientID, err, "")
		return nil, pe
	}
	a.publisher.Publish(ctx, events.New(processID, events.TokenGranted).
		WithClient(req.ClientID).
		WithData("grant_type", string(req.GrantType)))
	return resp, nil
}

func (a *Actions) authenticateClient(ctx context.Context, clientID, secret string) (*client.Client, error) {
	c, err := a.validator.ValidateClientExist(ctx, clientID, "")
	if err != nil {
		return nil, err
	}
	if !c.IsPublic() && !c.SecretMatches(secret) {
		return nil, oerrors.NewInvalidClient("the client cannot be authenticated", "")
	}
	return c, nil
}

func (a *Actions) redeemCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, oerrors.NewInvalidRequest("the parameter code is missing", "")
	}
	c, err := a.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !c.SupportsGrantType(client.GrantAuthorizationCode) {
		return nil, oerrors.NewUnauthorizedClient(
			fmt.Sprintf("the client %s doesn't support the grant type %s", c.ID, client.GrantAuthorizationCode))
	}

	code, err := a.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerrors.NewInvalidGrant("the authorization code is not correct")
		}
		return nil, oerrors.NewInternal("failed to read the authorization code", err)
	}
	switch {
	case code.ClientID != c.ID:
		return nil, oerrors.NewInvalidGrant(
			fmt.Sprintf("the authorization code has not been issued for the given client id %s", c.ID))
	case code.RedirectURI != req.RedirectURI:
		return nil, oerrors.NewInvalidGrant("the redirect_uri is not the same as the one used in the authorization request")
	case code.IsExpired(a.now()):
		return nil, oerrors.NewInvalidGrant("the authorization code is obsolete")
	case !verifyCodeVerifier(code, req.CodeVerifier):
		return nil, oerrors.NewInvalidGrant("the code_verifier is not correct")
	}

	t, _, err := a.tokens.GetOrCreateToken(ctx, a.store, code.Scope, c.ID, code.IDTokenPayload, code.UserInfoPayload)
	if err != nil {
		return nil, oerrors.NewInternal("failed to issue the access token", err)
	}
	return a.tokenResponse(ctx, t, c)
}

// verifyCodeVerifier checks the PKCE verifier against the challenge bound
// to the code. Codes minted without a challenge need no verifier.
func verifyCodeVerifier(code *storage.AuthorizationCode, verifier string) bool {
	if code.CodeChallenge == "" {
		return true
	}
	if verifier == "" {
		return false
	}
	computed := verifier
	if code.CodeChallengeMethod == oauth.CodeChallengeS256 {
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(code.CodeChallenge)) == 1
}

// refresh consumes the refresh token and issues a new granted token. The
// previous access token is revoked.
func (a *Actions) refresh(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oerrors.NewInvalidRequest("the parameter refresh_token is missing", "")
	}
	c, err := a.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !c.SupportsGrantType(client.GrantRefreshToken) {
		return nil, oerrors.NewUnauthorizedClient(
			fmt.Sprintf("the client %s doesn't support the grant type %s", c.ID, client.GrantRefreshToken))
	}

	old, err := a.store.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerrors.NewInvalidGrant("the refresh token is not valid")
		}
		return nil, oerrors.NewInternal("failed to read the refresh token", err)
	}
	if old.ClientID != c.ID {
		return nil, oerrors.NewInvalidGrant("the refresh token can be used only by the same issuer")
	}
	if !a.now().Before(old.RefreshExpiresAt()) {
		a.removeAccessToken(ctx, old.AccessToken)
		return nil, oerrors.NewInvalidGrant("the refresh token is expired")
	}
	// a concurrent refresh with the same token loses here
	if err := a.store.RemoveRefreshToken(ctx, req.RefreshToken); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerrors.NewInvalidGrant("the refresh token is not valid")
		}
		return nil, oerrors.NewInternal("failed to remove the refresh token", err)
	}

	t, err := a.tokens.NewGrantedToken(c.ID, old.Scope, old.IDTokenPayload, old.UserInfoPayload)
	if err != nil {
		return nil, oerrors.NewInternal("failed to issue the access token", err)
	}
	if err := a.store.AddToken(ctx, t); err != nil {
		return nil, oerrors.NewInternal("failed to store the access token", err)
	}
	a.removeAccessToken(ctx, old.AccessToken)
	return a.tokenResponse(ctx, t, c)
}

func (a *Actions) removeAccessToken(ctx context.Context, accessToken string) {
	if err := a.store.RemoveAccessToken(ctx, accessToken); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warnw("failed to remove access token", "error", err)
	}
}

// tokenResponse renders t, re-signing the ID token with a fresh lifetime
// and an at_hash bound to the returned access token.
func (a *Actions) tokenResponse(ctx context.Context, t *storage.GrantedToken, c *client.Client) (*TokenResponse, error) {
	expiresIn := int64(t.ExpiresAt().Sub(a.now()).Seconds())
	resp := &TokenResponse{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		ExpiresIn:    max(expiresIn, 0),
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope,
	}
	if t.IDTokenPayload == nil {
		return resp, nil
	}
	payload := a.tokens.RenewIDTokenPayload(t.IDTokenPayload)
	fillAccessTokenHash(payload, t.AccessToken, c)
	idToken, err := a.tokens.EncodeIDToken(ctx, payload, c)
	if err != nil {
		return nil, oerrors.NewInternal("failed to encode the identity token", err)
	}
	resp.IDToken = idToken
	return resp, nil
}

func fillAccessTokenHash(payload jose.Payload, accessToken string, c *client.Client) {
	if alg := c.IDTokenSigningAlg(); alg != jose.None {
		payload[jose.ClaimAccessTokenHash] = jose.LeftHalfHash(alg, accessToken)
	}
}

// Revoke removes an access token, together with its refresh token, or a
// refresh token alone. Unknown tokens are not an error.
func (a *Actions) Revoke(ctx context.Context, req *RevocationRequest) error {
	processID := events.NewProcessID()
	if err := a.revoke(ctx, req); err != nil {
		return a.failure(ctx, processID, req.ClientID, err, "")
	}
	a.publisher.Publish(ctx, events.New(processID, events.TokenRevoked).
		WithClient(req.ClientID).
		WithData("token_type_hint", req.TokenTypeHint))
	return nil
}

func (a *Actions) revoke(ctx context.Context, req *RevocationRequest) error {
	if req.Token == "" {
		return oerrors.NewInvalidRequest("the parameter token is missing", "")
	}
	c, err := a.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return err
	}

	if req.TokenTypeHint != TokenTypeHintRefreshToken {
		t, err := a.store.GetAccessToken(ctx, req.Token)
		switch {
		case err == nil:
			if t.ClientID != c.ID {
				return oerrors.NewUnauthorizedClient("the token has not been issued for the given client id")
			}
			return ignoreNotFound(a.store.RemoveAccessToken(ctx, req.Token))
		case !errors.Is(err, storage.ErrNotFound):
			return oerrors.NewInternal("failed to read the access token", err)
		}
	}

	t, err := a.store.GetRefreshToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return oerrors.NewInternal("failed to read the refresh token", err)
	}
	if t.ClientID != c.ID {
		return oerrors.NewUnauthorizedClient("the token has not been issued for the given client id")
	}
	return ignoreNotFound(a.store.RemoveRefreshToken(ctx, req.Token))
}

func ignoreNotFound(err error) error {
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return oerrors.NewInternal("failed to remove the token", err)
}
