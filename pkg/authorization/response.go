// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/idserver/pkg/client"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/storage"
	"github.com/stacklok/idserver/pkg/token"
)

// responseGenerator fills the callback result of a completed request with
// the artifacts named by response_type.
type responseGenerator struct {
	tokens       *token.Generator
	store        storage.Storage
	codeLifetime time.Duration
	now          func() time.Time
}

// generate adds code, access_token, id_token and state to result. A code
// is minted only when the result carries a confirmed consent.
func (g *responseGenerator) generate(
	ctx context.Context, result *ActionResult, flow Flow,
	p *oauth.AuthorizationParameter, principal *oauth.Principal, c *client.Client,
) error {
	idPayload, err := g.tokens.IDTokenPayload(p, principal)
	if err != nil {
		return err
	}
	userInfoPayload, err := g.tokens.UserInfoPayload(p, principal)
	if err != nil {
		return err
	}
	scope := oauth.JoinScopes(p.Scopes())

	var accessToken string
	if p.HasResponseType(oauth.ResponseTypeToken) {
		t, created, err := g.tokens.GetOrCreateToken(ctx, g.store, scope, c.ID, idPayload, userInfoPayload)
		if err != nil {
			return oerrors.NewInternal("failed to issue the access token", err)
		}
		if created {
			logger.Debugw("access token issued", "client_id", c.ID, "subject", principal.Subject)
		}
		accessToken = t.AccessToken
		result.Parameters.Set(ParamAccessToken, t.AccessToken)
		result.Parameters.Set(ParamTokenType, t.TokenType)
		result.Parameters.Set(ParamExpiresIn, strconv.FormatInt(t.ExpiresIn, 10))
	}

	var code string
	if p.HasResponseType(oauth.ResponseTypeCode) && result.consent != nil {
		code, err = g.mintCode(ctx, p, principal, c, idPayload, userInfoPayload)
		if err != nil {
			return err
		}
		result.Parameters.Set(ParamCode, code)
	}

	token.FillInOtherClaims(idPayload, code, accessToken, c)
	if p.HasResponseType(oauth.ResponseTypeIDToken) {
		idToken, err := g.tokens.EncodeIDToken(ctx, idPayload, c)
		if err != nil {
			return oerrors.NewInternal("failed to encode the identity token", err)
		}
		result.Parameters.Set(ParamIDToken, idToken)
	}

	if p.State != "" {
		result.Parameters.Set(ParamState, p.State)
	}
	result.ResponseMode = flow.ResponseMode(p)
	return nil
}

func (g *responseGenerator) mintCode(
	ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal, c *client.Client,
	idPayload, userInfoPayload jose.Payload,
) (string, error) {
	now := g.now()
	code := &storage.AuthorizationCode{
		Code:                uuid.NewString(),
		ClientID:            c.ID,
		RedirectURI:         p.RedirectURI,
		Scope:               oauth.JoinScopes(p.Scopes()),
		Subject:             principal.Subject,
		Nonce:               p.Nonce,
		IDTokenPayload:      idPayload.Clone(),
		UserInfoPayload:     userInfoPayload.Clone(),
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(g.codeLifetime),
	}
	if err := g.store.AddAuthorizationCode(ctx, code); err != nil {
		return "", oerrors.NewInternal("failed to store the authorization code", err)
	}
	return code.Code, nil
}
