// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token builds the JWT artifacts handed to clients: ID token and
// userinfo payloads, their signed and encrypted serializations, and the
// granted token aggregates kept in the token store.
package token

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/stacklok/idserver/pkg/client"
	oautherrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/oauth"
)

// DefaultAcr is the authentication context class reported when the
// authentication collaborator does not provide one.
const DefaultAcr = "openid.pape.auth_level.ns.password=1"

// DefaultAmr is the authentication method reported by default.
var DefaultAmr = []string{"password"}

// KeySource returns the server keys used to sign tokens.
type KeySource interface {
	SigningKey(ctx context.Context, alg string) (*jwks.Key, error)
}

// Config holds the token lifetimes and the issuer name.
type Config struct {
	Issuer               string
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
	IDTokenLifetime      time.Duration
}

// Generator builds ID token and userinfo payloads and serializes them.
type Generator struct {
	cfg  Config
	keys KeySource
	now  func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the clock used for iat and exp.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator creates a Generator.
func NewGenerator(cfg Config, keys KeySource, opts ...Option) *Generator {
	g := &Generator{cfg: cfg, keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Issuer returns the issuer name put in the iss claim.
func (g *Generator) Issuer() string {
	return g.cfg.Issuer
}

// IDTokenPayload builds the ID token claims for principal. The resource
// owner claims come from the id_token section of the claims parameter when
// present, otherwise from the requested scopes.
func (g *Generator) IDTokenPayload(p *oauth.AuthorizationParameter, principal *oauth.Principal) (jose.Payload, error) {
	if !principal.IsAuthenticated() {
		return nil, oautherrors.NewLoginRequired(p.State)
	}

	var requests []oauth.ClaimRequest
	if p.Claims != nil {
		requests = p.Claims.IDToken
	}

	payload := jose.Payload{}
	if err := g.fillIdentityClaims(payload, p, principal, requests); err != nil {
		return nil, err
	}
	if len(requests) > 0 {
		if err := fillRequestedClaims(payload, principal, requests, p.State); err != nil {
			return nil, err
		}
		return payload, nil
	}
	fillScopeClaims(payload, principal, p.Scopes())
	return payload, nil
}

// UserInfoPayload builds the userinfo claims for principal, from the
// userinfo section of the claims parameter or from the scopes.
func (*Generator) UserInfoPayload(p *oauth.AuthorizationParameter, principal *oauth.Principal) (jose.Payload, error) {
	if !principal.IsAuthenticated() {
		return nil, oautherrors.NewLoginRequired(p.State)
	}

	payload := jose.Payload{}
	if p.Claims != nil && len(p.Claims.UserInfo) > 0 {
		if err := fillRequestedClaims(payload, principal, p.Claims.UserInfo, p.State); err != nil {
			return nil, err
		}
		return payload, nil
	}
	fillScopeClaims(payload, principal, p.Scopes())
	return payload, nil
}

// fillIdentityClaims adds iss, aud, exp, iat, auth_time, nonce, acr, amr
// and azp, checking them against the claims requested for the ID token.
func (g *Generator) fillIdentityClaims(
	payload jose.Payload, p *oauth.AuthorizationParameter, principal *oauth.Principal, requests []oauth.ClaimRequest,
) error {
	now := g.now()
	exp := now.Add(g.cfg.IDTokenLifetime).Unix()
	iat := now.Unix()

	// the server accepts its own ID tokens back as id_token_hint
	audiences := []string{p.ClientID}
	if g.cfg.Issuer != "" && g.cfg.Issuer != p.ClientID {
		audiences = append(audiences, g.cfg.Issuer)
	}
	azp := ""
	if len(audiences) > 1 {
		azp = p.ClientID
	}

	acr := principal.Acr
	if acr == "" {
		acr = DefaultAcr
	}
	amr := principal.Amr
	if len(amr) == 0 {
		amr = DefaultAmr
	}
	authTime := ""
	if !principal.AuthenticatedAt.IsZero() {
		authTime = fmt.Sprint(principal.AuthenticatedAt.Unix())
	}

	checks := map[string][]string{
		jose.ClaimIssuer:     {g.cfg.Issuer},
		jose.ClaimAudience:   audiences,
		jose.ClaimExpiration: {fmt.Sprint(exp)},
		jose.ClaimIssuedAt:   {fmt.Sprint(iat)},
		jose.ClaimAuthTime:   {authTime},
		jose.ClaimNonce:      {p.Nonce},
		jose.ClaimAcr:        {acr},
		jose.ClaimAmr:        amr,
		jose.ClaimAzp:        {azp},
	}
	authTimeEssential := false
	for _, r := range requests {
		values, ok := checks[r.Name]
		if !ok {
			continue
		}
		if !claimValuesSatisfy(values, r) {
			return invalidClaim(r.Name, p.State)
		}
		if r.Name == jose.ClaimAuthTime && r.Essential {
			authTimeEssential = true
		}
	}

	payload[jose.ClaimIssuer] = g.cfg.Issuer
	payload[jose.ClaimAudience] = audiences
	payload[jose.ClaimExpiration] = exp
	payload[jose.ClaimIssuedAt] = iat
	if (authTimeEssential || p.MaxAge != nil) && authTime != "" {
		payload[jose.ClaimAuthTime] = principal.AuthenticatedAt.Unix()
	}
	if p.Nonce != "" {
		payload[jose.ClaimNonce] = p.Nonce
	}
	payload[jose.ClaimAcr] = acr
	payload[jose.ClaimAmr] = amr
	if azp != "" {
		payload[jose.ClaimAzp] = azp
	}
	return nil
}

// fillScopeClaims copies the principal claims released by scopes. The
// subject is always present.
func fillScopeClaims(payload jose.Payload, principal *oauth.Principal, scopes []string) {
	payload[oauth.ClaimSubject] = principal.Subject
	for _, name := range oauth.ClaimsForScopes(scopes) {
		if name == oauth.ClaimSubject {
			continue
		}
		if v, ok := principal.Claims[name]; ok {
			payload[name] = v
		}
	}
}

// fillRequestedClaims copies the requested resource owner claims and
// rejects values that do not satisfy the request.
func fillRequestedClaims(payload jose.Payload, principal *oauth.Principal, requests []oauth.ClaimRequest, state string) error {
	if !slices.ContainsFunc(requests, func(r oauth.ClaimRequest) bool { return r.Name == oauth.ClaimSubject }) {
		requests = append(slices.Clone(requests), oauth.ClaimRequest{Name: oauth.ClaimSubject, Essential: true})
	}

	for _, r := range requests {
		if !slices.Contains(oauth.StandardResourceOwnerClaimNames, r.Name) {
			continue
		}
		var value string
		if r.Name == oauth.ClaimSubject {
			value = principal.Subject
		} else {
			value = principal.Claims.String(r.Name)
		}
		if !claimValuesSatisfy([]string{value}, r) {
			return invalidClaim(r.Name, state)
		}
		if r.Name == oauth.ClaimSubject {
			payload[r.Name] = principal.Subject
			continue
		}
		if v, ok := principal.Claims[r.Name]; ok {
			payload[r.Name] = v
		}
	}
	return nil
}

// claimValuesSatisfy checks the essential, value and values members of a
// claim request against the values the server would release.
func claimValuesSatisfy(values []string, r oauth.ClaimRequest) bool {
	present := slices.ContainsFunc(values, func(v string) bool { return v != "" })
	if r.Essential && !present {
		return false
	}
	if r.Value != "" && !slices.Contains(values, r.Value) {
		return false
	}
	if len(r.Values) > 0 && !slices.ContainsFunc(values, func(v string) bool { return slices.Contains(r.Values, v) }) {
		return false
	}
	return true
}

func invalidClaim(name, state string) error {
	return oautherrors.NewError(oautherrors.ErrInvalidGrant, fmt.Sprintf("the claim %s is not valid", name), state, nil)
}

// RenewIDTokenPayload returns a copy of payload with fresh iat and exp,
// without the hashes bound to previously returned artifacts.
func (g *Generator) RenewIDTokenPayload(payload jose.Payload) jose.Payload {
	out := payload.Clone()
	now := g.now()
	out[jose.ClaimIssuedAt] = now.Unix()
	out[jose.ClaimExpiration] = now.Add(g.cfg.IDTokenLifetime).Unix()
	delete(out, jose.ClaimCodeHash)
	delete(out, jose.ClaimAccessTokenHash)
	return out
}

// FillInOtherClaims adds c_hash and at_hash for the code and access token
// returned next to the ID token. Nothing is added for unsigned tokens.
func FillInOtherClaims(payload jose.Payload, code, accessToken string, c *client.Client) {
	alg := c.IDTokenSigningAlg()
	if alg == jose.None {
		return
	}
	if code != "" {
		payload[jose.ClaimCodeHash] = jose.LeftHalfHash(alg, code)
	}
	if accessToken != "" {
		payload[jose.ClaimAccessTokenHash] = jose.LeftHalfHash(alg, accessToken)
	}
}

// EncodeIDToken signs payload with the algorithm registered by the client
// and encrypts it when the client asked for encrypted ID tokens.
func (g *Generator) EncodeIDToken(ctx context.Context, payload jose.Payload, c *client.Client) (string, error) {
	return g.encode(ctx, payload, c, c.IDTokenSigningAlg(),
		c.IDTokenEncryptedResponseAlg, c.IDTokenEncryptedResponseEnc, c.IDTokenEncryptionKey())
}

// EncodeUserInfo serializes a userinfo response as a JWT. The boolean is
// false when the client expects plain JSON.
func (g *Generator) EncodeUserInfo(ctx context.Context, payload jose.Payload, c *client.Client) (string, bool, error) {
	if c.UserInfoSignedResponseAlg == "" && c.UserInfoEncryptedResponseAlg == "" {
		return "", false, nil
	}
	// encrypted but unsigned responses are wrapped around an unsecured JWS
	alg, ok := jose.ParseJwsAlg(c.UserInfoSignedResponseAlg)
	if !ok {
		alg = jose.None
	}
	out, err := g.encode(ctx, payload, c, alg,
		c.UserInfoEncryptedResponseAlg, c.UserInfoEncryptedResponseEnc, c.UserInfoEncryptionKey())
	return out, err == nil, err
}

func (g *Generator) encode(
	ctx context.Context, payload jose.Payload, c *client.Client, alg jose.JwsAlg, encAlg, enc string, encKey *jwks.Key,
) (string, error) {
	key, err := g.signingKey(ctx, c, alg)
	if err != nil {
		return "", err
	}
	signed, err := jose.Sign(payload, alg, key)
	if err != nil {
		return "", err
	}
	if encAlg == "" {
		return signed, nil
	}
	return jose.Encrypt(signed, jose.JweAlg(encAlg), jose.JweEnc(enc), encKey)
}

func (g *Generator) signingKey(ctx context.Context, c *client.Client, alg jose.JwsAlg) (*jwks.Key, error) {
	switch {
	case alg == jose.None:
		return nil, nil
	case alg.Symmetric():
		key := c.SecretKey()
		if key == nil {
			return nil, fmt.Errorf("client %s has no secret to sign with %s", c.ID, alg)
		}
		return key, nil
	default:
		return g.keys.SigningKey(ctx, string(alg))
	}
}
