// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client holds registered OAuth2/OpenID clients, their registry and
// the validators run on every authorization request.
package client

import (
	"slices"

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/oauth"
)

// GrantType is an OAuth2 grant type.
type GrantType string

// Grant types
const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantImplicit          GrantType = "implicit"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
	GrantUMATicket         GrantType = "urn:ietf:params:oauth:grant-type:uma-ticket"
)

// AuthMethod is a token endpoint authentication method.
type AuthMethod string

// Token endpoint authentication methods
const (
	AuthMethodNone        AuthMethod = "none"
	AuthMethodSecretBasic AuthMethod = "client_secret_basic"
	AuthMethodSecretPost  AuthMethod = "client_secret_post"
	AuthMethodSecretJWT   AuthMethod = "client_secret_jwt"
	AuthMethodPrivateKey  AuthMethod = "private_key_jwt"
)

// Client is a registered client. The engine reads clients and never
// mutates them.
type Client struct {
	ID   string
	Name string
	// SecretHash is the bcrypt hash of the client secret
	SecretHash []byte
	// Secret is kept only for clients that ask for HMAC signed tokens,
	// the secret being the MAC key
	Secret                  string
	RedirectURIs            []string
	AllowedScopes           []string
	ResponseTypes           []oauth.ResponseType
	GrantTypes              []GrantType
	RequirePKCE             bool
	TokenEndpointAuthMethod AuthMethod

	IDTokenSignedResponseAlg     string
	IDTokenEncryptedResponseAlg  string
	IDTokenEncryptedResponseEnc  string
	UserInfoSignedResponseAlg    string
	UserInfoEncryptedResponseAlg string
	UserInfoEncryptedResponseEnc string

	// JWKS are the keys published by the client
	JWKS []*jwks.Key
	// JWKSURI is where the client publishes its keys, resolved into JWKS
	// by a KeyFetcher
	JWKSURI string
}

// IsPublic reports whether the client has no secret.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// SupportsResponseTypes reports whether every response type is allowed.
func (c *Client) SupportsResponseTypes(types []oauth.ResponseType) bool {
	for _, rt := range types {
		if !slices.Contains(c.ResponseTypes, rt) {
			return false
		}
	}
	return true
}

// SupportsGrantType reports whether the grant type is allowed.
func (c *Client) SupportsGrantType(gt GrantType) bool {
	return slices.Contains(c.GrantTypes, gt)
}

// SecretMatches compares secret with the stored hash.
func (c *Client) SecretMatches(secret string) bool {
	if len(c.SecretHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.SecretHash, []byte(secret)) == nil
}

// IDTokenSigningAlg returns the algorithm used for ID tokens.
func (c *Client) IDTokenSigningAlg() jose.JwsAlg {
	if alg, ok := jose.ParseJwsAlg(c.IDTokenSignedResponseAlg); ok {
		return alg
	}
	return jose.DefaultJwsAlg
}

// SecretKey returns the client secret as a symmetric signing key.
func (c *Client) SecretKey() *jwks.Key {
	if c.Secret == "" {
		return nil
	}
	return &jwks.Key{
		Kid:      c.ID,
		Kty:      jwks.KeyTypeOct,
		Use:      jwks.UsageSignature,
		Material: []byte(c.Secret),
	}
}

// IDTokenEncryptionKey returns the client key ID tokens are encrypted to,
// nil when the client did not ask for encrypted ID tokens.
func (c *Client) IDTokenEncryptionKey() *jwks.Key {
	return c.encryptionKey(c.IDTokenEncryptedResponseAlg)
}

// UserInfoEncryptionKey returns the client key userinfo responses are
// encrypted to.
func (c *Client) UserInfoEncryptionKey() *jwks.Key {
	return c.encryptionKey(c.UserInfoEncryptedResponseAlg)
}

func (c *Client) encryptionKey(alg string) *jwks.Key {
	if alg == "" {
		return nil
	}
	if k, ok := jwks.FindByUse(c.JWKS, jwks.UsageEncryption, alg); ok {
		return k
	}
	// key wrapping algorithms use the client secret
	if jweAlg, ok := jose.ParseJweAlg(alg); ok && isKeyWrap(jweAlg) && c.Secret != "" {
		return &jwks.Key{Kid: c.ID, Kty: jwks.KeyTypeOct, Use: jwks.UsageEncryption, Material: deriveWrapKey(jweAlg, c.Secret)}
	}
	return nil
}

func isKeyWrap(alg jose.JweAlg) bool {
	switch alg {
	case jose.A128KW, jose.A192KW, jose.A256KW:
		return true
	default:
		return false
	}
}

// HashSecret hashes a client secret for storage.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}
