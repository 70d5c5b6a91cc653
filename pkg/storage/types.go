// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage persists the artifacts minted by the authorization engine:
// granted tokens, authorization codes and continuation codes.
//
// Two backends implement Storage: MemoryStorage for single instance
// deployments and tests, RedisStorage for deployments that share state
// across replicas. Expiry is always decided by the caller at consumption
// time; the backends only reap stale entries lazily.
package storage

import (
	"context"
	"slices"
	"time"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/oauth"
)

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks -source=types.go TokenStore

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "Bearer"

// GrantedToken is the aggregate issued when a flow completes. Access and
// refresh tokens are opaque lookup keys into the token store.
type GrantedToken struct {
	AccessToken     string       `json:"access_token"`
	RefreshToken    string       `json:"refresh_token,omitempty"`
	IDToken         string       `json:"id_token,omitempty"`
	IDTokenPayload  jose.Payload `json:"id_token_payload,omitempty"`
	UserInfoPayload jose.Payload `json:"user_info_payload,omitempty"`
	Scope           string       `json:"scope"`
	ClientID        string       `json:"client_id"`
	TokenType       string       `json:"token_type"`
	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`
	// RefreshExpiresIn is the refresh token lifetime in seconds
	RefreshExpiresIn int64     `json:"refresh_expires_in,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ExpiresAt returns the access token expiry.
func (t *GrantedToken) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// RefreshExpiresAt returns the refresh token expiry. Without a refresh
// lifetime the refresh token lives as long as the access token.
func (t *GrantedToken) RefreshExpiresAt() time.Time {
	if t.RefreshExpiresIn <= 0 {
		return t.ExpiresAt()
	}
	return t.CreatedAt.Add(time.Duration(t.RefreshExpiresIn) * time.Second)
}

// IsExpired reports whether the access token is expired at now.
func (t *GrantedToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// retainUntil is the instant after which the store may drop the token.
func (t *GrantedToken) retainUntil() time.Time {
	access, refresh := t.ExpiresAt(), t.RefreshExpiresAt()
	if refresh.After(access) {
		return refresh
	}
	return access
}

// matches reports whether the token was issued for the same scopes, client
// and resource owner.
func (t *GrantedToken) matches(scopes, clientID string, idTokenPayload, userInfoPayload jose.Payload) bool {
	if t.ClientID != clientID || !sameScopes(t.Scope, scopes) {
		return false
	}
	return samePrincipal(idTokenPayload, t.IDTokenPayload) &&
		samePrincipal(userInfoPayload, t.UserInfoPayload)
}

func sameScopes(a, b string) bool {
	left, right := oauth.ParseScopes(a), oauth.ParseScopes(b)
	if len(left) != len(right) {
		return false
	}
	for _, s := range left {
		if !slices.Contains(right, s) {
			return false
		}
	}
	return true
}

// samePrincipal compares the standard resource owner claims of want with
// have, ignoring case. Other claims (iat, exp, nonce...) always differ
// between two issuances and are not compared.
func samePrincipal(want, have jose.Payload) bool {
	if want == nil || have == nil {
		return want == nil && have == nil
	}
	for _, name := range oauth.StandardResourceOwnerClaimNames {
		if _, ok := want[name]; !ok {
			continue
		}
		if !want.EqualFold(have, name) {
			return false
		}
	}
	return true
}

// AuthorizationCode is a single use code minted by the code and hybrid
// flows and redeemed at the token endpoint.
type AuthorizationCode struct {
	Code                string                    `json:"code"`
	ClientID            string                    `json:"client_id"`
	RedirectURI         string                    `json:"redirect_uri"`
	Scope               string                    `json:"scope"`
	Subject             string                    `json:"subject"`
	Nonce               string                    `json:"nonce,omitempty"`
	IDTokenPayload      jose.Payload              `json:"id_token_payload,omitempty"`
	UserInfoPayload     jose.Payload              `json:"user_info_payload,omitempty"`
	CodeChallenge       string                    `json:"code_challenge,omitempty"`
	CodeChallengeMethod oauth.CodeChallengeMethod `json:"code_challenge_method,omitempty"`
	CreatedAt           time.Time                 `json:"created_at"`
	ExpiresAt           time.Time                 `json:"expires_at"`
}

// IsExpired reports whether the code is expired at now.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Continuation carries an in-flight authorization request across the
// login and consent redirects.
type Continuation struct {
	Code      string                        `json:"code"`
	Parameter *oauth.AuthorizationParameter `json:"parameter"`
	CreatedAt time.Time                     `json:"created_at"`
	ExpiresAt time.Time                     `json:"expires_at"`
}

// IsExpired reports whether the continuation is expired at now.
func (c *Continuation) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TokenStore persists granted tokens.
type TokenStore interface {
	// AddToken stores the token. It fails with ErrAlreadyExists when the
	// access or refresh token collides with a stored one.
	AddToken(ctx context.Context, token *GrantedToken) error

	// GetToken returns the most recent token issued to clientID for the same
	// scopes and resource owner, or nil when none exists.
	GetToken(ctx context.Context, scopes, clientID string, idTokenPayload, userInfoPayload jose.Payload) (*GrantedToken, error)

	// GetOrAddToken returns the token issued for the same scopes, client and
	// resource owner as token when it is still valid at now. Otherwise it
	// removes the expired match, if any, and stores token. The lookup and the
	// insert are atomic, so one fingerprint never has two live records. The
	// boolean reports whether token was stored.
	GetOrAddToken(ctx context.Context, token *GrantedToken, now time.Time) (*GrantedToken, bool, error)

	// GetAccessToken returns the token owning the access token.
	GetAccessToken(ctx context.Context, accessToken string) (*GrantedToken, error)

	// GetRefreshToken returns the token owning the refresh token.
	GetRefreshToken(ctx context.Context, refreshToken string) (*GrantedToken, error)

	// RemoveAccessToken removes the token together with its refresh token.
	RemoveAccessToken(ctx context.Context, accessToken string) error

	// RemoveRefreshToken removes only the refresh token. The access token
	// stays valid until it expires.
	RemoveRefreshToken(ctx context.Context, refreshToken string) error
}

// AuthorizationCodeStore persists authorization codes.
type AuthorizationCodeStore interface {
	AddAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	// ConsumeAuthorizationCode returns the code and removes it, so a code can
	// be redeemed only once. Expired codes are returned as is.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// ContinuationStore persists continuation codes.
type ContinuationStore interface {
	AddContinuation(ctx context.Context, c *Continuation) error
	ConsumeContinuation(ctx context.Context, code string) (*Continuation, error)
}

// Storage groups every store of the package.
type Storage interface {
	TokenStore
	AuthorizationCodeStore
	ContinuationStore
	Close() error
}
