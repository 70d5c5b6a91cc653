// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/jwks"
)

// KeyStore resolves the server keys used to decrypt and verify claim
// tokens.
type KeyStore interface {
	Lookup(kid string) (*jwks.Key, bool)
	SigningPublicKeys() []*jwks.Key
}

var errInvalidClaimToken = errors.New("invalid claim token")

var claimTokenMethods = []string{
	"RS256", "RS384", "RS512",
	"ES256", "ES384", "ES512",
	"PS256", "PS384", "PS512",
}

// claimTokenVerifier checks ID tokens issued by this server and presented
// as claim tokens.
type claimTokenVerifier struct {
	issuer string
	keys   KeyStore
	now    func() time.Time
}

// verify decrypts the token when it is a JWE, then checks its signature,
// issuer and expiry. It returns the claims of the token.
func (v *claimTokenVerifier) verify(token string) (jose.Payload, error) {
	raw, err := jose.Decrypt(token, v.keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidClaimToken, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(claimTokenMethods),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	header, err := jose.ParseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidClaimToken, err)
	}

	var candidates []any
	if header.Kid != "" {
		key, found := v.keys.Lookup(header.Kid)
		if !found {
			return nil, fmt.Errorf("%w: unknown key %s", errInvalidClaimToken, header.Kid)
		}
		candidates = append(candidates, key.PublicMaterial())
	} else {
		for _, k := range v.keys.SigningPublicKeys() {
			candidates = append(candidates, k.Material)
		}
	}

	err = errors.New("no verification key")
	for _, material := range candidates {
		claims := jwt.MapClaims{}
		keyFunc := func(*jwt.Token) (any, error) { return material, nil }
		if _, err = jwt.ParseWithClaims(raw, claims, keyFunc, opts...); err == nil {
			return jose.Payload(claims), nil
		}
	}
	return nil, fmt.Errorf("%w: %w", errInvalidClaimToken, err)
}
