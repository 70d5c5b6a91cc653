// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/idserver/pkg/jwks"
)

var (
	// ErrMalformedToken is returned when a token is not a compact JWS
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnknownKey is returned when no key matches the token kid
	ErrUnknownKey = errors.New("unknown signing key")

	// ErrUnsignedToken is returned when an unsigned token is not allowed
	ErrUnsignedToken = errors.New("unsigned token")
)

// KeyResolver resolves a key by its identifier.
type KeyResolver interface {
	Lookup(kid string) (*jwks.Key, bool)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(kid string) (*jwks.Key, bool)

// Lookup calls f.
func (f KeyResolverFunc) Lookup(kid string) (*jwks.Key, bool) {
	return f(kid)
}

// Header is the protected header of a compact token.
type Header struct {
	Alg string `json:"alg"`
	Enc string `json:"enc,omitempty"`
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
	Cty string `json:"cty,omitempty"`
}

// Sign serializes payload as a compact JWS. Missing or unknown algorithms
// fall back to RS256. "none" produces an unsecured token and ignores key.
func Sign(payload Payload, alg JwsAlg, key *jwks.Key) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload: %w", err)
	}
	if alg == None {
		return unsecured(body)
	}
	sigAlg, ok := alg.signatureAlgorithm()
	if !ok {
		alg = DefaultJwsAlg
		sigAlg, _ = alg.signatureAlgorithm()
	}
	if key == nil {
		return "", fmt.Errorf("%w: no key to sign with %s", ErrUnknownKey, alg)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: sigAlg, Key: jose.JSONWebKey{Key: key.Material, KeyID: key.Kid}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create %s signer: %w", alg, err)
	}
	obj, err := signer.Sign(body)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return obj.CompactSerialize()
}

// unsecured builds an "alg":"none" token. go-jose refuses to emit them.
func unsecured(body []byte) (string, error) {
	header, err := json.Marshal(Header{Alg: string(None), Typ: "JWT"})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(body) + ".", nil
}

// ParseHeader decodes the protected header of a compact JWS or JWE.
func ParseHeader(token string) (*Header, error) {
	segment, _, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return &h, nil
}

// Verify checks the signature of a compact JWS with the key named by its
// kid and returns the payload. Unsigned tokens are rejected unless
// allowUnsigned is set.
func Verify(token string, keys KeyResolver, allowUnsigned bool) (Payload, *Header, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, nil, err
	}
	if header.Alg == string(None) {
		if !allowUnsigned {
			return nil, header, ErrUnsignedToken
		}
		p, err := UnverifiedPayload(token)
		return p, header, err
	}

	obj, err := jose.ParseSigned(token, allowedSignatureAlgorithms)
	if err != nil {
		return nil, header, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	key, ok := keys.Lookup(header.Kid)
	if !ok {
		return nil, header, fmt.Errorf("%w: %s", ErrUnknownKey, header.Kid)
	}
	body, err := obj.Verify(verificationMaterial(key))
	if err != nil {
		return nil, header, fmt.Errorf("signature verification failed: %w", err)
	}
	p, err := decodePayload(body)
	return p, header, err
}

// UnverifiedPayload decodes the payload of a compact JWS without checking
// its signature.
func UnverifiedPayload(token string) (Payload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return decodePayload(body)
}

func decodePayload(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return p, nil
}

func verificationMaterial(key *jwks.Key) any {
	if key.Kty == jwks.KeyTypeOct {
		return key.Material
	}
	return key.PublicMaterial()
}
