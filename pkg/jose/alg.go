// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package jose produces and consumes compact JWS and JWE tokens.
//
// Algorithm names received from the wire or from client metadata are never
// handed to the crypto layer directly: they go through the closed tables of
// this file first.
package jose

import (
	"github.com/go-jose/go-jose/v4"
)

// JwsAlg is a JWS signature algorithm name.
type JwsAlg string

// Supported JWS algorithms
const (
	HS256 JwsAlg = "HS256"
	HS384 JwsAlg = "HS384"
	HS512 JwsAlg = "HS512"
	RS256 JwsAlg = "RS256"
	RS384 JwsAlg = "RS384"
	RS512 JwsAlg = "RS512"
	ES256 JwsAlg = "ES256"
	ES384 JwsAlg = "ES384"
	ES512 JwsAlg = "ES512"
	PS256 JwsAlg = "PS256"
	PS384 JwsAlg = "PS384"
	PS512 JwsAlg = "PS512"
	None  JwsAlg = "none"
)

// DefaultJwsAlg is used when a signature algorithm is missing or unknown.
const DefaultJwsAlg = RS256

// JweAlg is a JWE key management algorithm name.
type JweAlg string

// Supported JWE key management algorithms
const (
	RSA15      JweAlg = "RSA1_5"
	RSAOAEP    JweAlg = "RSA-OAEP"
	RSAOAEP256 JweAlg = "RSA-OAEP-256"
	A128KW     JweAlg = "A128KW"
	A192KW     JweAlg = "A192KW"
	A256KW     JweAlg = "A256KW"
)

// JweEnc is a JWE content encryption algorithm name.
type JweEnc string

// Supported JWE content encryption algorithms
const (
	A128CBCHS256 JweEnc = "A128CBC-HS256"
	A192CBCHS384 JweEnc = "A192CBC-HS384"
	A256CBCHS512 JweEnc = "A256CBC-HS512"
)

// ParseJwsAlg maps a name to a supported JWS algorithm.
func ParseJwsAlg(name string) (JwsAlg, bool) {
	alg := JwsAlg(name)
	if alg == None {
		return alg, true
	}
	_, ok := alg.signatureAlgorithm()
	return alg, ok
}

// ParseJweAlg maps a name to a supported JWE key management algorithm.
func ParseJweAlg(name string) (JweAlg, bool) {
	alg := JweAlg(name)
	_, ok := alg.keyAlgorithm()
	return alg, ok
}

// ParseJweEnc maps a name to a supported JWE content encryption algorithm.
func ParseJweEnc(name string) (JweEnc, bool) {
	enc := JweEnc(name)
	_, ok := enc.contentEncryption()
	return enc, ok
}

func (a JwsAlg) signatureAlgorithm() (jose.SignatureAlgorithm, bool) {
	switch a {
	case HS256:
		return jose.HS256, true
	case HS384:
		return jose.HS384, true
	case HS512:
		return jose.HS512, true
	case RS256:
		return jose.RS256, true
	case RS384:
		return jose.RS384, true
	case RS512:
		return jose.RS512, true
	case ES256:
		return jose.ES256, true
	case ES384:
		return jose.ES384, true
	case ES512:
		return jose.ES512, true
	case PS256:
		return jose.PS256, true
	case PS384:
		return jose.PS384, true
	case PS512:
		return jose.PS512, true
	default:
		return "", false
	}
}

// Symmetric reports whether the algorithm is keyed by a shared secret.
func (a JwsAlg) Symmetric() bool {
	switch a {
	case HS256, HS384, HS512:
		return true
	default:
		return false
	}
}

func (a JweAlg) keyAlgorithm() (jose.KeyAlgorithm, bool) {
	switch a {
	case RSA15:
		return jose.RSA1_5, true
	case RSAOAEP:
		return jose.RSA_OAEP, true
	case RSAOAEP256:
		return jose.RSA_OAEP_256, true
	case A128KW:
		return jose.A128KW, true
	case A192KW:
		return jose.A192KW, true
	case A256KW:
		return jose.A256KW, true
	default:
		return "", false
	}
}

func (e JweEnc) contentEncryption() (jose.ContentEncryption, bool) {
	switch e {
	case A128CBCHS256:
		return jose.A128CBC_HS256, true
	case A192CBCHS384:
		return jose.A192CBC_HS384, true
	case A256CBCHS512:
		return jose.A256CBC_HS512, true
	default:
		return "", false
	}
}

var (
	allowedSignatureAlgorithms = []jose.SignatureAlgorithm{
		jose.HS256, jose.HS384, jose.HS512,
		jose.RS256, jose.RS384, jose.RS512,
		jose.ES256, jose.ES384, jose.ES512,
		jose.PS256, jose.PS384, jose.PS512,
	}
	allowedKeyAlgorithms = []jose.KeyAlgorithm{
		jose.RSA1_5, jose.RSA_OAEP, jose.RSA_OAEP_256,
		jose.A128KW, jose.A192KW, jose.A256KW,
	}
	allowedContentEncryption = []jose.ContentEncryption{
		jose.A128CBC_HS256, jose.A192CBC_HS384, jose.A256CBC_HS512,
	}
)
