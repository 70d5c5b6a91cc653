// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jwks

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// DefaultRSAKeyBits is the size of generated RSA keys.
const DefaultRSAKeyBits = 2048

// Generate creates a new key pair for the given usage and algorithm.
// Signing keys accept RS*, PS* and ES* algorithms, encryption keys accept
// the RSA key management algorithms.
func Generate(use Usage, alg string) (*Key, error) {
	material, err := generateMaterial(alg)
	if err != nil {
		return nil, err
	}
	return NewKey(material, use, alg)
}

func generateMaterial(alg string) (any, error) {
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "RSA1_5", "RSA-OAEP", "RSA-OAEP-256":
		key, err := rsa.GenerateKey(rand.Reader, DefaultRSAKeyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		return key, nil
	case "ES256":
		return generateEC(elliptic.P256())
	case "ES384":
		return generateEC(elliptic.P384())
	case "ES512":
		return generateEC(elliptic.P521())
	default:
		return nil, fmt.Errorf("%w: cannot generate a key for algorithm %q", ErrUnsupportedKey, alg)
	}
}

func generateEC(curve elliptic.Curve) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate EC key: %w", err)
	}
	return key, nil
}
