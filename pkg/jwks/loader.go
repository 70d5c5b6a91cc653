// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jwks

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadPEM reads a PEM encoded private key (PKCS1, SEC1 or PKCS8) and wraps
// it as a key with the given usage. The algorithm is derived from the key
// when alg is empty.
func LoadPEM(path string, use Usage, alg string) (*Key, error) {
	keyPEM, err := os.ReadFile(path) // #nosec G304 - path comes from server configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	material, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	if alg == "" {
		alg, err = deriveAlgorithm(material, use)
		if err != nil {
			return nil, err
		}
	}
	return NewKey(material, use, alg)
}

// EncodePEM serializes the private material of k as PKCS8.
func EncodePEM(k *Key) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Material)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func parsePrivateKey(keyPEM []byte) (any, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return rsaKey, nil
	}
	if ecKey, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return ecKey, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
}

func deriveAlgorithm(material any, use Usage) (string, error) {
	switch k := material.(type) {
	case *rsa.PrivateKey:
		if use == UsageEncryption {
			return "RSA-OAEP", nil
		}
		return "RS256", nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return "ES256", nil
		case elliptic.P384():
			return "ES384", nil
		case elliptic.P521():
			return "ES512", nil
		default:
			return "", fmt.Errorf("unsupported EC curve: %s", k.Curve.Params().Name)
		}
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, material)
	}
}
