// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package jwks holds the JSON web keys of the identity server: the signing
// and encryption key pairs, their rotation, and the public JWK Set document.
package jwks

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// KeyType is the "kty" of a key.
type KeyType string

// Supported key types
const (
	KeyTypeRSA KeyType = "RSA"
	KeyTypeEC  KeyType = "EC"
	KeyTypeOct KeyType = "oct"
)

// Usage is the "use" of a key.
type Usage string

// Key usages
const (
	UsageSignature  Usage = "sig"
	UsageEncryption Usage = "enc"
)

// KeyOperation is one entry of "key_ops".
type KeyOperation string

// Key operations
const (
	OpSign      KeyOperation = "sign"
	OpVerify    KeyOperation = "verify"
	OpEncrypt   KeyOperation = "encrypt"
	OpDecrypt   KeyOperation = "decrypt"
	OpWrapKey   KeyOperation = "wrapKey"
	OpUnwrapKey KeyOperation = "unwrapKey"
)

// Key is a JSON web key held by the server or published by a client.
type Key struct {
	// Kid is the key identifier
	Kid string
	// Kty is the key type
	Kty KeyType
	// Use tells whether the key signs or encrypts
	Use Usage
	// KeyOps lists the operations the key is allowed for
	KeyOps []KeyOperation
	// Alg is the JWS or JWE algorithm bound to the key, may be empty
	Alg string
	// Material is *rsa.PrivateKey, *rsa.PublicKey, *ecdsa.PrivateKey,
	// *ecdsa.PublicKey or []byte for symmetric keys
	Material any
	// CreatedAt is the time the key was created or loaded
	CreatedAt time.Time
}

// NewKey builds a key from raw material, deriving its type, identifier and
// key operations.
func NewKey(material any, use Usage, alg string) (*Key, error) {
	kty, err := keyTypeOf(material)
	if err != nil {
		return nil, err
	}
	kid, err := DeriveKeyID(material)
	if err != nil {
		return nil, err
	}
	k := &Key{
		Kid:       kid,
		Kty:       kty,
		Use:       use,
		Alg:       alg,
		Material:  material,
		CreatedAt: time.Now(),
	}
	k.KeyOps = defaultKeyOps(k)
	return k, nil
}

// IsPrivate reports whether the key holds private material.
func (k *Key) IsPrivate() bool {
	switch k.Material.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey, []byte:
		return true
	default:
		return false
	}
}

// PublicMaterial returns the public part of the key. Symmetric keys have no
// public part and are returned as is.
func (k *Key) PublicMaterial() any {
	switch m := k.Material.(type) {
	case crypto.Signer:
		return m.Public()
	default:
		return m
	}
}

// Public returns a copy of the key stripped of private material.
// Symmetric keys cannot be published and yield nil.
func (k *Key) Public() *Key {
	if k.Kty == KeyTypeOct {
		return nil
	}
	cp := *k
	cp.Material = k.PublicMaterial()
	cp.KeyOps = publicKeyOps(k.Use)
	return &cp
}

func keyTypeOf(material any) (KeyType, error) {
	switch material.(type) {
	case *rsa.PrivateKey, *rsa.PublicKey:
		return KeyTypeRSA, nil
	case *ecdsa.PrivateKey, *ecdsa.PublicKey:
		return KeyTypeEC, nil
	case []byte:
		return KeyTypeOct, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, material)
	}
}

func defaultKeyOps(k *Key) []KeyOperation {
	if !k.IsPrivate() {
		return publicKeyOps(k.Use)
	}
	if k.Use == UsageEncryption {
		return []KeyOperation{OpEncrypt, OpDecrypt, OpWrapKey, OpUnwrapKey}
	}
	return []KeyOperation{OpSign, OpVerify}
}

func publicKeyOps(use Usage) []KeyOperation {
	if use == UsageEncryption {
		return []KeyOperation{OpEncrypt, OpWrapKey}
	}
	return []KeyOperation{OpVerify}
}

// DeriveKeyID computes the RFC 7638 thumbprint of the key, base64url encoded
// without padding.
func DeriveKeyID(material any) (string, error) {
	var pub any
	switch m := material.(type) {
	case crypto.Signer:
		pub = m.Public()
	case []byte:
		// thumbprints are only defined for asymmetric keys
		return uuid.NewString(), nil
	default:
		pub = material
	}
	jwk := jose.JSONWebKey{Key: pub}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}
