// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/logger"
)

// ErrDecryption is returned when a JWE cannot be decrypted or authenticated.
var ErrDecryption = errors.New("failed to decrypt token")

// jweSegments is the number of segments of a compact JWE:
// header.encryptedKey.iv.ciphertext.tag
const jweSegments = 5

// Encrypt wraps text in a compact JWE addressed to key.
//
// Encryption is optional per client: when alg, enc or the key is missing or
// not supported the text is returned unchanged and no error is raised.
// Errors are only returned when the crypto layer fails on a supported
// combination.
func Encrypt(text string, alg JweAlg, enc JweEnc, key *jwks.Key) (string, error) {
	if key == nil || key.Material == nil {
		return text, nil
	}
	keyAlg, ok := alg.keyAlgorithm()
	if !ok {
		logger.Debugw("skipping encryption, unsupported key management algorithm", "alg", alg)
		return text, nil
	}
	contentEnc, ok := enc.contentEncryption()
	if !ok {
		logger.Debugw("skipping encryption, unsupported content encryption", "enc", enc)
		return text, nil
	}

	opts := (&jose.EncrypterOptions{}).WithType("JWT")
	if strings.Count(text, ".") == 2 {
		opts = opts.WithContentType("JWT")
	}
	encrypter, err := jose.NewEncrypter(
		contentEnc,
		jose.Recipient{Algorithm: keyAlg, Key: encryptionMaterial(key), KeyID: key.Kid},
		opts,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create %s/%s encrypter: %w", alg, enc, err)
	}
	obj, err := encrypter.Encrypt([]byte(text))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return obj.CompactSerialize()
}

// IsEncrypted reports whether token has the shape of a compact JWE.
func IsEncrypted(token string) bool {
	return strings.Count(token, ".") == jweSegments-1
}

// Decrypt opens a compact JWE with the key named by its kid.
//
// A token that does not have five segments is not a JWE and is returned
// unchanged. For a JWE, alg and enc must belong to the supported tables and
// the authentication tag must verify, otherwise an error is returned.
func Decrypt(token string, keys KeyResolver) (string, error) {
	if !IsEncrypted(token) {
		return token, nil
	}
	header, err := ParseHeader(token)
	if err != nil {
		return "", err
	}
	if _, ok := ParseJweAlg(header.Alg); !ok {
		return "", fmt.Errorf("%w: unsupported alg %q", ErrDecryption, header.Alg)
	}
	if _, ok := ParseJweEnc(header.Enc); !ok {
		return "", fmt.Errorf("%w: unsupported enc %q", ErrDecryption, header.Enc)
	}

	obj, err := jose.ParseEncrypted(token, allowedKeyAlgorithms, allowedContentEncryption)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	key, ok := keys.Lookup(header.Kid)
	if !ok || !key.IsPrivate() {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, header.Kid)
	}
	plaintext, err := obj.Decrypt(key.Material)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return string(plaintext), nil
}

func encryptionMaterial(key *jwks.Key) any {
	if key.Kty == jwks.KeyTypeOct {
		return key.Material
	}
	return key.PublicMaterial()
}
