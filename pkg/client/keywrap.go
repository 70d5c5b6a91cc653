// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"crypto/sha256"

	"github.com/stacklok/idserver/pkg/jose"
)

// deriveWrapKey turns the client secret into a key of the size required by
// the AES key wrap algorithm: the leftmost bits of SHA-256(secret).
func deriveWrapKey(alg jose.JweAlg, secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	switch alg {
	case jose.A128KW:
		return sum[:16]
	case jose.A192KW:
		return sum[:24]
	default:
		return sum[:]
	}
}
