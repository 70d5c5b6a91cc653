// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jwks

import "errors"

var (
	// ErrUnsupportedKey is returned for key material of an unknown type
	ErrUnsupportedKey = errors.New("unsupported key type")

	// ErrNoSigningKey is returned when the store holds no signing key
	ErrNoSigningKey = errors.New("no signing key available")

	// ErrKeyNotFound is returned when no key matches a key identifier
	ErrKeyNotFound = errors.New("key not found")

	// ErrEmptyKeySet is returned when replacing the key set with nothing
	ErrEmptyKeySet = errors.New("key set is empty")
)
