// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jwks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_ExposesOnlyPublicMaterial(t *testing.T) {
	t.Parallel()

	sig, err := Generate(UsageSignature, "RS256")
	require.NoError(t, err)
	enc, err := Generate(UsageEncryption, "RSA-OAEP")
	require.NoError(t, err)
	ec, err := Generate(UsageSignature, "ES384")
	require.NoError(t, err)

	data, err := Document([]*Key{sig, enc, ec, {Kid: "secret", Kty: KeyTypeOct, Material: []byte("0123456789abcdef")}})
	require.NoError(t, err)

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Keys, 3)

	for _, k := range doc.Keys {
		assert.NotContains(t, k, "d")
		assert.NotContains(t, k, "p")
		assert.NotContains(t, k, "k")
		assert.Contains(t, k, "kid")
		assert.Contains(t, k, "use")
		assert.Contains(t, k, "key_ops")
	}

	rsaSig := doc.Keys[0]
	assert.Equal(t, "RSA", rsaSig["kty"])
	assert.Equal(t, "sig", rsaSig["use"])
	assert.Equal(t, "RS256", rsaSig["alg"])
	assert.Equal(t, []any{"verify"}, rsaSig["key_ops"])
	assert.Contains(t, rsaSig, "n")
	assert.Contains(t, rsaSig, "e")

	rsaEnc := doc.Keys[1]
	assert.Equal(t, "enc", rsaEnc["use"])
	assert.Equal(t, []any{"encrypt", "wrapKey"}, rsaEnc["key_ops"])
}

func TestParseSet_RoundTrip(t *testing.T) {
	t.Parallel()

	enc, err := Generate(UsageEncryption, "RSA-OAEP-256")
	require.NoError(t, err)

	data, err := Document([]*Key{enc})
	require.NoError(t, err)

	keys, err := ParseSet(data)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, enc.Kid, keys[0].Kid)
	assert.Equal(t, UsageEncryption, keys[0].Use)
	assert.Equal(t, "RSA-OAEP-256", keys[0].Alg)
	assert.False(t, keys[0].IsPrivate())

	found, ok := FindByUse(keys, UsageEncryption, "RSA-OAEP-256")
	require.True(t, ok)
	assert.Equal(t, enc.Kid, found.Kid)

	_, ok = FindByUse(keys, UsageSignature, "")
	assert.False(t, ok)
}

func TestLoadPEM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		alg     string
		wantAlg string
		use     Usage
	}{
		{"rsa signing", "RS256", "RS256", UsageSignature},
		{"ec signing", "ES256", "ES256", UsageSignature},
		{"ec p384 signing", "ES384", "ES384", UsageSignature},
		{"rsa encryption", "RSA-OAEP", "RSA-OAEP", UsageEncryption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			k, err := Generate(tt.use, tt.alg)
			require.NoError(t, err)
			data, err := EncodePEM(k)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "key.pem")
			require.NoError(t, os.WriteFile(path, data, 0o600))

			loaded, err := LoadPEM(path, tt.use, "")
			require.NoError(t, err)
			assert.Equal(t, k.Kid, loaded.Kid)
			assert.Equal(t, tt.wantAlg, loaded.Alg)
		})
	}
}

func TestLoadPEM_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadPEM(filepath.Join(t.TempDir(), "missing.pem"), UsageSignature, "")
	assert.ErrorContains(t, err, "failed to read key file")

	path := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0o600))
	_, err = LoadPEM(path, UsageSignature, "")
	assert.ErrorContains(t, err, "failed to decode PEM block")
}
