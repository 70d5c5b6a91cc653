// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/idserver/pkg/jwks"
)

func resolverFor(keys ...*jwks.Key) KeyResolver {
	return KeyResolverFunc(func(kid string) (*jwks.Key, bool) {
		for _, k := range keys {
			if k.Kid == kid {
				return k, true
			}
		}
		return nil, false
	})
}

func TestSignVerify(t *testing.T) {
	t.Parallel()

	rsaKey, err := jwks.Generate(jwks.UsageSignature, "RS256")
	require.NoError(t, err)
	ecKey, err := jwks.Generate(jwks.UsageSignature, "ES256")
	require.NoError(t, err)
	hmacKey := &jwks.Key{Kid: "shared", Kty: jwks.KeyTypeOct, Use: jwks.UsageSignature,
		Material: []byte("a-very-long-shared-secret-of-at-least-64-bytes-for-hs512-usage!!")}

	tests := []struct {
		name    string
		alg     JwsAlg
		key     *jwks.Key
		wantAlg string
	}{
		{"RS256", RS256, rsaKey, "RS256"},
		{"RS512", RS512, rsaKey, "RS512"},
		{"PS256", PS256, rsaKey, "PS256"},
		{"ES256", ES256, ecKey, "ES256"},
		{"HS256", HS256, hmacKey, "HS256"},
		{"HS512", HS512, hmacKey, "HS512"},
		{"unknown algorithm defaults to RS256", JwsAlg("XX999"), rsaKey, "RS256"},
		{"empty algorithm defaults to RS256", JwsAlg(""), rsaKey, "RS256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token, err := Sign(Payload{"sub": "alice", "aud": []string{"client"}}, tt.alg, tt.key)
			require.NoError(t, err)
			assert.Len(t, strings.Split(token, "."), 3)

			payload, header, err := Verify(token, resolverFor(tt.key), false)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlg, header.Alg)
			assert.Equal(t, tt.key.Kid, header.Kid)
			assert.Equal(t, "alice", payload.Subject())
			assert.Equal(t, []string{"client"}, payload.Audiences())
		})
	}
}

func TestSign_None(t *testing.T) {
	t.Parallel()

	token, err := Sign(Payload{"sub": "bob"}, None, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(token, "."))

	_, _, err = Verify(token, resolverFor(), false)
	assert.ErrorIs(t, err, ErrUnsignedToken)

	payload, _, err := Verify(token, resolverFor(), true)
	require.NoError(t, err)
	assert.Equal(t, "bob", payload.Subject())
}

func TestVerify_Failures(t *testing.T) {
	t.Parallel()

	signer, err := jwks.Generate(jwks.UsageSignature, "RS256")
	require.NoError(t, err)
	other, err := jwks.Generate(jwks.UsageSignature, "RS256")
	require.NoError(t, err)

	token, err := Sign(Payload{"sub": "alice"}, RS256, signer)
	require.NoError(t, err)

	_, _, err = Verify(token, resolverFor(), false)
	assert.ErrorIs(t, err, ErrUnknownKey)

	impostor := *other
	impostor.Kid = signer.Kid
	_, _, err = Verify(token, resolverFor(&impostor), false)
	assert.ErrorContains(t, err, "signature verification failed")

	_, _, err = Verify("not-a-token", resolverFor(signer), false)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()

	rsaKey, err := jwks.Generate(jwks.UsageEncryption, "RSA-OAEP")
	require.NoError(t, err)
	kw128 := &jwks.Key{Kid: "kw128", Kty: jwks.KeyTypeOct, Use: jwks.UsageEncryption, Material: []byte("0123456789abcdef")}
	kw192 := &jwks.Key{Kid: "kw192", Kty: jwks.KeyTypeOct, Use: jwks.UsageEncryption, Material: []byte("0123456789abcdef01234567")}
	kw256 := &jwks.Key{Kid: "kw256", Kty: jwks.KeyTypeOct, Use: jwks.UsageEncryption, Material: []byte("0123456789abcdef0123456789abcdef")}

	algs := []struct {
		alg JweAlg
		key *jwks.Key
	}{
		{RSA15, rsaKey},
		{RSAOAEP, rsaKey},
		{RSAOAEP256, rsaKey},
		{A128KW, kw128},
		{A192KW, kw192},
		{A256KW, kw256},
	}
	encs := []JweEnc{A128CBCHS256, A192CBCHS384, A256CBCHS512}

	for _, a := range algs {
		for _, enc := range encs {
			t.Run(string(a.alg)+"/"+string(enc), func(t *testing.T) {
				t.Parallel()

				plaintext := "header.payload.signature"
				token, err := Encrypt(plaintext, a.alg, enc, a.key)
				require.NoError(t, err)
				require.True(t, IsEncrypted(token))

				header, err := ParseHeader(token)
				require.NoError(t, err)
				assert.Equal(t, string(a.alg), header.Alg)
				assert.Equal(t, string(enc), header.Enc)
				assert.Equal(t, a.key.Kid, header.Kid)

				got, err := Decrypt(token, resolverFor(a.key))
				require.NoError(t, err)
				assert.Equal(t, plaintext, got)
			})
		}
	}
}

func TestEncrypt_LenientPassThrough(t *testing.T) {
	t.Parallel()

	key, err := jwks.Generate(jwks.UsageEncryption, "RSA-OAEP")
	require.NoError(t, err)

	tests := []struct {
		name string
		alg  JweAlg
		enc  JweEnc
		key  *jwks.Key
	}{
		{"nil key", RSAOAEP, A128CBCHS256, nil},
		{"unknown alg", JweAlg("dir-ish"), A128CBCHS256, key},
		{"unknown enc", RSAOAEP, JweEnc("A128GCM-XYZ"), key},
		{"empty alg and enc", "", "", key},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Encrypt("plain text", tt.alg, tt.enc, tt.key)
			require.NoError(t, err)
			assert.Equal(t, "plain text", got)
		})
	}
}

func TestDecrypt_Strict(t *testing.T) {
	t.Parallel()

	key, err := jwks.Generate(jwks.UsageEncryption, "RSA-OAEP")
	require.NoError(t, err)

	got, err := Decrypt("a.b.c", resolverFor(key))
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", got, "non JWE input is returned unchanged")

	token, err := Encrypt("secret", RSAOAEP, A128CBCHS256, key)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[4] = "AAAAAAAAAAAAAAAAAAAAAA"
	_, err = Decrypt(strings.Join(parts, "."), resolverFor(key))
	assert.ErrorIs(t, err, ErrDecryption)

	// header {"alg":"dir","enc":"A128GCM"}
	forged := "eyJhbGciOiJkaXIiLCJlbmMiOiJBMTI4R0NNIn0..AAAA.AAAA.AAAA"
	_, err = Decrypt(forged, resolverFor(key))
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = Decrypt(token, resolverFor())
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestParseAlgorithms(t *testing.T) {
	t.Parallel()

	_, ok := ParseJwsAlg("RS256")
	assert.True(t, ok)
	_, ok = ParseJwsAlg("none")
	assert.True(t, ok)
	_, ok = ParseJwsAlg("EdDSA")
	assert.False(t, ok)

	_, ok = ParseJweAlg("RSA-OAEP-256")
	assert.True(t, ok)
	_, ok = ParseJweAlg("ECDH-ES")
	assert.False(t, ok)

	_, ok = ParseJweEnc("A256CBC-HS512")
	assert.True(t, ok)
	_, ok = ParseJweEnc("A256GCM")
	assert.False(t, ok)
}

func TestLeftHalfHash(t *testing.T) {
	t.Parallel()

	// OpenID Connect Core, appendix A.3 example values
	assert.Equal(t, "77QmUPtjPfzWtF2AnpK9RQ",
		LeftHalfHash(RS256, "jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y"))
	assert.Len(t, LeftHalfHash(ES384, "x"), 32)
	assert.Len(t, LeftHalfHash(RS512, "x"), 43)
}

func TestPayloadHelpers(t *testing.T) {
	t.Parallel()

	p := Payload{"aud": []any{"a", "b", 3}, "exp": float64(42), "sub": "Alice", "flag": true}
	assert.Equal(t, []string{"a", "b"}, p.Audiences())
	n, ok := p.Int64("exp")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, "true", p.String("flag"))
	assert.True(t, p.EqualFold(Payload{"sub": "alice"}, "sub"))
	assert.False(t, p.EqualFold(Payload{}, "sub"))
	assert.True(t, p.EqualFold(Payload{}, "missing"))
}
