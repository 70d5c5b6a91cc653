// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/networking"
)

func TestKeyFetcher_ResolveKeys(t *testing.T) {
	t.Parallel()

	encKey, err := jwks.Generate(jwks.UsageEncryption, "RSA-OAEP")
	require.NoError(t, err)
	doc, err := jwks.Document([]*jwks.Key{encKey})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", jwkSetMediaType)
		_, _ = w.Write(doc)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", jwkSetMediaType)
		_, _ = w.Write([]byte(`{"keys":[{"kty":"XYZ"}]}`))
	})
	ts := httptest.NewTLSServer(mux)
	t.Cleanup(ts.Close)

	reg, err := Register(&RegistrationRequest{
		RedirectURIs:                []string{"https://app.example.com/cb"},
		JWKSURI:                     ts.URL + "/jwks",
		IDTokenEncryptedResponseAlg: "RSA-OAEP",
	}, serverScopes)
	require.NoError(t, err)
	withURI := reg.Client
	inline := &Client{ID: "inline", JWKS: []*jwks.Key{encKey.Public()}}

	assert.Nil(t, withURI.IDTokenEncryptionKey(), "keys are not known before resolution")

	fetcher := NewKeyFetcher(ts.Client())
	require.NoError(t, fetcher.ResolveKeys(context.Background(), withURI, inline))

	key := withURI.IDTokenEncryptionKey()
	require.NotNil(t, key)
	assert.Equal(t, encKey.Kid, key.Kid)
	assert.False(t, key.IsPrivate())
	assert.Len(t, inline.JWKS, 1)

	broken := &Client{ID: "broken", JWKSURI: ts.URL + "/broken"}
	assert.ErrorContains(t, fetcher.ResolveKeys(context.Background(), broken), "invalid jwks")

	missing := &Client{ID: "missing", JWKSURI: ts.URL + "/missing"}
	err = fetcher.ResolveKeys(context.Background(), missing)
	assert.True(t, networking.IsHTTPError(err, http.StatusNotFound))
}
