// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/networking"
)

const jwkSetMediaType = "application/jwk-set+json"

// KeyFetcher resolves the keys clients publish at their jwks_uri.
type KeyFetcher struct {
	http networking.HTTPClient
}

// NewKeyFetcher returns a fetcher using httpClient, normally one built by
// networking.ClientBuilder.
func NewKeyFetcher(httpClient networking.HTTPClient) *KeyFetcher {
	return &KeyFetcher{http: httpClient}
}

// Fetch downloads and parses the JWK Set at uri.
func (f *KeyFetcher) Fetch(ctx context.Context, uri string) ([]*jwks.Key, error) {
	raw, err := networking.FetchJSON[json.RawMessage](ctx, f.http, uri, networking.WithAccept(jwkSetMediaType))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks from %s: %w", uri, err)
	}
	keys, err := jwks.ParseSet(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid jwks at %s: %w", uri, err)
	}
	return keys, nil
}

// ResolveKeys replaces the keys of every client registered with a
// jwks_uri. Clients with inline keys are left untouched.
func (f *KeyFetcher) ResolveKeys(ctx context.Context, clients ...*Client) error {
	for _, c := range clients {
		if c.JWKSURI == "" {
			continue
		}
		keys, err := f.Fetch(ctx, c.JWKSURI)
		if err != nil {
			return fmt.Errorf("client %s: %w", c.ID, err)
		}
		c.JWKS = keys
		logger.Debugw("resolved client keys", "client_id", c.ID, "keys", len(keys))
	}
	return nil
}
