// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"slices"

	"github.com/stacklok/idserver/pkg/client"
	"github.com/stacklok/idserver/pkg/config"
	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/networking"
)

// NewKeyStore loads the configured key files. A key without a file is
// generated, so a configuration without paths runs on ephemeral keys.
func NewKeyStore(cfg config.Keys) (*jwks.Store, error) {
	opts := []jwks.StoreOption{
		jwks.WithSigningAlgorithm(cfg.SigningAlgorithm),
		jwks.WithEncryptionAlgorithm(cfg.EncryptionAlgorithm),
	}
	if cfg.GracePeriod > 0 {
		opts = append(opts, jwks.WithGracePeriod(cfg.GracePeriod))
	}

	if cfg.SigningKeyPath == "" && cfg.EncryptionKeyPath == "" {
		store, err := jwks.NewGeneratedStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to generate server keys: %w", err)
		}
		return store, nil
	}

	signing, err := loadOrGenerate(cfg.SigningKeyPath, jwks.UsageSignature, cfg.SigningAlgorithm)
	if err != nil {
		return nil, err
	}
	encryption, err := loadOrGenerate(cfg.EncryptionKeyPath, jwks.UsageEncryption, cfg.EncryptionAlgorithm)
	if err != nil {
		return nil, err
	}
	return jwks.NewStore([]*jwks.Key{signing, encryption}, opts...), nil
}

func loadOrGenerate(path string, use jwks.Usage, alg string) (*jwks.Key, error) {
	if path == "" {
		logger.Warnw("no key file configured, generating an ephemeral key", "use", use, "alg", alg)
		key, err := jwks.Generate(use, alg)
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s key: %w", use, err)
		}
		return key, nil
	}

	key, err := jwks.LoadPEM(path, use, alg)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s key from %s: %w", use, path, err)
	}
	logger.Infow("loaded server key", "use", use, "kid", key.Kid, "path", path)
	return key, nil
}

// resolveClientKeys fetches the keys of clients registered with a jwks_uri.
func resolveClientKeys(ctx context.Context, cfg config.HTTPClient, clients []*client.Client) error {
	if !slices.ContainsFunc(clients, func(c *client.Client) bool { return c.JWKSURI != "" }) {
		return nil
	}
	httpClient, err := networking.NewClientBuilder().
		WithTimeout(cfg.Timeout).
		WithCABundle(cfg.CABundlePath).
		WithPrivateIPs(cfg.AllowPrivateIPs).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}
	if err := client.NewKeyFetcher(httpClient).ResolveKeys(ctx, clients...); err != nil {
		return fmt.Errorf("failed to resolve client keys: %w", err)
	}
	return nil
}
