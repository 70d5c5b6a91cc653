// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/stacklok/idserver/pkg/client"
	"github.com/stacklok/idserver/pkg/uma"
)

// BuildClient turns a configured client into a registered client. The
// metadata goes through the same checks as a dynamic registration.
func BuildClient(cfg Client, scopesSupported []string) (*client.Client, error) {
	req := &client.RegistrationRequest{
		RedirectURIs:                 cfg.RedirectURIs,
		ClientName:                   cfg.Name,
		TokenEndpointAuthMethod:      cfg.TokenEndpointAuthMethod,
		GrantTypes:                   cfg.GrantTypes,
		ResponseTypes:                cfg.ResponseTypes,
		RequirePKCE:                  cfg.RequirePKCE,
		IDTokenSignedResponseAlg:     cfg.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg:  cfg.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc:  cfg.IDTokenEncryptedResponseEnc,
		UserInfoSignedResponseAlg:    cfg.UserInfoSignedResponseAlg,
		UserInfoEncryptedResponseAlg: cfg.UserInfoEncryptedResponseAlg,
		UserInfoEncryptedResponseEnc: cfg.UserInfoEncryptedResponseEnc,
		JWKSURI:                      cfg.JWKSURI,
	}
	if len(cfg.AllowedScopes) > 0 {
		req.Scope = strings.Join(cfg.AllowedScopes, " ")
	}

	reg, err := client.Register(req, scopesSupported)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", cfg.ID, err)
	}

	c := reg.Client
	c.ID = cfg.ID
	c.SecretHash = nil
	c.Secret = ""
	if c.TokenEndpointAuthMethod != client.AuthMethodNone {
		if err := c.SetSecret(cfg.Secret); err != nil {
			return nil, fmt.Errorf("client %s: %w", cfg.ID, err)
		}
	}
	return c, nil
}

// BuildClients converts every configured client.
func (c *Config) BuildClients() ([]*client.Client, error) {
	out := make([]*client.Client, 0, len(c.Clients))
	for _, cl := range c.Clients {
		built, err := BuildClient(cl, c.ScopesSupported)
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return out, nil
}

// UMARepository loads the configured resource sets and policies.
func (c *Config) UMARepository() *uma.MemoryRepository {
	sets := make([]*uma.ResourceSet, 0, len(c.UMA.ResourceSets))
	for i := range c.UMA.ResourceSets {
		rs := c.UMA.ResourceSets[i]
		sets = append(sets, &rs)
	}
	policies := make([]*uma.Policy, 0, len(c.UMA.Policies))
	for i := range c.UMA.Policies {
		p := c.UMA.Policies[i]
		policies = append(policies, &p)
	}
	return uma.NewMemoryRepository(sets, policies)
}
