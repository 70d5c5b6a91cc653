// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/uma"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// Validate checks the field constraints and the cross references of the
// configuration.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	checks := []func() error{
		c.validateIssuer,
		c.validateKeys,
		c.validateStorage,
		c.validateClients,
		c.validateUMA,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (c *Config) validateIssuer() error {
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("issuer: %w", err)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("issuer %s must not carry a query or fragment", c.Issuer)
	}
	return nil
}

func (c *Config) validateKeys() error {
	alg, ok := jose.ParseJwsAlg(c.Keys.SigningAlgorithm)
	if !ok || alg == jose.None || alg.Symmetric() {
		return fmt.Errorf("keys.signingAlgorithm %q is not an asymmetric signature algorithm", c.Keys.SigningAlgorithm)
	}
	enc, ok := jose.ParseJweAlg(c.Keys.EncryptionAlgorithm)
	if !ok || !strings.HasPrefix(string(enc), "RSA") {
		return fmt.Errorf("keys.encryptionAlgorithm %q is not an RSA key management algorithm", c.Keys.EncryptionAlgorithm)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Type == StorageRedis && len(c.Storage.Redis.Addrs) == 0 {
		return errors.New("storage.redis.addrs is required for the redis backend")
	}
	return nil
}

func (c *Config) validateClients() error {
	seen := make(map[string]struct{}, len(c.Clients))
	for _, cl := range c.Clients {
		if _, dup := seen[cl.ID]; dup {
			return fmt.Errorf("client %s is declared twice", cl.ID)
		}
		seen[cl.ID] = struct{}{}

		if cl.TokenEndpointAuthMethod != "none" && cl.Secret == "" {
			return fmt.Errorf("client %s needs a secret or tokenEndpointAuthMethod none", cl.ID)
		}
		for _, scope := range cl.AllowedScopes {
			if !slices.Contains(c.ScopesSupported, scope) {
				return fmt.Errorf("client %s allows unsupported scope %s", cl.ID, scope)
			}
		}
	}
	return nil
}

func (c *Config) validateUMA() error {
	policies := make(map[string]struct{}, len(c.UMA.Policies))
	for i := range c.UMA.Policies {
		p := &c.UMA.Policies[i]
		if p.ID == "" {
			return fmt.Errorf("uma.policies[%d] has no id", i)
		}
		if _, dup := policies[p.ID]; dup {
			return fmt.Errorf("policy %s is declared twice", p.ID)
		}
		policies[p.ID] = struct{}{}

		for j := range p.Rules {
			if script := p.Rules[j].Script; script != nil {
				if err := uma.ValidateScript(script); err != nil {
					return fmt.Errorf("policy %s rule %d: %w", p.ID, j, err)
				}
			}
		}
	}

	sets := make(map[string]struct{}, len(c.UMA.ResourceSets))
	for i := range c.UMA.ResourceSets {
		rs := &c.UMA.ResourceSets[i]
		if rs.ID == "" {
			return fmt.Errorf("uma.resourceSets[%d] has no id", i)
		}
		if _, dup := sets[rs.ID]; dup {
			return fmt.Errorf("resource set %s is declared twice", rs.ID)
		}
		sets[rs.ID] = struct{}{}

		if len(rs.Scopes) == 0 {
			return fmt.Errorf("resource set %s declares no scopes", rs.ID)
		}
		for _, id := range rs.PolicyIDs {
			if _, ok := policies[id]; !ok {
				return fmt.Errorf("resource set %s references unknown policy %s", rs.ID, id)
			}
		}
	}
	return nil
}
