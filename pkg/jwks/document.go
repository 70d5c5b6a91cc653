// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jwks

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Document serializes the public form of keys as a JWK Set. Private
// material never leaves the process: RSA keys expose only n and e.
func Document(keys []*Key) ([]byte, error) {
	set := jwk.NewSet()
	for _, k := range keys {
		pub := k.Public()
		if pub == nil {
			continue
		}
		jk, err := toJWK(pub)
		if err != nil {
			return nil, fmt.Errorf("failed to export key %s: %w", k.Kid, err)
		}
		if err := set.AddKey(jk); err != nil {
			return nil, fmt.Errorf("failed to add key %s: %w", k.Kid, err)
		}
	}
	return json.Marshal(set)
}

func toJWK(k *Key) (jwk.Key, error) {
	jk, err := jwk.Import(k.Material)
	if err != nil {
		return nil, err
	}
	if err := jk.Set(jwk.KeyIDKey, k.Kid); err != nil {
		return nil, err
	}
	if err := jk.Set(jwk.KeyUsageKey, string(k.Use)); err != nil {
		return nil, err
	}
	ops := make(jwk.KeyOperationList, len(k.KeyOps))
	for i, op := range k.KeyOps {
		ops[i] = jwk.KeyOperation(op)
	}
	if err := jk.Set(jwk.KeyOpsKey, ops); err != nil {
		return nil, err
	}
	if k.Alg != "" {
		if err := jk.Set(jwk.AlgorithmKey, k.Alg); err != nil {
			return nil, err
		}
	}
	return jk, nil
}

// ParseSet reads a JWK Set, typically the jwks registered by a client.
// Keys without a "use" are assumed to be signature keys.
func ParseSet(data []byte) ([]*Key, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse JWK set: %w", err)
	}
	out := make([]*Key, 0, len(set.Keys))
	for _, jk := range set.Keys {
		kty, err := keyTypeOf(jk.Key)
		if err != nil {
			return nil, err
		}
		use := Usage(jk.Use)
		if use == "" {
			use = UsageSignature
		}
		k := &Key{
			Kid:      jk.KeyID,
			Kty:      kty,
			Use:      use,
			Alg:      jk.Algorithm,
			Material: jk.Key,
		}
		k.KeyOps = defaultKeyOps(k)
		out = append(out, k)
	}
	return out, nil
}

// FindByUse returns the first key with the given usage and, when alg is not
// empty, the given algorithm.
func FindByUse(keys []*Key, use Usage, alg string) (*Key, bool) {
	for _, k := range keys {
		if k.Use != use {
			continue
		}
		if alg == "" || k.Alg == "" || k.Alg == alg {
			return k, true
		}
	}
	return nil, false
}
