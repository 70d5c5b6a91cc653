// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Registered and OpenID claim names used by the engine
const (
	ClaimIssuer          = "iss"
	ClaimSubject         = "sub"
	ClaimAudience        = "aud"
	ClaimExpiration      = "exp"
	ClaimIssuedAt        = "iat"
	ClaimAuthTime        = "auth_time"
	ClaimNonce           = "nonce"
	ClaimAcr             = "acr"
	ClaimAmr             = "amr"
	ClaimAzp             = "azp"
	ClaimAccessTokenHash = "at_hash"
	ClaimCodeHash        = "c_hash"
	ClaimRole            = "role"
)

// Payload is a JWS claims set.
type Payload map[string]any

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// String returns the claim as a string. Non string values are rendered
// with their JSON form.
func (p Payload) String(name string) string {
	v, ok := p[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Subject returns the "sub" claim.
func (p Payload) Subject() string {
	return p.String(ClaimSubject)
}

// Audiences returns the "aud" claim, which may be a string or an array.
func (p Payload) Audiences() []string {
	return p.Strings(ClaimAudience)
}

// Strings returns a claim holding a string or an array of strings.
func (p Payload) Strings(name string) []string {
	switch v := p[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Int64 returns a numeric claim.
func (p Payload) Int64(name string) (int64, bool) {
	switch v := p[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// EqualFold reports whether the claim values are equal ignoring case.
func (p Payload) EqualFold(other Payload, name string) bool {
	_, inP := p[name]
	_, inOther := other[name]
	if inP != inOther {
		return false
	}
	return strings.EqualFold(p.String(name), other.String(name))
}
