// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"time"

	"github.com/stacklok/idserver/pkg/jose"
)

// Principal is the resource owner as established by the external
// authentication collaborator. A nil or empty principal is anonymous.
type Principal struct {
	Subject         string
	Claims          jose.Payload
	AuthenticatedAt time.Time
	Amr             []string
	Acr             string
}

// IsAuthenticated reports whether p identifies a resource owner.
func (p *Principal) IsAuthenticated() bool {
	return p != nil && p.Subject != ""
}

// AuthenticatedWithin reports whether the authentication happened less
// than maxAge ago.
func (p *Principal) AuthenticatedWithin(maxAge time.Duration, now time.Time) bool {
	if !p.IsAuthenticated() || p.AuthenticatedAt.IsZero() {
		return false
	}
	return now.Sub(p.AuthenticatedAt) <= maxAge
}
