// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/idserver/pkg/client"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/oauth"
)

// Engine looks up and records consents.
type Engine struct {
	store     Store
	validator *client.Validator
	now       func() time.Time
}

// NewEngine creates a consent engine.
func NewEngine(store Store, validator *client.Validator) *Engine {
	return &Engine{store: store, validator: validator, now: time.Now}
}

// GetConfirmedConsent returns the first consent of subject that covers the
// request, or nil. A consent covers a request when it belongs to the same
// client and holds every requested claim name, or every requested scope
// when no claims parameter was sent.
func (e *Engine) GetConfirmedConsent(
	ctx context.Context, subject string, p *oauth.AuthorizationParameter,
) (*Consent, error) {
	consents, err := e.store.GetBySubject(ctx, subject)
	if err != nil {
		return nil, oerrors.NewInternal("failed to read consents", err)
	}
	claimNames := p.RequestedClaimNames()
	scopes := p.Scopes()
	for _, c := range consents {
		if c.ClientID != p.ClientID {
			continue
		}
		if len(claimNames) > 0 {
			if containsAll(c.Claims, claimNames) {
				return c, nil
			}
			continue
		}
		if containsAll(c.GrantedScopes, scopes) {
			return c, nil
		}
	}
	return nil, nil
}

// AddConsent records the approval of subject for the request. The client
// and scopes are validated first and nothing is written on failure. A
// consent already covering the request is returned as is.
func (e *Engine) AddConsent(ctx context.Context, p *oauth.AuthorizationParameter, subject string) (*Consent, error) {
	c, err := e.validator.ValidateClientExist(ctx, p.ClientID, p.State)
	if err != nil {
		return nil, err
	}
	allowed, err := client.ValidateAllowedScopes(p.Scope, c, p.State)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(allowed, oauth.ScopeOpenID) {
		return nil, oerrors.NewInvalidRequest(fmt.Sprintf("the scope(s) %s are missing", oauth.ScopeOpenID), p.State)
	}

	existing, err := e.GetConfirmedConsent(ctx, subject, p)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	claims := p.RequestedClaimNames()
	if len(claims) == 0 {
		claims = oauth.ClaimsForScopes(allowed)
	}
	stored, err := e.store.Add(ctx, &Consent{
		ID:            uuid.NewString(),
		ClientID:      c.ID,
		Subject:       subject,
		GrantedScopes: allowed,
		Claims:        claims,
		CreatedAt:     e.now(),
	})
	if err != nil {
		return nil, oerrors.NewInternal("failed to store the consent", err)
	}
	logger.Debugw("consent recorded", "consent_id", stored.ID, "client_id", c.ID, "subject", subject)
	return stored, nil
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
