// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/oauth"
)

// Validator checks authorization requests against the client registry.
type Validator struct {
	registry Registry
}

// NewValidator creates a validator reading from registry.
func NewValidator(registry Registry) *Validator {
	return &Validator{registry: registry}
}

// ValidateClientExist returns the client registered as clientID. An
// unknown client is invalid_client.
func (v *Validator) ValidateClientExist(ctx context.Context, clientID, state string) (*Client, error) {
	if clientID == "" {
		return nil, oerrors.NewInvalidRequest("the parameter client_id is missing", state)
	}
	c, err := v.registry.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oerrors.NewInvalidClient(fmt.Sprintf("the client id %s doesn't exist", clientID), state)
		}
		return nil, oerrors.NewInternal("failed to read the client registry", err)
	}
	return c, nil
}

// ValidateRedirectionURL checks that url is one of the client redirect
// URIs. Only exact matches are accepted.
func ValidateRedirectionURL(url string, c *Client, state string) error {
	if url == "" {
		return oerrors.NewInvalidRequest("the parameter redirect_uri is missing", state)
	}
	if !c.HasRedirectURI(url) {
		return oerrors.NewInvalidRequest(fmt.Sprintf("the redirect url %s doesn't exist", url), state)
	}
	return nil
}

// ValidateAllowedScopes splits scope and checks it against the client.
// openid is mandatory and its absence is checked before anything else, so
// a request without it is always invalid_request.
func ValidateAllowedScopes(scope string, c *Client, state string) ([]string, error) {
	requested := oauth.ParseScopes(scope)
	if len(requested) == 0 {
		return nil, oerrors.NewInvalidRequest("the parameter scope is missing", state)
	}
	if !slices.Contains(requested, oauth.ScopeOpenID) {
		return nil, oerrors.NewInvalidRequest(fmt.Sprintf("the scope(s) %s are missing", oauth.ScopeOpenID), state)
	}

	allowed := make([]string, 0, len(requested))
	var rejected []string
	for _, s := range requested {
		if slices.Contains(c.AllowedScopes, s) {
			allowed = append(allowed, s)
		} else {
			rejected = append(rejected, s)
		}
	}
	if len(rejected) > 0 {
		return nil, oerrors.NewInvalidScope(
			fmt.Sprintf("the scopes %s are not allowed or invalid", strings.Join(rejected, ",")), state)
	}
	return allowed, nil
}

// ValidateResponseTypes checks that the client may use every requested
// response type.
func ValidateResponseTypes(types []oauth.ResponseType, c *Client, state string) error {
	if !c.SupportsResponseTypes(types) {
		return oerrors.NewInvalidRequest(
			fmt.Sprintf("the client '%s' doesn't support the response type: '%s'", c.ID, joinResponseTypes(types)), state)
	}
	return nil
}

// ValidatePKCE enforces the PKCE requirement of the client: both
// code_challenge and code_challenge_method must be present.
func ValidatePKCE(p *oauth.AuthorizationParameter, c *Client) error {
	if !c.RequirePKCE {
		return nil
	}
	if p.CodeChallenge == "" || p.CodeChallengeMethod == "" {
		return oerrors.NewInvalidRequest(fmt.Sprintf("the client %s requires PKCE", c.ID), p.State)
	}
	switch p.CodeChallengeMethod {
	case oauth.CodeChallengePlain, oauth.CodeChallengeS256:
		return nil
	default:
		return oerrors.NewInvalidRequest(
			fmt.Sprintf("the code_challenge_method %s is not supported", p.CodeChallengeMethod), p.State)
	}
}

func joinResponseTypes(types []oauth.ResponseType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, " ")
}
