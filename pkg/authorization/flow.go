// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authorization drives OpenID Connect authorization requests: it
// classifies a request into a flow, walks the resource owner through
// authentication and consent, mints codes and tokens, and serves the token
// endpoint grants redeeming them.
package authorization

import (
	"slices"

	"github.com/stacklok/idserver/pkg/client"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/oauth"
)

// Flow is an OAuth2/OpenID authorization flow.
type Flow string

// Flows
const (
	AuthorizationCodeFlow Flow = "AuthorizationCodeFlow"
	ImplicitFlow          Flow = "ImplicitFlow"
	HybridFlow            Flow = "HybridFlow"
)

var flowTable = []struct {
	types []oauth.ResponseType
	flow  Flow
}{
	{[]oauth.ResponseType{oauth.ResponseTypeCode}, AuthorizationCodeFlow},
	{[]oauth.ResponseType{oauth.ResponseTypeIDToken}, ImplicitFlow},
	{[]oauth.ResponseType{oauth.ResponseTypeIDToken, oauth.ResponseTypeToken}, ImplicitFlow},
	{[]oauth.ResponseType{oauth.ResponseTypeCode, oauth.ResponseTypeIDToken}, HybridFlow},
	{[]oauth.ResponseType{oauth.ResponseTypeCode, oauth.ResponseTypeToken}, HybridFlow},
	{[]oauth.ResponseType{oauth.ResponseTypeCode, oauth.ResponseTypeIDToken, oauth.ResponseTypeToken}, HybridFlow},
}

// GetFlow maps the set of requested response types to a flow. The order of
// the response types does not matter. An empty or unknown combination is
// invalid_request bound to state.
func GetFlow(responseTypes []oauth.ResponseType, state string) (Flow, error) {
	if len(responseTypes) == 0 {
		return "", oerrors.NewInvalidRequest("the parameter response_type is missing", state)
	}
	for _, entry := range flowTable {
		if sameSet(entry.types, responseTypes) {
			return entry.flow, nil
		}
	}
	return "", oerrors.NewInvalidRequest("the response_type parameter doesn't match any authorization flow", state)
}

func sameSet(want, got []oauth.ResponseType) bool {
	seen := make([]oauth.ResponseType, 0, len(got))
	for _, rt := range got {
		if !slices.Contains(want, rt) {
			return false
		}
		if !slices.Contains(seen, rt) {
			seen = append(seen, rt)
		}
	}
	return len(seen) == len(want)
}

// DefaultResponseMode is the response mode of a flow when the request does
// not set one.
func (f Flow) DefaultResponseMode() oauth.ResponseMode {
	if f == AuthorizationCodeFlow {
		return oauth.ResponseModeQuery
	}
	return oauth.ResponseModeFragment
}

// ResponseMode returns the explicit response mode of the request or the
// flow default.
func (f Flow) ResponseMode(p *oauth.AuthorizationParameter) oauth.ResponseMode {
	if p.ResponseMode != "" {
		return p.ResponseMode
	}
	return f.DefaultResponseMode()
}

// grantTypes lists the grant types the client must support to run the flow.
func (f Flow) grantTypes() []client.GrantType {
	switch f {
	case AuthorizationCodeFlow:
		return []client.GrantType{client.GrantAuthorizationCode}
	case ImplicitFlow:
		return []client.GrantType{client.GrantImplicit}
	default:
		return []client.GrantType{client.GrantAuthorizationCode, client.GrantImplicit}
	}
}

// requiresNonce reports whether the flow returns an ID token from the
// authorization endpoint, in which case nonce is mandatory.
func (f Flow) requiresNonce(p *oauth.AuthorizationParameter) bool {
	return f != AuthorizationCodeFlow && p.HasResponseType(oauth.ResponseTypeIDToken)
}
