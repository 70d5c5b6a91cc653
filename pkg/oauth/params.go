// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth contains the OAuth 2.0 and OpenID Connect request model
// shared by the authorization engine: authorization parameters, response
// types, prompts and the claims request parameter.
package oauth

import (
	"slices"
	"strings"
	"time"
)

// ResponseType is one token class of the response_type parameter.
type ResponseType string

// Response types
const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeToken   ResponseType = "token"
	ResponseTypeIDToken ResponseType = "id_token"
)

// Prompt is one value of the prompt parameter.
type Prompt string

// Prompts
const (
	PromptNone          Prompt = "none"
	PromptLogin         Prompt = "login"
	PromptConsent       Prompt = "consent"
	PromptSelectAccount Prompt = "select_account"
)

// ResponseMode tells how the authorization response reaches the client.
type ResponseMode string

// Response modes
const (
	ResponseModeNone     ResponseMode = ""
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFragment ResponseMode = "fragment"
	ResponseModeFormPost ResponseMode = "form_post"
)

// CodeChallengeMethod is the PKCE transformation.
type CodeChallengeMethod string

// PKCE methods
const (
	CodeChallengePlain CodeChallengeMethod = "plain"
	CodeChallengeS256  CodeChallengeMethod = "S256"
)

// ScopeOpenID is the scope that turns an OAuth2 request into an OpenID one.
const ScopeOpenID = "openid"

// AuthorizationParameter is a parsed authorization request. It is built by
// the transport layer and never mutated by the engine.
type AuthorizationParameter struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	Prompt              string
	ResponseMode        ResponseMode
	CodeChallenge       string
	CodeChallengeMethod CodeChallengeMethod
	// MaxAge is the allowed elapsed time since the last authentication,
	// nil when the parameter was not sent
	MaxAge      *time.Duration
	IDTokenHint string
	LoginHint   string
	AcrValues   string
	UILocales   string
	Claims      *ClaimsParameter
}

// ResponseTypes splits the response_type parameter.
func (p *AuthorizationParameter) ResponseTypes() []ResponseType {
	return ParseResponseTypes(p.ResponseType)
}

// Scopes splits the scope parameter.
func (p *AuthorizationParameter) Scopes() []string {
	return ParseScopes(p.Scope)
}

// Prompts splits the prompt parameter.
func (p *AuthorizationParameter) Prompts() []Prompt {
	fields := strings.Fields(p.Prompt)
	out := make([]Prompt, 0, len(fields))
	for _, f := range fields {
		out = append(out, Prompt(f))
	}
	return out
}

// HasPrompt reports whether prompt contains value.
func (p *AuthorizationParameter) HasPrompt(value Prompt) bool {
	return slices.Contains(p.Prompts(), value)
}

// HasResponseType reports whether response_type contains rt.
func (p *AuthorizationParameter) HasResponseType(rt ResponseType) bool {
	return slices.Contains(p.ResponseTypes(), rt)
}

// RequestedClaimNames returns the claim names of the claims parameter.
func (p *AuthorizationParameter) RequestedClaimNames() []string {
	if p.Claims == nil {
		return nil
	}
	return p.Claims.Names()
}

// ParseScopes splits a space delimited scope string, dropping duplicates.
func ParseScopes(scope string) []string {
	return uniqueFields(scope)
}

// ParseResponseTypes splits a space delimited response_type string.
func ParseResponseTypes(value string) []ResponseType {
	fields := uniqueFields(value)
	out := make([]ResponseType, len(fields))
	for i, f := range fields {
		out[i] = ResponseType(f)
	}
	return out
}

// JoinScopes joins scopes with a space.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func uniqueFields(value string) []string {
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}
