// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package uma implements the UMA 2.0 permission and authorization
// endpoints: a resource server registers the permissions a client asked
// for and receives a ticket, the client then presents the ticket with its
// claims and obtains a requesting party token (RPT) once the policies of
// the resource sets are satisfied.
package uma

import (
	"context"
	"slices"
	"time"
)

//go:generate mockgen -destination=mocks/mock_repositories.go -package=mocks -source=types.go ResourceSetRepository,PolicyRepository

// ResourceSet is a set of resources protected by the authorization server.
type ResourceSet struct {
	ID     string   `json:"_id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	URI    string   `json:"uri,omitempty" yaml:"uri,omitempty"`
	Type   string   `json:"type,omitempty" yaml:"type,omitempty"`
	Scopes []string `json:"scopes" yaml:"scopes"`
	// PolicyIDs are the policies a requesting party must satisfy
	PolicyIDs []string `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// HasScopes reports whether every scope is declared by the resource set.
func (r *ResourceSet) HasScopes(scopes []string) bool {
	for _, s := range scopes {
		if !slices.Contains(r.Scopes, s) {
			return false
		}
	}
	return true
}

// Policy groups the rules protecting resource sets. A policy is satisfied
// as soon as one of its rules authorizes the request; a policy without
// rules authorizes everything.
type Policy struct {
	ID    string       `json:"id" yaml:"id"`
	Rules []PolicyRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// PolicyRule is a basic claim matching rule, optionally extended with a
// script evaluated after the basic checks passed.
type PolicyRule struct {
	ID string `json:"id" yaml:"id"`
	// Scopes are the scopes the rule grants
	Scopes []string `json:"scopes" yaml:"scopes"`
	// ClientIDsAllowed restricts the requesting clients, empty allows all
	ClientIDsAllowed []string `json:"clients,omitempty" yaml:"clients,omitempty"`
	// Claims must all be present in the presented ID token
	Claims []Claim `json:"claims,omitempty" yaml:"claims,omitempty"`
	// IsResourceOwnerConsentNeeded parks the request until the resource
	// owner approves the ticket
	IsResourceOwnerConsentNeeded bool    `json:"consent_needed,omitempty" yaml:"consentNeeded,omitempty"`
	Script                       *Script `json:"script,omitempty" yaml:"script,omitempty"`
}

// Claim is a claim required by a rule.
type Claim struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// ScriptLanguage is the language of a policy script.
type ScriptLanguage string

// Supported script languages
const (
	ScriptCEL   ScriptLanguage = "cel"
	ScriptCedar ScriptLanguage = "cedar"
)

// Script is a custom policy expression.
//
// A CEL script is a boolean expression over the variables claims,
// client_id, resource_set_id and scopes. A Cedar script is a policy set
// evaluated once per requested scope with principal Client::"<client id>",
// action Scope::"<scope>" and resource ResourceSet::"<id>"; the claims are
// the request context.
type Script struct {
	Language ScriptLanguage `json:"language" yaml:"language"`
	Source   string         `json:"source" yaml:"source"`
}

// TicketLine is a permission bundled in a ticket.
type TicketLine struct {
	ResourceSetID string   `json:"resource_set_id"`
	Scopes        []string `json:"scopes"`
}

// Ticket is a permission ticket handed to the client by the resource
// server.
type Ticket struct {
	ID        string       `json:"id"`
	ClientID  string       `json:"client_id"`
	Lines     []TicketLine `json:"lines"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	// IsAuthorizedByRo is set once the resource owner approved the ticket
	IsAuthorizedByRo bool `json:"is_authorized_by_ro,omitempty"`
}

// IsExpired reports whether the ticket is expired at now.
func (t *Ticket) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Rpt is a requesting party token. ResourceSetID is the resource set of
// the first ticket line; Permissions lists all of them.
type Rpt struct {
	Value         string       `json:"value"`
	TicketID      string       `json:"ticket_id"`
	ResourceSetID string       `json:"resource_set_id"`
	ClientID      string       `json:"client_id"`
	Permissions   []TicketLine `json:"permissions"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// IsExpired reports whether the RPT is expired at now.
func (r *Rpt) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// PermissionRequest is one entry of a permission registration.
type PermissionRequest struct {
	ResourceSetID string   `json:"resource_set_id"`
	Scopes        []string `json:"scopes"`
}

// ClaimTokenFormatIDToken is the format of an OpenID Connect ID token
// presented as claim token.
const ClaimTokenFormatIDToken = "http://openid.net/specs/openid-connect-core-1_0.html#IDToken"

// ClaimToken is a token carrying claims about the requesting party.
type ClaimToken struct {
	Format string `json:"format"`
	Token  string `json:"token"`
}

// AuthorizationRequest asks for an RPT in exchange of a ticket.
type AuthorizationRequest struct {
	TicketID    string       `json:"ticket"`
	ClaimTokens []ClaimToken `json:"claim_tokens,omitempty"`
}

// PolicyResult is the outcome of the policy evaluation.
type PolicyResult string

// Policy results
const (
	Authorized       PolicyResult = "authorized"
	NotAuthorized    PolicyResult = "not_authorized"
	NeedInfo         PolicyResult = "need_info"
	RequestSubmitted PolicyResult = "request_submitted"
)

// AuthorizationResponse is returned by GetAuthorization. Rpt is set only
// when Result is Authorized.
type AuthorizationResponse struct {
	Result       PolicyResult   `json:"authorization_policy_result"`
	Rpt          string         `json:"rpt,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

// ResourceSetRepository reads the registered resource sets.
type ResourceSetRepository interface {
	// GetResourceSets returns the resource sets found among ids. Unknown
	// ids are skipped.
	GetResourceSets(ctx context.Context, ids []string) ([]*ResourceSet, error)
}

// PolicyRepository reads authorization policies.
type PolicyRepository interface {
	// GetPolicies returns the policies found among ids. Unknown ids are
	// skipped.
	GetPolicies(ctx context.Context, ids []string) ([]*Policy, error)
}

// TicketStore persists permission tickets. Expired tickets stay
// retrievable for a retention window so they can be reported as expired.
type TicketStore interface {
	AddTicket(ctx context.Context, ticket *Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	// RemoveTicket returns storage.ErrNotFound when the ticket is already
	// gone, so only one caller can consume a ticket.
	RemoveTicket(ctx context.Context, id string) error
	// ApproveTicket sets IsAuthorizedByRo on the ticket.
	ApproveTicket(ctx context.Context, id string) error
}

// RptStore persists issued RPTs.
type RptStore interface {
	AddRpt(ctx context.Context, rpt *Rpt) error
	GetRpt(ctx context.Context, value string) (*Rpt, error)
}
