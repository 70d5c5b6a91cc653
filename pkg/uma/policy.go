// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/logger"
)

// Keys of the need_info details.
const (
	DetailRequestingPartyClaims = "requesting_party_claims"
	DetailRequiredClaims        = "required_claims"
	DetailRedirectUser          = "redirect_user"
	DetailClaimName             = "name"
	DetailClaimFriendlyName     = "friendly_name"
	DetailClaimIssuer           = "issuer"
)

// policyOutcome is the result of one rule, policy or ticket evaluation.
type policyOutcome struct {
	result  PolicyResult
	details map[string]any
}

var authorized = policyOutcome{result: Authorized}

// evaluation carries the request being authorized.
type evaluation struct {
	ticket      *Ticket
	line        TicketLine
	claimTokens []ClaimToken

	// claims are verified lazily, once per request
	claims    jose.Payload
	claimsErr error
	verified  bool
}

// policyEvaluator runs the policies of the resource sets bundled in a
// ticket.
type policyEvaluator struct {
	resourceSets ResourceSetRepository
	policies     PolicyRepository
	claimTokens  *claimTokenVerifier
	scripts      *scriptEngine
	issuer       string
}

// authorize evaluates every ticket line. All lines must be authorized; the
// first other outcome is returned.
func (p *policyEvaluator) authorize(ctx context.Context, ticket *Ticket, claimTokens []ClaimToken) (policyOutcome, error) {
	ids := make([]string, 0, len(ticket.Lines))
	for _, l := range ticket.Lines {
		ids = append(ids, l.ResourceSetID)
	}
	resourceSets, err := p.resourceSets.GetResourceSets(ctx, ids)
	if err != nil {
		return policyOutcome{}, fmt.Errorf("failed to read resource sets: %w", err)
	}

	e := &evaluation{ticket: ticket, claimTokens: claimTokens}
	for _, line := range ticket.Lines {
		idx := slices.IndexFunc(resourceSets, func(rs *ResourceSet) bool { return rs.ID == line.ResourceSetID })
		if idx < 0 {
			// the resource set was deleted after the ticket was issued
			return policyOutcome{result: NotAuthorized}, nil
		}
		policies, err := p.policies.GetPolicies(ctx, resourceSets[idx].PolicyIDs)
		if err != nil {
			return policyOutcome{}, fmt.Errorf("failed to read policies: %w", err)
		}
		e.line = line
		for _, policy := range policies {
			outcome, err := p.evaluatePolicy(e, policy)
			if err != nil {
				return policyOutcome{}, err
			}
			if outcome.result != Authorized {
				return outcome, nil
			}
		}
	}
	return authorized, nil
}

// evaluatePolicy returns Authorized when one rule authorizes, otherwise
// the outcome of the last rule.
func (p *policyEvaluator) evaluatePolicy(e *evaluation, policy *Policy) (policyOutcome, error) {
	if len(policy.Rules) == 0 {
		return authorized, nil
	}
	var outcome policyOutcome
	for i := range policy.Rules {
		var err error
		outcome, err = p.evaluateRule(e, &policy.Rules[i])
		if err != nil {
			return policyOutcome{}, err
		}
		if outcome.result == Authorized {
			return outcome, nil
		}
	}
	return outcome, nil
}

func (p *policyEvaluator) evaluateRule(e *evaluation, rule *PolicyRule) (policyOutcome, error) {
	for _, s := range e.line.Scopes {
		if !slices.Contains(rule.Scopes, s) {
			return policyOutcome{result: NotAuthorized}, nil
		}
	}
	if len(rule.ClientIDsAllowed) > 0 && !slices.Contains(rule.ClientIDsAllowed, e.ticket.ClientID) {
		return policyOutcome{result: NotAuthorized}, nil
	}
	if len(rule.Claims) > 0 {
		if outcome := p.checkClaims(e, rule.Claims); outcome.result != Authorized {
			return outcome, nil
		}
	}
	if rule.Script != nil {
		ok, err := p.scripts.evaluate(rule.Script, e, p.claimsOf(e))
		if err != nil {
			logger.Debugw("policy script failed", "rule", rule.ID, "error", err)
			return policyOutcome{result: NotAuthorized}, nil
		}
		if !ok {
			return policyOutcome{result: NotAuthorized}, nil
		}
	}
	if rule.IsResourceOwnerConsentNeeded && !e.ticket.IsAuthorizedByRo {
		return policyOutcome{result: RequestSubmitted}, nil
	}
	return authorized, nil
}

// checkClaims matches the required claims against the presented ID
// token. Without an ID token the caller is told which claims to bring.
func (p *policyEvaluator) checkClaims(e *evaluation, required []Claim) policyOutcome {
	if !slices.ContainsFunc(e.claimTokens, isIDToken) {
		return p.needInfo(required)
	}
	claims := p.claimsOf(e)
	if claims == nil {
		return policyOutcome{result: NotAuthorized}
	}
	for _, c := range required {
		if !claimMatches(claims, c) {
			return policyOutcome{result: NotAuthorized}
		}
	}
	return authorized
}

// claimsOf returns the verified claims of the first ID token claim token,
// or nil when there is none or it does not verify.
func (p *policyEvaluator) claimsOf(e *evaluation) jose.Payload {
	if e.verified {
		return e.claims
	}
	e.verified = true
	idx := slices.IndexFunc(e.claimTokens, isIDToken)
	if idx < 0 {
		return nil
	}
	e.claims, e.claimsErr = p.claimTokens.verify(e.claimTokens[idx].Token)
	if e.claimsErr != nil {
		logger.Debugw("claim token rejected", "ticket", e.ticket.ID, "error", e.claimsErr)
	}
	return e.claims
}

func (p *policyEvaluator) needInfo(required []Claim) policyOutcome {
	claims := make([]map[string]string, 0, len(required))
	for _, c := range required {
		claims = append(claims, map[string]string{
			DetailClaimName:         c.Type,
			DetailClaimFriendlyName: c.Type,
			DetailClaimIssuer:       p.issuer,
		})
	}
	return policyOutcome{
		result: NeedInfo,
		details: map[string]any{
			DetailRequestingPartyClaims: map[string]any{
				DetailRequiredClaims: claims,
				DetailRedirectUser:   false,
			},
		},
	}
}

func isIDToken(c ClaimToken) bool {
	return c.Format == ClaimTokenFormatIDToken
}

// claimMatches compares a required claim with the token. The role claim
// matches when the value is one of the roles, given as an array or as a
// comma separated string.
func claimMatches(claims jose.Payload, required Claim) bool {
	value, ok := claims[required.Type]
	if !ok {
		return false
	}
	if required.Type != jose.ClaimRole {
		return fmt.Sprint(value) == required.Value
	}
	if s, ok := value.(string); ok {
		return slices.Contains(strings.Split(s, ","), required.Value)
	}
	return slices.Contains(claims.Strings(jose.ClaimRole), required.Value)
}
