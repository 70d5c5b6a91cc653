// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/idserver/pkg/client"
	"github.com/stacklok/idserver/pkg/consent"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/storage"
)

//go:generate mockgen -destination=mocks/mock_consent.go -package=mocks -source=process.go ConsentEngine

// ConsentEngine looks up and records resource owner consents.
type ConsentEngine interface {
	GetConfirmedConsent(ctx context.Context, subject string, p *oauth.AuthorizationParameter) (*consent.Consent, error)
	AddConsent(ctx context.Context, p *oauth.AuthorizationParameter, subject string) (*consent.Consent, error)
}

var knownPrompts = []oauth.Prompt{oauth.PromptNone, oauth.PromptLogin, oauth.PromptConsent, oauth.PromptSelectAccount}

// processor decides whether a request can complete or needs the resource
// owner to authenticate or consent first.
type processor struct {
	consents             ConsentEngine
	continuations        storage.ContinuationStore
	hints                *hintVerifier
	continuationLifetime time.Duration
	now                  func() time.Time
}

// process validates the request against the client and returns either a
// callback result bound to the confirmed consent, or a redirect to the
// authenticate or consent action carrying a continuation code.
func (pr *processor) process(
	ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal, c *client.Client,
) (*ActionResult, error) {
	if err := client.ValidateRedirectionURL(p.RedirectURI, c, p.State); err != nil {
		return nil, err
	}
	if _, err := client.ValidateAllowedScopes(p.Scope, c, p.State); err != nil {
		return nil, err
	}
	if err := client.ValidateResponseTypes(p.ResponseTypes(), c, p.State); err != nil {
		return nil, err
	}
	if err := validatePrompts(p); err != nil {
		return nil, err
	}

	if p.MaxAge != nil && !principal.AuthenticatedWithin(*p.MaxAge, pr.now()) {
		principal = nil
	}
	if p.IDTokenHint != "" {
		if err := pr.checkHint(ctx, p, principal, c); err != nil {
			return nil, err
		}
	}

	authenticated := principal.IsAuthenticated()
	var confirmed *consent.Consent
	if authenticated {
		var err error
		confirmed, err = pr.consents.GetConfirmedConsent(ctx, principal.Subject, p)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case p.HasPrompt(oauth.PromptNone):
		if !authenticated {
			return nil, oerrors.NewLoginRequired(p.State)
		}
		if confirmed == nil {
			return nil, oerrors.NewInteractionRequired(p.State)
		}
	case p.HasPrompt(oauth.PromptLogin), p.HasPrompt(oauth.PromptSelectAccount):
		return pr.redirectTo(ctx, ActionAuthenticate, p)
	case p.HasPrompt(oauth.PromptConsent):
		if !authenticated {
			return pr.redirectTo(ctx, ActionAuthenticate, p)
		}
		return pr.redirectTo(ctx, ActionConsent, p)
	default:
		if !authenticated {
			return pr.redirectTo(ctx, ActionAuthenticate, p)
		}
		if confirmed == nil {
			return pr.redirectTo(ctx, ActionConsent, p)
		}
	}

	result := callbackResult(p.RedirectURI)
	result.consent = confirmed
	return result, nil
}

func validatePrompts(p *oauth.AuthorizationParameter) error {
	prompts := p.Prompts()
	for _, prompt := range prompts {
		if !slices.Contains(knownPrompts, prompt) {
			return oerrors.NewInvalidRequest(fmt.Sprintf("the prompt value %s is not supported", prompt), p.State)
		}
	}
	if slices.Contains(prompts, oauth.PromptNone) && len(prompts) > 1 {
		return oerrors.NewInvalidRequest("prompt none cannot be combined with other values", p.State)
	}
	return nil
}

func (pr *processor) checkHint(
	ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal, c *client.Client,
) error {
	subject, err := pr.hints.subject(ctx, p.IDTokenHint, c)
	if err != nil {
		logger.Debugw("rejected id_token_hint", "client_id", c.ID, "error", err)
		return oerrors.NewInvalidRequest("the id_token_hint parameter is not a valid token", p.State)
	}
	if principal.IsAuthenticated() && subject != principal.Subject {
		return oerrors.NewInvalidRequest("the current authenticated user doesn't match with the identity token", p.State)
	}
	return nil
}

// redirectTo stores the in-flight request and redirects to action. The
// login prompts are satisfied by the redirect itself and are not replayed
// when the request resumes.
func (pr *processor) redirectTo(ctx context.Context, action Action, p *oauth.AuthorizationParameter) (*ActionResult, error) {
	resumed := *p
	if action == ActionAuthenticate {
		resumed.Prompt = withoutPrompts(p, oauth.PromptLogin, oauth.PromptSelectAccount)
	}
	now := pr.now()
	cont := &storage.Continuation{
		Code:      uuid.NewString(),
		Parameter: &resumed,
		CreatedAt: now,
		ExpiresAt: now.Add(pr.continuationLifetime),
	}
	if err := pr.continuations.AddContinuation(ctx, cont); err != nil {
		return nil, oerrors.NewInternal("failed to store the continuation", err)
	}
	return actionResult(action, cont.Code), nil
}

func withoutPrompts(p *oauth.AuthorizationParameter, drop ...oauth.Prompt) string {
	kept := make([]string, 0)
	for _, prompt := range p.Prompts() {
		if !slices.Contains(drop, prompt) {
			kept = append(kept, string(prompt))
		}
	}
	return strings.Join(kept, " ")
}

// resume consumes a continuation code and returns the request it carries.
func (pr *processor) resume(ctx context.Context, code string) (*oauth.AuthorizationParameter, error) {
	if code == "" {
		return nil, oerrors.NewInvalidRequest("the continuation code is missing", "")
	}
	cont, err := pr.continuations.ConsumeContinuation(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerrors.NewInvalidRequest("the continuation code is not valid", "")
		}
		return nil, oerrors.NewInternal("failed to read the continuation", err)
	}
	if cont.IsExpired(pr.now()) {
		return nil, oerrors.NewInvalidRequest("the continuation code is expired", cont.Parameter.State)
	}
	return cont.Parameter, nil
}
