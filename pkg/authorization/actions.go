// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
	"time"

	"github.com/stacklok/idserver/pkg/client"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/events"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/storage"
	"github.com/stacklok/idserver/pkg/token"
)

// Default lifetimes
const (
	DefaultAuthorizationCodeLifetime = 10 * time.Minute
	DefaultContinuationLifetime      = 30 * time.Minute
)

// Handler is the authorization server surface consumed by the transport.
type Handler interface {
	GetAuthorization(ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal) (*ActionResult, error)
	ConfirmConsent(ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal) (*ActionResult, error)
	Resume(ctx context.Context, continuationCode string) (*oauth.AuthorizationParameter, error)
	Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error)
	Revoke(ctx context.Context, req *RevocationRequest) error
	GetUserInformation(ctx context.Context, accessToken string) (*UserInfo, error)
}

// Config holds the settings of the authorization actions.
type Config struct {
	// Issuer is the server identifier put in ID tokens
	Issuer string
	// AuthorizationCodeLifetime bounds the time between the authorization
	// redirect and the code redemption
	AuthorizationCodeLifetime time.Duration
	// ContinuationLifetime bounds the time spent on the login and consent
	// pages
	ContinuationLifetime time.Duration
}

// Dependencies are the collaborators of the authorization actions.
type Dependencies struct {
	Clients   client.Registry
	Consents  ConsentEngine
	Store     storage.Storage
	Tokens    *token.Generator
	Keys      KeyStore
	Publisher events.Publisher
}

// Actions implements Handler.
type Actions struct {
	validator *client.Validator
	consents  ConsentEngine
	store     storage.Storage
	tokens    *token.Generator
	publisher events.Publisher
	processor *processor
	responses *responseGenerator
	now       func() time.Time
}

// Option configures Actions.
type Option func(*Actions)

// WithClock overrides the clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(a *Actions) {
		a.now = now
	}
}

// NewActions creates the authorization actions.
func NewActions(cfg Config, deps Dependencies, opts ...Option) *Actions {
	if cfg.AuthorizationCodeLifetime <= 0 {
		cfg.AuthorizationCodeLifetime = DefaultAuthorizationCodeLifetime
	}
	if cfg.ContinuationLifetime <= 0 {
		cfg.ContinuationLifetime = DefaultContinuationLifetime
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	a := &Actions{
		validator: client.NewValidator(deps.Clients),
		consents:  deps.Consents,
		store:     deps.Store,
		tokens:    deps.Tokens,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	now := func() time.Time { return a.now() }
	a.processor = &processor{
		consents:             deps.Consents,
		continuations:        deps.Store,
		hints:                &hintVerifier{issuer: cfg.Issuer, keys: deps.Keys},
		continuationLifetime: cfg.ContinuationLifetime,
		now:                  now,
	}
	a.responses = &responseGenerator{
		tokens:       deps.Tokens,
		store:        deps.Store,
		codeLifetime: cfg.AuthorizationCodeLifetime,
		now:          now,
	}
	return a
}

// GetAuthorization runs an authorization request. On success the result
// redirects to the client callback or to the authenticate or consent
// action. A failure returns the protocol error; when the redirect URI of
// the request has been validated an error redirect is returned with it.
func (a *Actions) GetAuthorization(
	ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal,
) (*ActionResult, error) {
	processID := events.NewProcessID()
	a.publisher.Publish(ctx, events.New(processID, events.AuthorizationRequestReceived).
		WithClient(p.ClientID).
		WithSubject(subjectOf(principal)).
		WithData("response_type", p.ResponseType).
		WithData("scope", p.Scope))

	var flow Flow
	c, err := a.validator.ValidateClientExist(ctx, p.ClientID, p.State)
	if err == nil {
		err = client.ValidatePKCE(p, c)
	}
	if err == nil {
		flow, err = GetFlow(p.ResponseTypes(), p.State)
	}
	var result *ActionResult
	if err == nil {
		result, err = a.execute(ctx, flow, p, principal, c)
	}
	if err != nil {
		return a.authorizationFailure(ctx, processID, p, c, flow, err)
	}
	return a.granted(ctx, processID, p, principal, flow, result), nil
}

// ConfirmConsent records the consent of the authenticated resource owner
// and completes the request.
func (a *Actions) ConfirmConsent(
	ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal,
) (*ActionResult, error) {
	processID := events.NewProcessID()
	a.publisher.Publish(ctx, events.New(processID, events.AuthorizationRequestReceived).
		WithClient(p.ClientID).
		WithSubject(subjectOf(principal)).
		WithData("action", string(ActionConsent)))

	var (
		flow   Flow
		result *ActionResult
	)
	c, err := a.validator.ValidateClientExist(ctx, p.ClientID, p.State)
	if err == nil {
		flow, result, err = a.confirmConsent(ctx, p, principal, c)
	}
	if err != nil {
		return a.authorizationFailure(ctx, processID, p, c, flow, err)
	}
	a.publisher.Publish(ctx, events.New(processID, events.ConsentConfirmed).
		WithClient(p.ClientID).
		WithSubject(principal.Subject).
		WithData("scope", p.Scope))
	return a.granted(ctx, processID, p, principal, flow, result), nil
}

func (a *Actions) confirmConsent(
	ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal, c *client.Client,
) (Flow, *ActionResult, error) {
	if !principal.IsAuthenticated() {
		return "", nil, oerrors.NewLoginRequired(p.State)
	}
	if err := client.ValidateRedirectionURL(p.RedirectURI, c, p.State); err != nil {
		return "", nil, err
	}
	if err := client.ValidatePKCE(p, c); err != nil {
		return "", nil, err
	}
	flow, err := GetFlow(p.ResponseTypes(), p.State)
	if err != nil {
		return "", nil, err
	}
	if err := checkFlowPrerequisites(flow, p, c); err != nil {
		return flow, nil, err
	}
	if err := client.ValidateResponseTypes(p.ResponseTypes(), c, p.State); err != nil {
		return flow, nil, err
	}
	confirmed, err := a.consents.AddConsent(ctx, p, principal.Subject)
	if err != nil {
		return flow, nil, err
	}

	result := callbackResult(p.RedirectURI)
	result.consent = confirmed
	if err := a.responses.generate(ctx, result, flow, p, principal, c); err != nil {
		return flow, nil, err
	}
	return flow, result, nil
}

// Resume returns the request carried by a continuation code. The code can
// be used once.
func (a *Actions) Resume(ctx context.Context, continuationCode string) (*oauth.AuthorizationParameter, error) {
	return a.processor.resume(ctx, continuationCode)
}

func (a *Actions) granted(
	ctx context.Context, processID string, p *oauth.AuthorizationParameter,
	principal *oauth.Principal, flow Flow, result *ActionResult,
) *ActionResult {
	result.ProcessID = processID
	e := events.New(processID, events.AuthorizationGranted).
		WithClient(p.ClientID).
		WithSubject(subjectOf(principal)).
		WithData("flow", string(flow))
	if result.Type == RedirectToAction {
		e.WithData("action", string(result.Action))
	}
	a.publisher.Publish(ctx, e)
	return result
}

// authorizationFailure publishes the error and builds the error redirect
// when the client and its redirect URI are known.
func (a *Actions) authorizationFailure(
	ctx context.Context, processID string, p *oauth.AuthorizationParameter, c *client.Client, flow Flow, err error,
) (*ActionResult, error) {
	pe := a.failure(ctx, processID, p.ClientID, err, p.State)
	if c == nil || !c.HasRedirectURI(p.RedirectURI) {
		return nil, pe
	}
	if pe.State == "" && p.State != "" {
		pe = pe.WithState(p.State)
	}
	mode := p.ResponseMode
	if flow != "" {
		mode = flow.ResponseMode(p)
	}
	result := ErrorResult(pe, p.RedirectURI, mode)
	result.ProcessID = processID
	return result, pe
}

// failure converts err to a protocol error and publishes it. Errors that
// are not protocol errors are logged and reported as unhandled_exception.
func (a *Actions) failure(ctx context.Context, processID, clientID string, err error, state string) *oerrors.Error {
	pe := oerrors.FromError(err, state)
	switch pe.Code {
	case oerrors.ErrUnhandledException, oerrors.ErrInternal:
		logger.Errorw("authorization request failed", "process_id", processID, "client_id", clientID, "error", err)
	default:
		logger.Debugw("authorization request rejected", "process_id", processID, "client_id", clientID, "error", pe)
	}
	a.publisher.Publish(ctx, events.New(processID, events.OpenIDErrorReceived).
		WithClient(clientID).
		WithError(pe))
	return pe
}

func subjectOf(principal *oauth.Principal) string {
	if !principal.IsAuthenticated() {
		return ""
	}
	return principal.Subject
}

var _ Handler = (*Actions)(nil)
