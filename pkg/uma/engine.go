// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/events"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/storage"
)

// Default lifetimes
const (
	DefaultTicketLifetime = time.Hour
	DefaultRptLifetime    = time.Hour
)

// Handler is the UMA surface consumed by the transport.
type Handler interface {
	AddPermission(ctx context.Context, clientID string, permissions []PermissionRequest) (string, error)
	GetAuthorization(ctx context.Context, clientID string, req *AuthorizationRequest) (*AuthorizationResponse, error)
	Introspect(ctx context.Context, rpt string) (*Rpt, error)
	ApproveTicket(ctx context.Context, ticketID string) error
}

// Config holds the settings of the UMA engine.
type Config struct {
	// Issuer is the issuer expected in claim tokens and advertised in
	// need_info details
	Issuer         string
	TicketLifetime time.Duration
	RptLifetime    time.Duration
}

// Dependencies are the collaborators of the UMA engine.
type Dependencies struct {
	ResourceSets ResourceSetRepository
	Policies     PolicyRepository
	Tickets      TicketStore
	Rpts         RptStore
	Keys         KeyStore
	Publisher    events.Publisher
}

// Engine implements Handler.
type Engine struct {
	resourceSets   ResourceSetRepository
	tickets        TicketStore
	rpts           RptStore
	evaluator      *policyEvaluator
	publisher      events.Publisher
	ticketLifetime time.Duration
	rptLifetime    time.Duration
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates the UMA engine.
func NewEngine(cfg Config, deps Dependencies, opts ...Option) *Engine {
	if cfg.TicketLifetime <= 0 {
		cfg.TicketLifetime = DefaultTicketLifetime
	}
	if cfg.RptLifetime <= 0 {
		cfg.RptLifetime = DefaultRptLifetime
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	e := &Engine{
		resourceSets:   deps.ResourceSets,
		tickets:        deps.Tickets,
		rpts:           deps.Rpts,
		publisher:      publisher,
		ticketLifetime: cfg.TicketLifetime,
		rptLifetime:    cfg.RptLifetime,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = &policyEvaluator{
		resourceSets: deps.ResourceSets,
		policies:     deps.Policies,
		claimTokens: &claimTokenVerifier{
			issuer: cfg.Issuer,
			keys:   deps.Keys,
			now:    func() time.Time { return e.now() },
		},
		scripts: newScriptEngine(),
		issuer:  cfg.Issuer,
	}
	return e
}

// ValidateScript compiles a policy script without evaluating it.
func (e *Engine) ValidateScript(script *Script) error {
	return e.evaluator.scripts.Validate(script)
}

// ValidateScript compiles a policy script with a throwaway engine. It is
// used to check configuration before an Engine exists.
func ValidateScript(script *Script) error {
	return newScriptEngine().Validate(script)
}

// AddPermission registers the permissions requested by clientID and
// returns the id of a ticket bundling all of them.
func (e *Engine) AddPermission(ctx context.Context, clientID string, permissions []PermissionRequest) (string, error) {
	processID := events.NewProcessID()
	ticket, err := e.addPermission(ctx, clientID, permissions)
	if err != nil {
		return "", e.failure(ctx, processID, clientID, err)
	}

	lines := make([]map[string]any, 0, len(ticket.Lines))
	for _, l := range ticket.Lines {
		lines = append(lines, map[string]any{"resource_set_id": l.ResourceSetID, "scopes": l.Scopes})
	}
	e.publisher.Publish(ctx, events.New(processID, events.PermissionAdded).
		WithClient(clientID).
		WithData("ticket_id", ticket.ID).
		WithData("permissions", lines))
	return ticket.ID, nil
}

func (e *Engine) addPermission(ctx context.Context, clientID string, permissions []PermissionRequest) (*Ticket, error) {
	if clientID == "" {
		return nil, oerrors.NewInvalidRequest("the parameter client_id is missing", "")
	}
	if len(permissions) == 0 {
		return nil, oerrors.NewInvalidRequest("at least one permission is required", "")
	}
	if err := e.checkPermissions(ctx, permissions); err != nil {
		return nil, err
	}

	now := e.now()
	ticket := &Ticket{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		CreatedAt: now,
		ExpiresAt: now.Add(e.ticketLifetime),
		Lines:     make([]TicketLine, 0, len(permissions)),
	}
	for _, p := range permissions {
		ticket.Lines = append(ticket.Lines, TicketLine{ResourceSetID: p.ResourceSetID, Scopes: p.Scopes})
	}
	if err := e.tickets.AddTicket(ctx, ticket); err != nil {
		return nil, oerrors.NewInternal("the ticket cannot be stored", err)
	}
	return ticket, nil
}

func (e *Engine) checkPermissions(ctx context.Context, permissions []PermissionRequest) error {
	ids := make([]string, 0, len(permissions))
	for _, p := range permissions {
		ids = append(ids, p.ResourceSetID)
	}
	resourceSets, err := e.resourceSets.GetResourceSets(ctx, ids)
	if err != nil {
		return oerrors.NewInternal("the resource sets cannot be retrieved", err)
	}
	byID := make(map[string]*ResourceSet, len(resourceSets))
	for _, rs := range resourceSets {
		byID[rs.ID] = rs
	}

	for _, p := range permissions {
		if p.ResourceSetID == "" {
			return oerrors.NewInvalidRequest("the parameter resource_set_id needs to be specified", "")
		}
		if len(p.Scopes) == 0 {
			return oerrors.NewInvalidRequest("the parameter scopes needs to be specified", "")
		}
		rs, ok := byID[p.ResourceSetID]
		if !ok {
			return oerrors.NewInvalidResourceSetID(p.ResourceSetID)
		}
		if !rs.HasScopes(p.Scopes) {
			return oerrors.NewInvalidScope("one or more scopes are not valid", "")
		}
	}
	return nil
}

// GetAuthorization evaluates the policies protecting the resource sets of
// the ticket against the presented claims. An RPT is minted only when the
// result is Authorized and the ticket is consumed by it; other results can
// be retried with more claims until the ticket expires.
func (e *Engine) GetAuthorization(
	ctx context.Context, clientID string, req *AuthorizationRequest,
) (*AuthorizationResponse, error) {
	processID := events.NewProcessID()
	resp, ticket, err := e.getAuthorization(ctx, clientID, req)
	if err != nil {
		return nil, e.failure(ctx, processID, clientID, err)
	}

	t := events.RptIssued
	if resp.Result != Authorized {
		t = events.UMAPolicyNotSatisfied
	}
	e.publisher.Publish(ctx, events.New(processID, t).
		WithClient(clientID).
		WithData("ticket_id", ticket.ID).
		WithData("result", string(resp.Result)))
	return resp, nil
}

func (e *Engine) getAuthorization(
	ctx context.Context, clientID string, req *AuthorizationRequest,
) (*AuthorizationResponse, *Ticket, error) {
	if req == nil || req.TicketID == "" {
		return nil, nil, oerrors.NewInvalidRequest("the parameter ticket needs to be specified", "")
	}
	ticket, err := e.tickets.GetTicket(ctx, req.TicketID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, oerrors.NewInvalidTicket("the ticket " + req.TicketID + " doesn't exist")
		}
		return nil, nil, oerrors.NewInternal("the ticket cannot be retrieved", err)
	}
	if ticket.ClientID != clientID {
		return nil, nil, oerrors.NewInvalidTicket("the ticket issuer is different from the client")
	}
	if ticket.IsExpired(e.now()) {
		return nil, nil, oerrors.NewExpiredTicket()
	}

	outcome, err := e.evaluator.authorize(ctx, ticket, req.ClaimTokens)
	if err != nil {
		return nil, nil, oerrors.NewInternal("the authorization policies cannot be evaluated", err)
	}
	if outcome.result != Authorized {
		logger.Debugw("uma request is not authorized", "ticket", ticket.ID, "result", outcome.result)
		return &AuthorizationResponse{Result: outcome.result, ErrorDetails: outcome.details}, ticket, nil
	}

	// Whoever removes the ticket owns the RPT.
	if err := e.tickets.RemoveTicket(ctx, ticket.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, oerrors.NewInvalidTicket("the ticket " + ticket.ID + " has already been used")
		}
		return nil, nil, oerrors.NewInternal("the ticket cannot be consumed", err)
	}

	now := e.now()
	rpt := &Rpt{
		Value:       uuid.NewString(),
		TicketID:    ticket.ID,
		ClientID:    ticket.ClientID,
		Permissions: cloneLines(ticket.Lines),
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.rptLifetime),
	}
	if len(ticket.Lines) > 0 {
		rpt.ResourceSetID = ticket.Lines[0].ResourceSetID
	}
	if err := e.rpts.AddRpt(ctx, rpt); err != nil {
		return nil, nil, oerrors.NewInternal("the rpt cannot be inserted", err)
	}
	return &AuthorizationResponse{Result: Authorized, Rpt: rpt.Value}, ticket, nil
}

// ApproveTicket records the resource owner's approval of the ticket, which
// satisfies the rules that need the owner's consent.
func (e *Engine) ApproveTicket(ctx context.Context, ticketID string) error {
	processID := events.NewProcessID()
	ticket, err := e.approveTicket(ctx, ticketID)
	if err != nil {
		clientID := ""
		if ticket != nil {
			clientID = ticket.ClientID
		}
		return e.failure(ctx, processID, clientID, err)
	}
	e.publisher.Publish(ctx, events.New(processID, events.TicketApproved).
		WithClient(ticket.ClientID).
		WithData("ticket_id", ticket.ID))
	return nil
}

func (e *Engine) approveTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	if ticketID == "" {
		return nil, oerrors.NewInvalidRequest("the parameter ticket needs to be specified", "")
	}
	ticket, err := e.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerrors.NewInvalidTicket("the ticket " + ticketID + " doesn't exist")
		}
		return nil, oerrors.NewInternal("the ticket cannot be retrieved", err)
	}
	if ticket.IsExpired(e.now()) {
		return ticket, oerrors.NewExpiredTicket()
	}
	if err := e.tickets.ApproveTicket(ctx, ticketID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ticket, oerrors.NewInvalidTicket("the ticket " + ticketID + " doesn't exist")
		}
		return ticket, oerrors.NewInternal("the ticket cannot be approved", err)
	}
	return ticket, nil
}

// Introspect returns the RPT when it is active.
func (e *Engine) Introspect(ctx context.Context, value string) (*Rpt, error) {
	if value == "" {
		return nil, oerrors.NewInvalidRequest("the parameter rpt needs to be specified", "")
	}
	rpt, err := e.rpts.GetRpt(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerrors.NewInvalidToken("the rpt is not valid")
		}
		return nil, oerrors.NewInternal("the rpt cannot be retrieved", err)
	}
	if rpt.IsExpired(e.now()) {
		return nil, oerrors.NewInvalidToken("the rpt is expired")
	}
	return rpt, nil
}

// failure converts err to a protocol error and publishes it.
func (e *Engine) failure(ctx context.Context, processID, clientID string, err error) *oerrors.Error {
	pe := oerrors.FromError(err, "")
	switch pe.Code {
	case oerrors.ErrInternal, oerrors.ErrUnhandledException:
		logger.Errorw("uma request failed", "process_id", processID, "client_id", clientID, "error", err)
	default:
		logger.Debugw("uma request rejected", "process_id", processID, "client_id", clientID, "error", pe)
	}
	e.publisher.Publish(ctx, events.New(processID, events.UMAErrorReceived).
		WithClient(clientID).
		WithError(pe))
	return pe
}

var _ Handler = (*Engine)(nil)
