// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/idserver/pkg/authorization"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/uma"
)

const instrumentationName = "github.com/stacklok/idserver/pkg/telemetry"

// Metric names
const (
	MetricRequests        = "idserver_requests"
	MetricRequestDuration = "idserver_request_duration"
)

// Attribute keys
const (
	AttrOperation = "idserver.operation"
	AttrClientID  = "idserver.client_id"
	AttrOutcome   = "idserver.outcome"
	AttrErrorCode = "idserver.error_code"
	AttrResult    = "idserver.result"
)

// instruments records one span and one measurement per operation.
type instruments struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(tracerProvider trace.TracerProvider, meterProvider metric.MeterProvider) (*instruments, error) {
	meter := meterProvider.Meter(instrumentationName)
	requests, err := meter.Int64Counter(
		MetricRequests,
		metric.WithDescription("Total number of protocol operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricRequests, err)
	}
	duration, err := meter.Float64Histogram(
		MetricRequestDuration,
		metric.WithDescription("Duration of protocol operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s histogram: %w", MetricRequestDuration, err)
	}
	return &instruments{
		tracer:   tracerProvider.Tracer(instrumentationName),
		requests: requests,
		duration: duration,
	}, nil
}

// observe runs fn inside a span and records its outcome.
func (i *instruments) observe(
	ctx context.Context, operation, clientID string, fn func(ctx context.Context) ([]attribute.KeyValue, error),
) error {
	ctx, span := i.tracer.Start(ctx, operation, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	start := time.Now()
	extra, err := fn(ctx)

	attrs := []attribute.KeyValue{
		attribute.String(AttrOperation, operation),
		attribute.String(AttrClientID, clientID),
	}
	attrs = append(attrs, extra...)
	if err != nil {
		code := oerrors.FromError(err, "").Code
		attrs = append(attrs,
			attribute.String(AttrOutcome, "failure"),
			attribute.String(AttrErrorCode, code))
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	} else {
		attrs = append(attrs, attribute.String(AttrOutcome, "success"))
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attrs...)

	set := metric.WithAttributes(attrs...)
	i.requests.Add(ctx, 1, set)
	i.duration.Record(ctx, time.Since(start).Seconds(), set)
	return err
}

// AuthorizationHandler decorates an authorization.Handler with traces and
// metrics.
type AuthorizationHandler struct {
	next authorization.Handler
	inst *instruments
}

// NewAuthorizationHandler wraps next.
func NewAuthorizationHandler(
	next authorization.Handler, tracerProvider trace.TracerProvider, meterProvider metric.MeterProvider,
) (*AuthorizationHandler, error) {
	inst, err := newInstruments(tracerProvider, meterProvider)
	if err != nil {
		return nil, err
	}
	return &AuthorizationHandler{next: next, inst: inst}, nil
}

// GetAuthorization implements authorization.Handler.
func (h *AuthorizationHandler) GetAuthorization(
	ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal,
) (result *authorization.ActionResult, err error) {
	err = h.inst.observe(ctx, "authorization.get_authorization", p.ClientID,
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			result, err = h.next.GetAuthorization(ctx, p, principal)
			return actionAttributes(result), err
		})
	return result, err
}

// ConfirmConsent implements authorization.Handler.
func (h *AuthorizationHandler) ConfirmConsent(
	ctx context.Context, p *oauth.AuthorizationParameter, principal *oauth.Principal,
) (result *authorization.ActionResult, err error) {
	err = h.inst.observe(ctx, "authorization.confirm_consent", p.ClientID,
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			result, err = h.next.ConfirmConsent(ctx, p, principal)
			return actionAttributes(result), err
		})
	return result, err
}

// Resume implements authorization.Handler.
func (h *AuthorizationHandler) Resume(
	ctx context.Context, continuationCode string,
) (p *oauth.AuthorizationParameter, err error) {
	err = h.inst.observe(ctx, "authorization.resume", "",
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			p, err = h.next.Resume(ctx, continuationCode)
			return nil, err
		})
	return p, err
}

// Token implements authorization.Handler.
func (h *AuthorizationHandler) Token(
	ctx context.Context, req *authorization.TokenRequest,
) (resp *authorization.TokenResponse, err error) {
	err = h.inst.observe(ctx, "authorization.token", req.ClientID,
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			resp, err = h.next.Token(ctx, req)
			return []attribute.KeyValue{attribute.String("oauth.grant_type", string(req.GrantType))}, err
		})
	return resp, err
}

// Revoke implements authorization.Handler.
func (h *AuthorizationHandler) Revoke(ctx context.Context, req *authorization.RevocationRequest) error {
	return h.inst.observe(ctx, "authorization.revoke", req.ClientID,
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			return nil, h.next.Revoke(ctx, req)
		})
}

// GetUserInformation implements authorization.Handler.
func (h *AuthorizationHandler) GetUserInformation(
	ctx context.Context, accessToken string,
) (info *authorization.UserInfo, err error) {
	err = h.inst.observe(ctx, "authorization.userinfo", "",
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			info, err = h.next.GetUserInformation(ctx, accessToken)
			return nil, err
		})
	return info, err
}

func actionAttributes(result *authorization.ActionResult) []attribute.KeyValue {
	if result == nil || result.Type != authorization.RedirectToAction {
		return nil
	}
	return []attribute.KeyValue{attribute.String(AttrResult, string(result.Action))}
}

// UMAHandler decorates a uma.Handler with traces and metrics.
type UMAHandler struct {
	next uma.Handler
	inst *instruments
}

// NewUMAHandler wraps next.
func NewUMAHandler(
	next uma.Handler, tracerProvider trace.TracerProvider, meterProvider metric.MeterProvider,
) (*UMAHandler, error) {
	inst, err := newInstruments(tracerProvider, meterProvider)
	if err != nil {
		return nil, err
	}
	return &UMAHandler{next: next, inst: inst}, nil
}

// AddPermission implements uma.Handler.
func (h *UMAHandler) AddPermission(
	ctx context.Context, clientID string, permissions []uma.PermissionRequest,
) (ticketID string, err error) {
	err = h.inst.observe(ctx, "uma.add_permission", clientID,
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			ticketID, err = h.next.AddPermission(ctx, clientID, permissions)
			return []attribute.KeyValue{attribute.Int("uma.permissions", len(permissions))}, err
		})
	return ticketID, err
}

// GetAuthorization implements uma.Handler.
func (h *UMAHandler) GetAuthorization(
	ctx context.Context, clientID string, req *uma.AuthorizationRequest,
) (resp *uma.AuthorizationResponse, err error) {
	err = h.inst.observe(ctx, "uma.get_authorization", clientID,
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			resp, err = h.next.GetAuthorization(ctx, clientID, req)
			if resp == nil {
				return nil, err
			}
			return []attribute.KeyValue{attribute.String(AttrResult, string(resp.Result))}, err
		})
	return resp, err
}

// Introspect implements uma.Handler.
func (h *UMAHandler) Introspect(ctx context.Context, value string) (rpt *uma.Rpt, err error) {
	err = h.inst.observe(ctx, "uma.introspect", "",
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			rpt, err = h.next.Introspect(ctx, value)
			return nil, err
		})
	return rpt, err
}

// ApproveTicket implements uma.Handler.
func (h *UMAHandler) ApproveTicket(ctx context.Context, ticketID string) error {
	return h.inst.observe(ctx, "uma.approve_ticket", "",
		func(ctx context.Context) ([]attribute.KeyValue, error) {
			return nil, h.next.ApproveTicket(ctx, ticketID)
		})
}

var (
	_ authorization.Handler = (*AuthorizationHandler)(nil)
	_ uma.Handler           = (*UMAHandler)(nil)
)
