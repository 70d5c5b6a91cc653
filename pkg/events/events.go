// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events publishes the protocol milestones of the identity server.
// Publishing is fire-and-forget: the engine enqueues an event and moves on,
// a consumer goroutine hands it to the registered sinks.
package events

import (
	"time"

	"github.com/google/uuid"

	oerrors "github.com/stacklok/idserver/pkg/errors"
)

// Type identifies what happened.
type Type string

// Event types
const (
	AuthorizationRequestReceived Type = "AuthorizationRequestReceived"
	AuthorizationGranted         Type = "AuthorizationGranted"
	OpenIDErrorReceived          Type = "OpenIdErrorReceived"
	ConsentConfirmed             Type = "ConsentConfirmed"
	TokenGranted                 Type = "TokenGranted"
	TokenRevoked                 Type = "TokenRevoked"
	PermissionAdded              Type = "PermissionAdded"
	TicketApproved               Type = "UmaTicketApproved"
	RptIssued                    Type = "RptIssued"
	UMAPolicyNotSatisfied        Type = "UmaPolicyNotSatisfied"
	UMAErrorReceived             Type = "UmaErrorReceived"
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is a protocol milestone. Events of one request share a ProcessID.
type Event struct {
	ID         string         `json:"id"`
	ProcessID  string         `json:"processId"`
	Type       Type           `json:"type"`
	Outcome    string         `json:"outcome"`
	ClientID   string         `json:"clientId,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Error      *ErrorInfo     `json:"error,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// ErrorInfo is the protocol error carried by failure events.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	State   string `json:"state,omitempty"`
}

// New returns a successful event of type t for the process.
func New(processID string, t Type) *Event {
	return &Event{
		ID:         uuid.NewString(),
		ProcessID:  processID,
		Type:       t,
		Outcome:    OutcomeSuccess,
		OccurredAt: time.Now().UTC(),
	}
}

// NewProcessID returns a fresh correlation id.
func NewProcessID() string {
	return uuid.NewString()
}

// WithClient sets the client of the event.
func (e *Event) WithClient(clientID string) *Event {
	e.ClientID = clientID
	return e
}

// WithSubject sets the resource owner of the event.
func (e *Event) WithSubject(subject string) *Event {
	e.Subject = subject
	return e
}

// WithData adds a key to the event data.
func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	e.Data[key] = value
	return e
}

// WithError marks the event as failed. Non protocol errors are reported as
// unhandled_exception without their message.
func (e *Event) WithError(err error) *Event {
	e.Outcome = OutcomeFailure
	pe := oerrors.FromError(err, "")
	if pe == nil {
		return e
	}
	e.Error = &ErrorInfo{Code: pe.Code, Message: pe.Message, State: pe.State}
	return e
}
