// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the OAuth2, OpenID Connect and UMA protocol errors
// returned by the identity server engine.
//
// Errors that may be delivered to a client redirect URI carry the caller's
// state value so the boundary can still build a compliant error redirect.
package errors

import (
	"errors"
	"fmt"
)

// Protocol error codes
const (
	// ErrInvalidRequest is returned when a required parameter is missing or malformed
	ErrInvalidRequest = "invalid_request"

	// ErrInvalidClient is returned when the client is unknown or failed authentication
	ErrInvalidClient = "invalid_client"

	// ErrInvalidGrant is returned when an authorization code or refresh token is not valid
	ErrInvalidGrant = "invalid_grant"

	// ErrInvalidScope is returned when a requested scope is not allowed
	ErrInvalidScope = "invalid_scope"

	// ErrUnauthorizedClient is returned when the client may not use a grant
	ErrUnauthorizedClient = "unauthorized_client"

	// ErrUnsupportedGrantType is returned when the grant type is not handled
	ErrUnsupportedGrantType = "unsupported_grant_type"

	// ErrInvalidToken is returned when an access token is unknown or expired
	ErrInvalidToken = "invalid_token"

	// ErrLoginRequired is returned for prompt=none without an authenticated session
	ErrLoginRequired = "login_required"

	// ErrInteractionRequired is returned for prompt=none when consent is still needed
	ErrInteractionRequired = "interaction_required"

	// ErrInvalidTicket is returned when a UMA ticket is unknown or was issued to another client
	ErrInvalidTicket = "invalid_ticket"

	// ErrExpiredTicket is returned when a UMA ticket is past its expiration
	ErrExpiredTicket = "expired_ticket"

	// ErrInvalidResourceSetID is returned when a permission references an unknown resource set
	ErrInvalidResourceSetID = "invalid_resource_set_id"

	// ErrInternal is returned when a store or collaborator fails
	ErrInternal = "internal_error"

	// ErrUnhandledException is the code surfaced for unexpected failures
	ErrUnhandledException = "unhandled_exception"
)

// Error is a protocol error.
type Error struct {
	// Code is one of the protocol error codes
	Code string

	// Message is the error description returned to the caller
	Message string

	// State is the state value of the request, empty when unknown
	State string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Redirectable reports whether the error carries a state value and can be
// delivered to the client redirect URI.
func (e *Error) Redirectable() bool {
	return e.State != ""
}

// WithState returns a copy of the error bound to the given state.
func (e *Error) WithState(state string) *Error {
	cp := *e
	cp.State = state
	return &cp
}

// NewError creates a new error
func NewError(code, message, state string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		State:   state,
		Cause:   cause,
	}
}

// NewInvalidRequest creates a new invalid_request error
func NewInvalidRequest(message, state string) *Error {
	return NewError(ErrInvalidRequest, message, state, nil)
}

// NewInvalidClient creates a new invalid_client error
func NewInvalidClient(message, state string) *Error {
	return NewError(ErrInvalidClient, message, state, nil)
}

// NewInvalidGrant creates a new invalid_grant error
func NewInvalidGrant(message string) *Error {
	return NewError(ErrInvalidGrant, message, "", nil)
}

// NewInvalidScope creates a new invalid_scope error
func NewInvalidScope(message, state string) *Error {
	return NewError(ErrInvalidScope, message, state, nil)
}

// NewUnauthorizedClient creates a new unauthorized_client error
func NewUnauthorizedClient(message string) *Error {
	return NewError(ErrUnauthorizedClient, message, "", nil)
}

// NewUnsupportedGrantType creates a new unsupported_grant_type error
func NewUnsupportedGrantType(grantType string) *Error {
	return NewError(ErrUnsupportedGrantType, fmt.Sprintf("the grant type %s is not supported", grantType), "", nil)
}

// NewInvalidToken creates a new invalid_token error
func NewInvalidToken(message string) *Error {
	return NewError(ErrInvalidToken, message, "", nil)
}

// NewLoginRequired creates a new login_required error
func NewLoginRequired(state string) *Error {
	return NewError(ErrLoginRequired, "the user needs to be authenticated", state, nil)
}

// NewInteractionRequired creates a new interaction_required error
func NewInteractionRequired(state string) *Error {
	return NewError(ErrInteractionRequired, "the user needs to give his consent", state, nil)
}

// NewInvalidTicket creates a new invalid_ticket error
func NewInvalidTicket(message string) *Error {
	return NewError(ErrInvalidTicket, message, "", nil)
}

// NewExpiredTicket creates a new expired_ticket error
func NewExpiredTicket() *Error {
	return NewError(ErrExpiredTicket, "the ticket is expired", "", nil)
}

// NewInvalidResourceSetID creates a new invalid_resource_set_id error
func NewInvalidResourceSetID(resourceSetID string) *Error {
	return NewError(ErrInvalidResourceSetID, fmt.Sprintf("resource set %s doesn't exist", resourceSetID), "", nil)
}

// NewInternal creates a new internal_error error
func NewInternal(message string, cause error) *Error {
	return NewError(ErrInternal, message, "", cause)
}

// NewUnhandled wraps an unexpected error. The message never exposes the cause.
func NewUnhandled(state string, cause error) *Error {
	return NewError(ErrUnhandledException, "an unhandled exception occurred", state, cause)
}

// As extracts a protocol error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// FromError returns err as a protocol error, mapping anything else to
// unhandled_exception bound to state.
func FromError(err error, state string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return NewUnhandled(state, err)
}

// HasCode checks if the error is a protocol error with the given code
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// IsInvalidRequest checks if the error is an invalid_request error
func IsInvalidRequest(err error) bool {
	return HasCode(err, ErrInvalidRequest)
}

// IsInvalidClient checks if the error is an invalid_client error
func IsInvalidClient(err error) bool {
	return HasCode(err, ErrInvalidClient)
}

// IsInvalidScope checks if the error is an invalid_scope error
func IsInvalidScope(err error) bool {
	return HasCode(err, ErrInvalidScope)
}

// IsLoginRequired checks if the error is a login_required error
func IsLoginRequired(err error) bool {
	return HasCode(err, ErrLoginRequired)
}

// IsInvalidGrant checks if the error is an invalid_grant error
func IsInvalidGrant(err error) bool {
	return HasCode(err, ErrInvalidGrant)
}

// IsInvalidTicket checks if the error is an invalid_ticket error
func IsInvalidTicket(err error) bool {
	return HasCode(err, ErrInvalidTicket)
}

// IsExpiredTicket checks if the error is an expired_ticket error
func IsExpiredTicket(err error) bool {
	return HasCode(err, ErrExpiredTicket)
}
