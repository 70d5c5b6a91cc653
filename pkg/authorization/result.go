// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/stacklok/idserver/pkg/consent"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/oauth"
)

// Redirect parameter names
const (
	ParamCode             = "code"
	ParamAccessToken      = "access_token"
	ParamIDToken          = "id_token"
	ParamTokenType        = "token_type"
	ParamExpiresIn        = "expires_in"
	ParamState            = "state"
	ParamScope            = "scope"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
)

// ErrFormPost is returned by Location for form_post responses, which are
// rendered as an auto-submitted form rather than a redirect.
var ErrFormPost = errors.New("form_post responses have no location")

// ResultType tells where the resource owner is sent next.
type ResultType int

const (
	// RedirectToCallback sends the resource owner back to the client
	RedirectToCallback ResultType = iota
	// RedirectToAction sends the resource owner to a server page
	RedirectToAction
)

// Action is a server page the resource owner is sent to.
type Action string

// Actions
const (
	ActionAuthenticate Action = "authenticate"
	ActionConsent      Action = "consent"
)

// ActionResult is the outcome of an authorization step.
type ActionResult struct {
	Type ResultType
	// Action is set for RedirectToAction
	Action Action
	// ContinuationCode identifies the stored in-flight request for
	// RedirectToAction
	ContinuationCode string

	ProcessID    string
	RedirectURI  string
	ResponseMode oauth.ResponseMode
	Parameters   url.Values

	consent *consent.Consent
}

func callbackResult(redirectURI string) *ActionResult {
	return &ActionResult{Type: RedirectToCallback, RedirectURI: redirectURI, Parameters: url.Values{}}
}

func actionResult(action Action, continuation string) *ActionResult {
	return &ActionResult{Type: RedirectToAction, Action: action, ContinuationCode: continuation, Parameters: url.Values{}}
}

// ErrorResult builds the error redirect sent to the client callback.
func ErrorResult(err *oerrors.Error, redirectURI string, mode oauth.ResponseMode) *ActionResult {
	r := callbackResult(redirectURI)
	r.ResponseMode = mode
	r.Parameters.Set(ParamError, err.Code)
	r.Parameters.Set(ParamErrorDescription, err.Message)
	if err.State != "" {
		r.Parameters.Set(ParamState, err.State)
	}
	return r
}

// Location returns the client callback URL carrying the parameters in the
// query or the fragment, depending on the response mode.
func (r *ActionResult) Location() (string, error) {
	if r.Type != RedirectToCallback {
		return "", fmt.Errorf("result redirects to the %s action", r.Action)
	}
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	switch r.ResponseMode {
	case oauth.ResponseModeFormPost:
		return "", ErrFormPost
	case oauth.ResponseModeFragment:
		u.Fragment, u.RawFragment = "", ""
		return u.String() + "#" + r.Parameters.Encode(), nil
	default:
		q := u.Query()
		for k, values := range r.Parameters {
			for _, v := range values {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
