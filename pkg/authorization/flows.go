// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
	"fmt"

	"github.com/stacklok/idserver/pkg/client"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/oauth"
)

// checkFlowPrerequisites rejects requests the client may not run with the
// flow, and implicit or hybrid requests returning an ID token without a
// nonce.
func checkFlowPrerequisites(flow Flow, p *oauth.AuthorizationParameter, c *client.Client) error {
	for _, gt := range flow.grantTypes() {
		if !c.SupportsGrantType(gt) {
			return oerrors.NewInvalidRequest(
				fmt.Sprintf("the client %s doesn't support the grant type %s", c.ID, gt), p.State)
		}
	}
	if flow.requiresNonce(p) && p.Nonce == "" {
		return oerrors.NewInvalidRequest("the parameter nonce is missing", p.State)
	}
	return nil
}

// execute runs one flow: the code flow redirects with a code, the implicit
// flow with an ID token and optionally an access token, the hybrid flow
// with a code next to the tokens. The artifacts differ only by the
// response types, so the three flows share the processing and response
// generation.
func (a *Actions) execute(
	ctx context.Context, flow Flow, p *oauth.AuthorizationParameter, principal *oauth.Principal, c *client.Client,
) (*ActionResult, error) {
	if err := checkFlowPrerequisites(flow, p, c); err != nil {
		return nil, err
	}
	result, err := a.processor.process(ctx, p, principal, c)
	if err != nil {
		return nil, err
	}
	if result.Type != RedirectToCallback {
		return result, nil
	}
	if err := a.responses.generate(ctx, result, flow, p, principal, c); err != nil {
		return nil, err
	}
	return result, nil
}
