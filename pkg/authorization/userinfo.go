// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
	"errors"

	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/storage"
)

// UserInfo is a userinfo response. JWT is set when the client registered
// signed or encrypted userinfo responses, Claims otherwise.
type UserInfo struct {
	Claims jose.Payload
	JWT    string
}

// GetUserInformation returns the claims released to the bearer of
// accessToken.
func (a *Actions) GetUserInformation(ctx context.Context, accessToken string) (*UserInfo, error) {
	if accessToken == "" {
		return nil, oerrors.NewInvalidRequest("the access token is missing", "")
	}
	t, err := a.store.GetAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oerrors.NewInvalidToken("the token is not valid")
		}
		return nil, oerrors.NewInternal("failed to read the access token", err)
	}
	if t.IsExpired(a.now()) {
		return nil, oerrors.NewInvalidToken("the token is expired")
	}
	c, err := a.validator.ValidateClientExist(ctx, t.ClientID, "")
	if err != nil {
		return nil, err
	}

	claims := t.UserInfoPayload.Clone()
	if claims == nil {
		claims = jose.Payload{}
	}
	encoded, isJWT, err := a.tokens.EncodeUserInfo(ctx, claims, c)
	if err != nil {
		return nil, oerrors.NewInternal("failed to encode the userinfo response", err)
	}
	if isJWT {
		return &UserInfo{JWT: encoded}, nil
	}
	return &UserInfo{Claims: claims}, nil
}
