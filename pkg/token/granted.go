// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/storage"
)

// tokenBytes is the entropy of opaque access and refresh tokens.
const tokenBytes = 32

// NewOpaqueToken returns a random URL safe token.
func NewOpaqueToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewGrantedToken builds a granted token with fresh opaque access and
// refresh tokens. The token is not stored.
func (g *Generator) NewGrantedToken(clientID, scope string, idTokenPayload, userInfoPayload jose.Payload) (*storage.GrantedToken, error) {
	accessToken, err := NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	refreshToken, err := NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	return &storage.GrantedToken{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		IDTokenPayload:   idTokenPayload,
		UserInfoPayload:  userInfoPayload,
		Scope:            scope,
		ClientID:         clientID,
		TokenType:        storage.TokenTypeBearer,
		ExpiresIn:        int64(g.cfg.AccessTokenLifetime.Seconds()),
		RefreshExpiresIn: int64(g.cfg.RefreshTokenLifetime.Seconds()),
		CreatedAt:        g.now(),
	}, nil
}

// GetOrCreateToken reuses the valid token issued to clientID for the same
// scopes and resource owner, or creates and stores a new one. The store
// decides atomically, so concurrent requests share one token. The boolean
// reports whether the token was created.
func (g *Generator) GetOrCreateToken(
	ctx context.Context, store storage.TokenStore, scope, clientID string, idTokenPayload, userInfoPayload jose.Payload,
) (*storage.GrantedToken, bool, error) {
	t, err := g.NewGrantedToken(clientID, scope, idTokenPayload, userInfoPayload)
	if err != nil {
		return nil, false, err
	}
	stored, created, err := store.GetOrAddToken(ctx, t, g.now())
	if err != nil {
		return nil, false, fmt.Errorf("failed to store token: %w", err)
	}
	if !created {
		logger.Debugw("reusing granted token", "client_id", clientID)
	}
	return stored, created, nil
}
