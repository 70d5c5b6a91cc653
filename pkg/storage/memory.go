// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/logger"
)

const (
	// DefaultCleanupInterval is how often expired entries are reaped.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultRetention is how long an expired entry is kept before being
	// reaped, so consumers can still tell "expired" from "unknown".
	DefaultRetention = time.Hour
)

// timedEntry wraps a value with its expiry for lazy reaping.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryStorage implements Storage with in-memory maps. It is safe for
// concurrent use; every read-modify-write happens under the write lock.
type MemoryStorage struct {
	mu sync.RWMutex

	// tokens maps access token -> granted token
	tokens map[string]*timedEntry[*GrantedToken]

	// refreshTokens maps refresh token -> access token
	refreshTokens map[string]string

	codes         map[string]*timedEntry[*AuthorizationCode]
	continuations map[string]*timedEntry[*Continuation]

	cleanupInterval time.Duration
	retention       time.Duration
	now             func() time.Time

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// WithRetention sets how long expired entries are kept.
func WithRetention(retention time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.retention = retention
	}
}

// WithMemoryClock overrides the clock used by the reaper.
func WithMemoryClock(now func() time.Time) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage creates a MemoryStorage and starts the background
// cleanup goroutine. Call Close to stop it.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		tokens:          make(map[string]*timedEntry[*GrantedToken]),
		refreshTokens:   make(map[string]string),
		codes:           make(map[string]*timedEntry[*AuthorizationCode]),
		continuations:   make(map[string]*timedEntry[*Continuation]),
		cleanupInterval: DefaultCleanupInterval,
		retention:       DefaultRetention,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired collects stale keys under the read lock, then deletes
// them under the write lock.
func (s *MemoryStorage) cleanupExpired() {
	cutoff := s.now().Add(-s.retention)

	s.mu.RLock()
	var staleTokens []string
	for k, v := range s.tokens {
		if cutoff.After(v.expiresAt) {
			staleTokens = append(staleTokens, k)
		}
	}
	staleCodes := staleKeys(s.codes, cutoff)
	staleContinuations := staleKeys(s.continuations, cutoff)
	s.mu.RUnlock()

	if len(staleTokens)+len(staleCodes)+len(staleContinuations) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range staleTokens {
		// the entry may have been replaced since phase one
		if e, ok := s.tokens[k]; ok && cutoff.After(e.expiresAt) {
			s.deleteTokenLocked(k)
		}
	}
	for _, k := range staleCodes {
		if e, ok := s.codes[k]; ok && cutoff.After(e.expiresAt) {
			delete(s.codes, k)
		}
	}
	for _, k := range staleContinuations {
		if e, ok := s.continuations[k]; ok && cutoff.After(e.expiresAt) {
			delete(s.continuations, k)
		}
	}

	logger.Debugw("reaped expired entries",
		"tokens", len(staleTokens),
		"codes", len(staleCodes),
		"continuations", len(staleContinuations),
	)
}

func staleKeys[T any](m map[string]*timedEntry[T], cutoff time.Time) []string {
	var keys []string
	for k, v := range m {
		if cutoff.After(v.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// AddToken stores the token.
func (s *MemoryStorage) AddToken(_ context.Context, token *GrantedToken) error {
	if token == nil || token.AccessToken == "" {
		return errors.New("access token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addTokenLocked(token)
}

func (s *MemoryStorage) addTokenLocked(token *GrantedToken) error {
	if _, ok := s.tokens[token.AccessToken]; ok {
		return fmt.Errorf("%w: access token", ErrAlreadyExists)
	}
	if token.RefreshToken != "" {
		if _, ok := s.refreshTokens[token.RefreshToken]; ok {
			return fmt.Errorf("%w: refresh token", ErrAlreadyExists)
		}
		s.refreshTokens[token.RefreshToken] = token.AccessToken
	}

	s.tokens[token.AccessToken] = &timedEntry[*GrantedToken]{
		value:     cloneToken(token),
		expiresAt: token.retainUntil(),
	}
	return nil
}

// GetToken returns the most recent matching token, or nil.
func (s *MemoryStorage) GetToken(
	_ context.Context, scopes, clientID string, idTokenPayload, userInfoPayload jose.Payload,
) (*GrantedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := s.findTokenLocked(scopes, clientID, idTokenPayload, userInfoPayload)
	if found == nil {
		return nil, nil
	}
	return cloneToken(found), nil
}

// GetOrAddToken returns the valid matching token or stores token, under
// one write lock.
func (s *MemoryStorage) GetOrAddToken(_ context.Context, token *GrantedToken, now time.Time) (*GrantedToken, bool, error) {
	if token == nil || token.AccessToken == "" {
		return nil, false, errors.New("access token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if found := s.findTokenLocked(token.Scope, token.ClientID, token.IDTokenPayload, token.UserInfoPayload); found != nil {
		if !found.IsExpired(now) {
			return cloneToken(found), false, nil
		}
		s.deleteTokenLocked(found.AccessToken)
	}
	if err := s.addTokenLocked(token); err != nil {
		return nil, false, err
	}
	return cloneToken(token), true, nil
}

func (s *MemoryStorage) findTokenLocked(scopes, clientID string, idTokenPayload, userInfoPayload jose.Payload) *GrantedToken {
	var found *GrantedToken
	for _, e := range s.tokens {
		t := e.value
		if !t.matches(scopes, clientID, idTokenPayload, userInfoPayload) {
			continue
		}
		if found == nil || t.CreatedAt.After(found.CreatedAt) {
			found = t
		}
	}
	return found
}

// GetAccessToken returns the token owning accessToken.
func (s *MemoryStorage) GetAccessToken(_ context.Context, accessToken string) (*GrantedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tokens[accessToken]
	if !ok {
		return nil, fmt.Errorf("%w: access token", ErrNotFound)
	}
	return cloneToken(e.value), nil
}

// GetRefreshToken returns the token owning refreshToken.
func (s *MemoryStorage) GetRefreshToken(_ context.Context, refreshToken string) (*GrantedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, ok := s.refreshTokens[refreshToken]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	e, ok := s.tokens[accessToken]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	return cloneToken(e.value), nil
}

// RemoveAccessToken removes the token and its refresh token.
func (s *MemoryStorage) RemoveAccessToken(_ context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[accessToken]; !ok {
		return fmt.Errorf("%w: access token", ErrNotFound)
	}
	s.deleteTokenLocked(accessToken)
	return nil
}

// RemoveRefreshToken removes the refresh token only.
func (s *MemoryStorage) RemoveRefreshToken(_ context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[refreshToken]; !ok {
		return fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	delete(s.refreshTokens, refreshToken)
	return nil
}

func (s *MemoryStorage) deleteTokenLocked(accessToken string) {
	e, ok := s.tokens[accessToken]
	if !ok {
		return
	}
	delete(s.tokens, accessToken)
	if rt := e.value.RefreshToken; rt != "" && s.refreshTokens[rt] == accessToken {
		delete(s.refreshTokens, rt)
	}
}

// AddAuthorizationCode stores the code.
func (s *MemoryStorage) AddAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return errors.New("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code.Code]; ok {
		return fmt.Errorf("%w: authorization code", ErrAlreadyExists)
	}
	cp := *code
	s.codes[code.Code] = &timedEntry[*AuthorizationCode]{value: &cp, expiresAt: code.ExpiresAt}
	return nil
}

// ConsumeAuthorizationCode returns and removes the code.
func (s *MemoryStorage) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	delete(s.codes, code)
	return e.value, nil
}

// AddContinuation stores the continuation.
func (s *MemoryStorage) AddContinuation(_ context.Context, c *Continuation) error {
	if c == nil || c.Code == "" {
		return errors.New("continuation code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.continuations[c.Code]; ok {
		return fmt.Errorf("%w: continuation", ErrAlreadyExists)
	}
	cp := *c
	s.continuations[c.Code] = &timedEntry[*Continuation]{value: &cp, expiresAt: c.ExpiresAt}
	return nil
}

// ConsumeContinuation returns and removes the continuation.
func (s *MemoryStorage) ConsumeContinuation(_ context.Context, code string) (*Continuation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.continuations[code]
	if !ok {
		return nil, fmt.Errorf("%w: continuation", ErrNotFound)
	}
	delete(s.continuations, code)
	return e.value, nil
}

func cloneToken(t *GrantedToken) *GrantedToken {
	cp := *t
	cp.IDTokenPayload = t.IDTokenPayload.Clone()
	cp.UserInfoPayload = t.UserInfoPayload.Clone()
	return &cp
}
