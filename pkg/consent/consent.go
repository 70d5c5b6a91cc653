// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package consent records the approvals resource owners give to clients
// and answers whether an authorization request is already covered by one.
package consent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned when a consent does not exist.
var ErrNotFound = errors.New("consent not found")

// Consent links a resource owner, a client and what was granted.
type Consent struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	Subject       string    `json:"subject"`
	GrantedScopes []string  `json:"granted_scopes"`
	Claims        []string  `json:"claims"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists consents. Add keeps at most one consent per
// (subject, client): a second Add for the same pair merges the grants into
// the existing record and returns it.
type Store interface {
	GetBySubject(ctx context.Context, subject string) ([]*Consent, error)
	Add(ctx context.Context, c *Consent) (*Consent, error)
	Remove(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	consents map[string]*Consent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{consents: make(map[string]*Consent)}
}

// GetBySubject implements Store.
func (s *MemoryStore) GetBySubject(_ context.Context, subject string) ([]*Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Consent
	for _, c := range s.consents {
		if c.Subject == subject {
			cp := *c
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *Consent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, c *Consent) (*Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.consents {
		if existing.Subject == c.Subject && existing.ClientID == c.ClientID {
			existing.GrantedScopes = union(existing.GrantedScopes, c.GrantedScopes)
			existing.Claims = union(existing.Claims, c.Claims)
			cp := *existing
			return &cp, nil
		}
	}
	cp := *c
	s.consents[c.ID] = &cp
	out := cp
	return &out, nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.consents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.consents, id)
	return nil
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
