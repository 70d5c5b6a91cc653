// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/stacklok/idserver/pkg/storage"
)

// MemoryStore implements TicketStore and RptStore in memory. Entries past
// their expiry plus the retention window are swept while adding.
type MemoryStore struct {
	mu        sync.RWMutex
	tickets   map[string]*Ticket
	rpts      map[string]*Rpt
	retention time.Duration
	sweepEach time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryRetention sets how long expired entries are kept.
func WithMemoryRetention(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.retention = d
	}
}

// WithMemoryClock overrides the clock used for sweeping.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		tickets:   make(map[string]*Ticket),
		rpts:      make(map[string]*Rpt),
		retention: storage.DefaultRetention,
		sweepEach: storage.DefaultCleanupInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTicket stores the ticket.
func (s *MemoryStore) AddTicket(_ context.Context, ticket *Ticket) error {
	if ticket == nil || ticket.ID == "" {
		return errors.New("ticket id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	if _, ok := s.tickets[ticket.ID]; ok {
		return fmt.Errorf("%w: ticket", storage.ErrAlreadyExists)
	}
	s.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

// GetTicket returns a copy of the ticket.
func (s *MemoryStore) GetTicket(_ context.Context, id string) (*Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: ticket", storage.ErrNotFound)
	}
	return cloneTicket(t), nil
}

// RemoveTicket removes the ticket.
func (s *MemoryStore) RemoveTicket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[id]; !ok {
		return fmt.Errorf("%w: ticket", storage.ErrNotFound)
	}
	delete(s.tickets, id)
	return nil
}

// ApproveTicket marks the ticket as approved by the resource owner.
func (s *MemoryStore) ApproveTicket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("%w: ticket", storage.ErrNotFound)
	}
	t.IsAuthorizedByRo = true
	return nil
}

// AddRpt stores the RPT.
func (s *MemoryStore) AddRpt(_ context.Context, rpt *Rpt) error {
	if rpt == nil || rpt.Value == "" {
		return errors.New("rpt value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	if _, ok := s.rpts[rpt.Value]; ok {
		return fmt.Errorf("%w: rpt", storage.ErrAlreadyExists)
	}
	c := *rpt
	c.Permissions = cloneLines(rpt.Permissions)
	s.rpts[rpt.Value] = &c
	return nil
}

// GetRpt returns a copy of the RPT.
func (s *MemoryStore) GetRpt(_ context.Context, value string) (*Rpt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rpts[value]
	if !ok {
		return nil, fmt.Errorf("%w: rpt", storage.ErrNotFound)
	}
	c := *r
	c.Permissions = cloneLines(r.Permissions)
	return &c, nil
}

// sweepLocked drops entries past the retention window. Callers hold the
// write lock.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	if now.Sub(s.lastSweep) < s.sweepEach {
		return
	}
	s.lastSweep = now
	cutoff := now.Add(-s.retention)
	for id, t := range s.tickets {
		if cutoff.After(t.ExpiresAt) {
			delete(s.tickets, id)
		}
	}
	for v, r := range s.rpts {
		if cutoff.After(r.ExpiresAt) {
			delete(s.rpts, v)
		}
	}
}

func cloneTicket(t *Ticket) *Ticket {
	c := *t
	c.Lines = cloneLines(t.Lines)
	return &c
}

func cloneLines(lines []TicketLine) []TicketLine {
	if lines == nil {
		return nil
	}
	out := make([]TicketLine, len(lines))
	for i, l := range lines {
		out[i] = TicketLine{ResourceSetID: l.ResourceSetID, Scopes: slices.Clone(l.Scopes)}
	}
	return out
}

// MemoryRepository serves resource sets and policies from memory. It
// implements ResourceSetRepository and PolicyRepository.
type MemoryRepository struct {
	mu           sync.RWMutex
	resourceSets map[string]*ResourceSet
	policies     map[string]*Policy
}

// NewMemoryRepository creates a repository holding the given resource sets
// and policies.
func NewMemoryRepository(resourceSets []*ResourceSet, policies []*Policy) *MemoryRepository {
	r := &MemoryRepository{
		resourceSets: make(map[string]*ResourceSet, len(resourceSets)),
		policies:     make(map[string]*Policy, len(policies)),
	}
	for _, rs := range resourceSets {
		r.resourceSets[rs.ID] = rs
	}
	for _, p := range policies {
		r.policies[p.ID] = p
	}
	return r
}

// PutResourceSet adds or replaces a resource set.
func (r *MemoryRepository) PutResourceSet(rs *ResourceSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resourceSets[rs.ID] = rs
}

// PutPolicy adds or replaces a policy.
func (r *MemoryRepository) PutPolicy(p *Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.ID] = p
}

// GetResourceSets implements ResourceSetRepository.
func (r *MemoryRepository) GetResourceSets(_ context.Context, ids []string) ([]*ResourceSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookupAll(r.resourceSets, ids), nil
}

// GetPolicies implements PolicyRepository.
func (r *MemoryRepository) GetPolicies(_ context.Context, ids []string) ([]*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookupAll(r.policies, ids), nil
}

func lookupAll[T any](m map[string]*T, ids []string) []*T {
	out := make([]*T, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if v, ok := m[id]; ok {
			out = append(out, v)
		}
	}
	return out
}
