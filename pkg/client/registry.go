// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

//go:generate mockgen -destination=mocks/mock_registry.go -package=mocks -source=registry.go Registry

var (
	// ErrNotFound is returned when no client has the requested identifier
	ErrNotFound = errors.New("client not found")

	// ErrAlreadyExists is returned when registering an identifier twice
	ErrAlreadyExists = errors.New("client already exists")
)

// Registry is the read side of the client registry.
type Registry interface {
	// GetByID returns the client or an error wrapping ErrNotFound.
	GetByID(ctx context.Context, clientID string) (*Client, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewMemoryRegistry creates a registry seeded with clients.
func NewMemoryRegistry(clients ...*Client) *MemoryRegistry {
	r := &MemoryRegistry{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ID] = c
	}
	return r
}

// GetByID implements Registry.
func (r *MemoryRegistry) GetByID(_ context.Context, clientID string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clientID)
	}
	return c, nil
}

// Add registers a client.
func (r *MemoryRegistry) Add(_ context.Context, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, c.ID)
	}
	r.clients[c.ID] = c
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
