// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/idserver/pkg/storage"
)

// Key types of the UMA Redis keyspace.
const (
	KeyTypeTicket = "ticket"
	KeyTypeRpt    = "rpt"
)

// maxTxRetries bounds optimistic transaction retries on a contended key.
const maxTxRetries = 16

// RedisStore implements TicketStore and RptStore on Redis. It shares the
// client and key prefix of the token storage.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = storage.DefaultRetention
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		retention: retention,
		now:       time.Now,
	}
}

func (s *RedisStore) ttlUntil(until time.Time) time.Duration {
	ttl := until.Sub(s.now()) + s.retention
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// AddTicket stores the ticket.
func (s *RedisStore) AddTicket(ctx context.Context, ticket *Ticket) error {
	if ticket == nil || ticket.ID == "" {
		return errors.New("ticket id cannot be empty")
	}
	return s.setNX(ctx, storage.RedisKey(s.keyPrefix, KeyTypeTicket, ticket.ID), ticket, ticket.ExpiresAt)
}

// GetTicket returns the ticket.
func (s *RedisStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var t Ticket
	if err := s.get(ctx, storage.RedisKey(s.keyPrefix, KeyTypeTicket, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// RemoveTicket removes the ticket.
func (s *RedisStore) RemoveTicket(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, storage.RedisKey(s.keyPrefix, KeyTypeTicket, id)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove ticket: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: ticket", storage.ErrNotFound)
	}
	return nil
}

// ApproveTicket marks the ticket as approved by the resource owner. The
// update keeps the ticket's TTL and fails if the ticket is removed
// concurrently.
func (s *RedisStore) ApproveTicket(ctx context.Context, id string) error {
	key := storage.RedisKey(s.keyPrefix, KeyTypeTicket, id)
	for range maxTxRetries {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
			}
			if err != nil {
				return fmt.Errorf("failed to get ticket: %w", err)
			}
			var t Ticket
			if err := json.Unmarshal(data, &t); err != nil {
				return fmt.Errorf("failed to unmarshal ticket: %w", err)
			}
			t.IsAuthorizedByRo = true
			out, err := json.Marshal(&t)
			if err != nil {
				return fmt.Errorf("failed to marshal ticket: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, out, redis.SetArgs{KeepTTL: true})
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to approve ticket: %s stayed contended", key)
}

// AddRpt stores the RPT.
func (s *RedisStore) AddRpt(ctx context.Context, rpt *Rpt) error {
	if rpt == nil || rpt.Value == "" {
		return errors.New("rpt value cannot be empty")
	}
	return s.setNX(ctx, storage.RedisKey(s.keyPrefix, KeyTypeRpt, rpt.Value), rpt, rpt.ExpiresAt)
}

// GetRpt returns the RPT.
func (s *RedisStore) GetRpt(ctx context.Context, value string) (*Rpt, error) {
	var r Rpt
	if err := s.get(ctx, storage.RedisKey(s.keyPrefix, KeyTypeRpt, value), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) setNX(ctx context.Context, key string, value any, expiresAt time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key, data, s.ttlUntil(expiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, key)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return fmt.Errorf("failed to get entry: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return nil
}
