// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/idserver/pkg/storage"
)

// Key types of the consent Redis keyspace.
const (
	// KeyTypeSubjectConsents is a hash per subject: client id -> consent
	KeyTypeSubjectConsents = "subject_consents"
	// KeyTypeConsent maps a consent id to its subject
	KeyTypeConsent = "consent"
)

// maxTxRetries bounds optimistic transaction retries on a contended key.
const maxTxRetries = 16

// RedisStore implements Store on Redis so consents are shared by every
// replica. Consents do not expire.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) subjectKey(subject string) string {
	return storage.RedisKey(s.keyPrefix, KeyTypeSubjectConsents, subject)
}

func (s *RedisStore) idKey(id string) string {
	return storage.RedisKey(s.keyPrefix, KeyTypeConsent, id)
}

// GetBySubject implements Store.
func (s *RedisStore) GetBySubject(ctx context.Context, subject string) ([]*Consent, error) {
	fields, err := s.client.HGetAll(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read consents: %w", err)
	}
	out := make([]*Consent, 0, len(fields))
	for _, data := range fields {
		var c Consent
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal consent: %w", err)
		}
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *Consent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Add implements Store. The merge with an existing consent of the same
// client runs in a WATCH transaction on the subject hash.
func (s *RedisStore) Add(ctx context.Context, c *Consent) (*Consent, error) {
	if c == nil || c.ID == "" {
		return nil, errors.New("consent id cannot be empty")
	}
	key := s.subjectKey(c.Subject)

	for range maxTxRetries {
		var stored *Consent
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			merged := *c
			data, err := tx.HGet(ctx, key, c.ClientID).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return fmt.Errorf("failed to read consent: %w", err)
			default:
				var existing Consent
				if err := json.Unmarshal(data, &existing); err != nil {
					return fmt.Errorf("failed to unmarshal consent: %w", err)
				}
				existing.GrantedScopes = union(existing.GrantedScopes, c.GrantedScopes)
				existing.Claims = union(existing.Claims, c.Claims)
				merged = existing
			}

			out, err := json.Marshal(&merged)
			if err != nil {
				return fmt.Errorf("failed to marshal consent: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, c.ClientID, out)
				pipe.Set(ctx, s.idKey(merged.ID), c.Subject, 0)
				return nil
			})
			if err == nil {
				stored = &merged
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return stored, nil
	}
	return nil, fmt.Errorf("failed to store consent: %s stayed contended", key)
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, id string) error {
	idKey := s.idKey(id)
	subject, err := s.client.Get(ctx, idKey).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read consent index: %w", err)
	}
	key := s.subjectKey(subject)

	for range maxTxRetries {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("failed to read consents: %w", err)
			}
			clientID := ""
			for field, data := range fields {
				var c Consent
				if err := json.Unmarshal([]byte(data), &c); err == nil && c.ID == id {
					clientID = field
					break
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if clientID != "" {
					pipe.HDel(ctx, key, clientID)
				}
				pipe.Del(ctx, idKey)
				return nil
			})
			if err == nil && clientID == "" {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to remove consent: %s stayed contended", key)
}

var _ Store = (*RedisStore)(nil)
