// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jwks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/idserver/pkg/logger"
)

// DefaultGracePeriod is how long a rotated key stays resolvable by kid.
const DefaultGracePeriod = 24 * time.Hour

// retiredKey is a key replaced by a rotation. It keeps verifying and
// decrypting tokens until the deadline.
type retiredKey struct {
	key   *Key
	until time.Time
}

// keySet is an immutable snapshot. Writers build a new one and swap it in.
type keySet struct {
	active  []*Key
	retired []retiredKey
}

// Store holds the server keys. Reads load the current snapshot without
// locking; writers are serialized and publish a fresh snapshot.
type Store struct {
	current atomic.Pointer[keySet]
	writeMu sync.Mutex

	signingAlg    string
	encryptionAlg string
	grace         time.Duration
	now           func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSigningAlgorithm sets the algorithm of keys generated for signing.
func WithSigningAlgorithm(alg string) StoreOption {
	return func(s *Store) {
		s.signingAlg = alg
	}
}

// WithEncryptionAlgorithm sets the algorithm of keys generated for encryption.
func WithEncryptionAlgorithm(alg string) StoreOption {
	return func(s *Store) {
		s.encryptionAlg = alg
	}
}

// WithGracePeriod sets how long rotated keys remain resolvable.
func WithGracePeriod(d time.Duration) StoreOption {
	return func(s *Store) {
		s.grace = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store seeded with the given keys.
func NewStore(keys []*Key, opts ...StoreOption) *Store {
	s := &Store{
		signingAlg:    "RS256",
		encryptionAlg: "RSA-OAEP",
		grace:         DefaultGracePeriod,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&keySet{active: slices.Clone(keys)})
	return s
}

// NewGeneratedStore creates a store holding a freshly generated signing key
// and encryption key.
func NewGeneratedStore(opts ...StoreOption) (*Store, error) {
	s := NewStore(nil, opts...)
	keys, err := s.generate()
	if err != nil {
		return nil, err
	}
	s.current.Store(&keySet{active: keys})
	logger.Warnw("generated ephemeral server keys, tokens will not survive a restart",
		"signing_alg", s.signingAlg, "encryption_alg", s.encryptionAlg)
	return s, nil
}

func (s *Store) snapshot() *keySet {
	return s.current.Load()
}

// All returns the active keys.
func (s *Store) All() []*Key {
	return slices.Clone(s.snapshot().active)
}

// SigningKey returns the active signing key for alg. When no key is bound
// to alg the first signing key of a compatible type is returned.
func (s *Store) SigningKey(_ context.Context, alg string) (*Key, error) {
	return s.find(UsageSignature, alg)
}

// EncryptionKey returns the active encryption key for alg.
func (s *Store) EncryptionKey(_ context.Context, alg string) (*Key, error) {
	return s.find(UsageEncryption, alg)
}

func (s *Store) find(use Usage, alg string) (*Key, error) {
	var fallback *Key
	for _, k := range s.snapshot().active {
		if k.Use != use || !k.IsPrivate() {
			continue
		}
		if k.Alg == alg {
			return k, nil
		}
		if fallback == nil && compatible(k.Kty, alg) {
			fallback = k
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: use=%s alg=%s", ErrNoSigningKey, use, alg)
}

func compatible(kty KeyType, alg string) bool {
	if alg == "" || len(alg) < 2 {
		return true
	}
	switch alg[:2] {
	case "RS", "PS":
		return kty == KeyTypeRSA
	case "ES":
		return kty == KeyTypeEC
	case "HS":
		return kty == KeyTypeOct
	default:
		return kty == KeyTypeRSA
	}
}

// Lookup resolves a key by kid among the active keys and the rotated keys
// still inside their grace period.
func (s *Store) Lookup(kid string) (*Key, bool) {
	set := s.snapshot()
	for _, k := range set.active {
		if k.Kid == kid {
			return k, true
		}
	}
	now := s.now()
	for _, r := range set.retired {
		if r.key.Kid == kid && now.Before(r.until) {
			return r.key, true
		}
	}
	return nil, false
}

// PublicKeys returns the public form of every key that can be published,
// including rotated keys still inside their grace period.
func (s *Store) PublicKeys() []*Key {
	set := s.snapshot()
	now := s.now()
	out := make([]*Key, 0, len(set.active)+len(set.retired))
	for _, k := range set.active {
		if pub := k.Public(); pub != nil {
			out = append(out, pub)
		}
	}
	for _, r := range set.retired {
		if !now.Before(r.until) {
			continue
		}
		if pub := r.key.Public(); pub != nil {
			out = append(out, pub)
		}
	}
	return out
}

// SigningPublicKeys returns the published keys used to validate signatures.
func (s *Store) SigningPublicKeys() []*Key {
	return FilterByUse(s.PublicKeys(), UsageSignature)
}

// FilterByUse keeps the keys with the given usage.
func FilterByUse(keys []*Key, use Usage) []*Key {
	out := make([]*Key, 0, len(keys))
	for _, k := range keys {
		if k.Use == use {
			out = append(out, k)
		}
	}
	return out
}

// Replace swaps the active key set. The previous active keys are retired.
func (s *Store) Replace(keys []*Key) error {
	if len(keys) == 0 {
		return ErrEmptyKeySet
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.swap(keys)
	return nil
}

// Rotate generates a new signing key and encryption key and retires the
// current ones.
func (s *Store) Rotate(_ context.Context) error {
	keys, err := s.generate()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.swap(keys)
	logger.Infow("rotated server keys", "kids", kids(keys))
	return nil
}

// swap must be called with writeMu held.
func (s *Store) swap(keys []*Key) {
	old := s.snapshot()
	now := s.now()
	next := &keySet{active: slices.Clone(keys)}
	for _, r := range old.retired {
		if now.Before(r.until) {
			next.retired = append(next.retired, r)
		}
	}
	for _, k := range old.active {
		if !slices.ContainsFunc(keys, func(n *Key) bool { return n.Kid == k.Kid }) {
			next.retired = append(next.retired, retiredKey{key: k, until: now.Add(s.grace)})
		}
	}
	s.current.Store(next)
}

func (s *Store) generate() ([]*Key, error) {
	sig, err := Generate(UsageSignature, s.signingAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	enc, err := Generate(UsageEncryption, s.encryptionAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return []*Key{sig, enc}, nil
}

func kids(keys []*Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Kid
	}
	return out
}
