// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/oauth"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Key types of the Redis keyspace.
const (
	KeyTypeAccess       = "access"
	KeyTypeRefresh      = "refresh"
	KeyTypeClientTokens = "client_tokens"
	KeyTypeAuthCode     = "authcode"
	KeyTypeContinuation = "continuation"
	KeyTypeFingerprint  = "fingerprint"
)

// maxTxRetries bounds optimistic transaction retries on a contended key.
const maxTxRetries = 16

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addrs are the server addresses. With MasterName set they are
	// sentinel addresses.
	Addrs      []string
	MasterName string
	DB         int
	Username   string
	Password   string

	// KeyPrefix isolates the keyspace, e.g. "idserver:prod:".
	KeyPrefix string

	// Retention is how long expired entries are kept after expiry.
	Retention time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStorage implements Storage on Redis, so several server replicas
// can share codes and tokens.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
	now       func() time.Time
}

// NewRedisStorage connects to Redis and returns a RedisStorage.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var opts []RedisStorageOption
	if cfg.Retention > 0 {
		opts = append(opts, WithRedisRetention(cfg.Retention))
	}
	return NewRedisStorageWithClient(client, cfg.KeyPrefix, opts...), nil
}

// NewRedisClient builds and pings a client for cfg. Other stores sharing
// the same Redis deployment use it too.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	if err := validateRedisConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		DB:           cfg.DB,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisStorageOption configures a RedisStorage.
type RedisStorageOption func(*RedisStorage)

// WithRedisRetention sets how long expired entries are kept.
func WithRedisRetention(retention time.Duration) RedisStorageOption {
	return func(s *RedisStorage) {
		s.retention = retention
	}
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured
// client. Tests use it with miniredis.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string, opts ...RedisStorageOption) *RedisStorage {
	s := &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateRedisConfig(cfg *RedisConfig) error {
	if len(cfg.Addrs) == 0 {
		return errors.New("at least one address is required")
	}
	if cfg.KeyPrefix == "" {
		return errors.New("key prefix is required")
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// RedisKey builds a key of the form "<prefix><type>:<id>".
func RedisKey(prefix, keyType, id string) string {
	return prefix + keyType + ":" + id
}

// ttlUntil returns the Redis TTL for an entry expiring at until, keeping
// it for the retention window after expiry.
func (s *RedisStorage) ttlUntil(until time.Time) time.Duration {
	ttl := until.Sub(s.now()) + s.retention
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// AddToken stores the token under its access token and indexes the
// refresh token and the client.
func (s *RedisStorage) AddToken(ctx context.Context, token *GrantedToken) error {
	if token == nil || token.AccessToken == "" {
		return errors.New("access token cannot be empty")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	ttl := s.ttlUntil(token.retainUntil())

	accessKey := RedisKey(s.keyPrefix, KeyTypeAccess, token.AccessToken)
	ok, err := s.client.SetNX(ctx, accessKey, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: access token", ErrAlreadyExists)
	}

	if token.RefreshToken != "" {
		refreshKey := RedisKey(s.keyPrefix, KeyTypeRefresh, token.RefreshToken)
		ok, err := s.client.SetNX(ctx, refreshKey, token.AccessToken, ttl).Result()
		if err != nil || !ok {
			// compensate: the access token must not outlive a failed add
			_ = s.client.Del(ctx, accessKey).Err()
			if err != nil {
				return fmt.Errorf("failed to store refresh token: %w", err)
			}
			return fmt.Errorf("%w: refresh token", ErrAlreadyExists)
		}
	}

	clientKey := RedisKey(s.keyPrefix, KeyTypeClientTokens, token.ClientID)
	if err := s.client.SAdd(ctx, clientKey, token.AccessToken).Err(); err != nil {
		_ = s.client.Del(ctx, accessKey, RedisKey(s.keyPrefix, KeyTypeRefresh, token.RefreshToken)).Err()
		return fmt.Errorf("failed to index token: %w", err)
	}
	return s.extendTTL(ctx, clientKey, ttl)
}

// extendTTL raises the TTL of key to at least ttl.
func (s *RedisStorage) extendTTL(ctx context.Context, key string, ttl time.Duration) error {
	current, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read ttl: %w", err)
	}
	if current >= ttl {
		return nil
	}
	return s.client.Expire(ctx, key, ttl).Err()
}

// GetToken scans the tokens of clientID and returns the most recent match.
// Index members whose token is gone are removed on the way.
func (s *RedisStorage) GetToken(
	ctx context.Context, scopes, clientID string, idTokenPayload, userInfoPayload jose.Payload,
) (*GrantedToken, error) {
	clientKey := RedisKey(s.keyPrefix, KeyTypeClientTokens, clientID)
	members, err := s.client.SMembers(ctx, clientKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list client tokens: %w", err)
	}

	var found *GrantedToken
	for _, accessToken := range members {
		token, err := s.getToken(ctx, accessToken)
		if errors.Is(err, ErrNotFound) {
			_ = s.client.SRem(ctx, clientKey, accessToken).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if !token.matches(scopes, clientID, idTokenPayload, userInfoPayload) {
			continue
		}
		if found == nil || token.CreatedAt.After(found.CreatedAt) {
			found = token
		}
	}
	return found, nil
}

// GetOrAddToken returns the valid matching token or stores token. A
// fingerprint key holds the access token of the live record; it is watched
// so concurrent callers, on any replica, agree on a single record.
func (s *RedisStorage) GetOrAddToken(ctx context.Context, token *GrantedToken, now time.Time) (*GrantedToken, bool, error) {
	if token == nil || token.AccessToken == "" {
		return nil, false, errors.New("access token cannot be empty")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal token: %w", err)
	}
	ttl := s.ttlUntil(token.retainUntil())
	fingerprintKey := RedisKey(s.keyPrefix, KeyTypeFingerprint, tokenFingerprint(token))
	accessKey := RedisKey(s.keyPrefix, KeyTypeAccess, token.AccessToken)
	refreshKey := RedisKey(s.keyPrefix, KeyTypeRefresh, token.RefreshToken)
	clientKey := RedisKey(s.keyPrefix, KeyTypeClientTokens, token.ClientID)

	for range maxTxRetries {
		var existing *GrantedToken
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			found, err := s.fingerprintToken(ctx, tx, fingerprintKey)
			if err != nil {
				return err
			}
			if found == nil {
				// tokens issued by a refresh grant carry no fingerprint
				found, err = s.GetToken(ctx, token.Scope, token.ClientID, token.IDTokenPayload, token.UserInfoPayload)
				if err != nil {
					return err
				}
			}
			if found != nil {
				if !found.IsExpired(now) {
					existing = found
					return nil
				}
				if err := s.RemoveAccessToken(ctx, found.AccessToken); err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
			}

			keys := []string{accessKey}
			if token.RefreshToken != "" {
				keys = append(keys, refreshKey)
			}
			n, err := tx.Exists(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to check token keys: %w", err)
			}
			if n > 0 {
				return fmt.Errorf("%w: access or refresh token", ErrAlreadyExists)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, accessKey, data, ttl)
				if token.RefreshToken != "" {
					pipe.Set(ctx, refreshKey, token.AccessToken, ttl)
				}
				pipe.SAdd(ctx, clientKey, token.AccessToken)
				pipe.Set(ctx, fingerprintKey, token.AccessToken, ttl)
				return nil
			})
			return err
		}, fingerprintKey, accessKey, refreshKey)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err != nil:
			return nil, false, fmt.Errorf("failed to store token: %w", err)
		case existing != nil:
			return existing, false, nil
		}
		if err := s.extendTTL(ctx, clientKey, ttl); err != nil {
			return nil, false, err
		}
		return token, true, nil
	}
	return nil, false, fmt.Errorf("failed to store token: %s stayed contended", fingerprintKey)
}

// fingerprintToken returns the token the fingerprint key points at, or nil
// when the key is unset or the token is gone.
func (s *RedisStorage) fingerprintToken(ctx context.Context, tx *redis.Tx, key string) (*GrantedToken, error) {
	accessToken, err := tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token fingerprint: %w", err)
	}
	token, err := s.getToken(ctx, accessToken)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return token, err
}

// tokenFingerprint identifies the scope set, client and resource owner
// claims of a token, the same attributes GetToken matches on.
func tokenFingerprint(t *GrantedToken) string {
	scopes := slices.Clone(oauth.ParseScopes(t.Scope))
	slices.Sort(scopes)
	scopes = slices.Compact(scopes)

	h := sha256.New()
	writeField(h, t.ClientID)
	writeField(h, strings.Join(scopes, " "))
	for _, p := range []jose.Payload{t.IDTokenPayload, t.UserInfoPayload} {
		if p == nil {
			writeField(h, "")
			continue
		}
		writeField(h, "payload")
		for _, name := range oauth.StandardResourceOwnerClaimNames {
			if _, ok := p[name]; ok {
				writeField(h, name)
				writeField(h, strings.ToLower(p.String(name)))
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, v string) {
	_, _ = fmt.Fprintf(h, "%d:%s;", len(v), v)
}

func (s *RedisStorage) getToken(ctx context.Context, accessToken string) (*GrantedToken, error) {
	data, err := s.client.Get(ctx, RedisKey(s.keyPrefix, KeyTypeAccess, accessToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: access token", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var token GrantedToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// GetAccessToken returns the token owning accessToken.
func (s *RedisStorage) GetAccessToken(ctx context.Context, accessToken string) (*GrantedToken, error) {
	return s.getToken(ctx, accessToken)
}

// GetRefreshToken returns the token owning refreshToken.
func (s *RedisStorage) GetRefreshToken(ctx context.Context, refreshToken string) (*GrantedToken, error) {
	accessToken, err := s.client.Get(ctx, RedisKey(s.keyPrefix, KeyTypeRefresh, refreshToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	token, err := s.getToken(ctx, accessToken)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	return token, err
}

// RemoveAccessToken removes the token, its refresh token and its index entry.
func (s *RedisStorage) RemoveAccessToken(ctx context.Context, accessToken string) error {
	token, err := s.getToken(ctx, accessToken)
	if err != nil {
		return err
	}

	keys := []string{RedisKey(s.keyPrefix, KeyTypeAccess, accessToken)}
	if token.RefreshToken != "" {
		keys = append(keys, RedisKey(s.keyPrefix, KeyTypeRefresh, token.RefreshToken))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, RedisKey(s.keyPrefix, KeyTypeClientTokens, token.ClientID), accessToken)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove access token: %w", err)
	}
	return nil
}

// RemoveRefreshToken removes the refresh token only.
func (s *RedisStorage) RemoveRefreshToken(ctx context.Context, refreshToken string) error {
	n, err := s.client.Del(ctx, RedisKey(s.keyPrefix, KeyTypeRefresh, refreshToken)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove refresh token: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	return nil
}

// AddAuthorizationCode stores the code.
func (s *RedisStorage) AddAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return errors.New("authorization code cannot be empty")
	}
	return s.setNX(ctx, RedisKey(s.keyPrefix, KeyTypeAuthCode, code.Code), code, code.ExpiresAt)
}

// ConsumeAuthorizationCode returns and removes the code atomically.
func (s *RedisStorage) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var out AuthorizationCode
	if err := s.getDel(ctx, RedisKey(s.keyPrefix, KeyTypeAuthCode, code), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddContinuation stores the continuation.
func (s *RedisStorage) AddContinuation(ctx context.Context, c *Continuation) error {
	if c == nil || c.Code == "" {
		return errors.New("continuation code cannot be empty")
	}
	return s.setNX(ctx, RedisKey(s.keyPrefix, KeyTypeContinuation, c.Code), c, c.ExpiresAt)
}

// ConsumeContinuation returns and removes the continuation atomically.
func (s *RedisStorage) ConsumeContinuation(ctx context.Context, code string) (*Continuation, error) {
	var out Continuation
	if err := s.getDel(ctx, RedisKey(s.keyPrefix, KeyTypeContinuation, code), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RedisStorage) setNX(ctx context.Context, key string, value any, expiresAt time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key, data, s.ttlUntil(expiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	return nil
}

func (s *RedisStorage) getDel(ctx context.Context, key string, out any) error {
	data, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to consume entry: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return nil
}
