// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the identity server engines from a
// configuration: key store, client registry, code and token stores,
// consent engine, authorization actions, UMA engine, event publisher and
// telemetry.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/idserver/pkg/authorization"
	"github.com/stacklok/idserver/pkg/client"
	"github.com/stacklok/idserver/pkg/config"
	"github.com/stacklok/idserver/pkg/consent"
	"github.com/stacklok/idserver/pkg/discovery"
	"github.com/stacklok/idserver/pkg/events"
	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/storage"
	"github.com/stacklok/idserver/pkg/telemetry"
	"github.com/stacklok/idserver/pkg/token"
	"github.com/stacklok/idserver/pkg/uma"
)

// Server holds the assembled engines. The transport layer drives
// Authorization and UMA.
type Server struct {
	cfg *config.Config

	// Keys is the server key store
	Keys *jwks.Store
	// Clients is the client registry, seeded from the configuration
	Clients *client.MemoryRegistry
	// Authorization is the OAuth2/OpenID Connect surface
	Authorization authorization.Handler
	// UMA is the UMA 2.0 surface
	UMA uma.Handler
	// Telemetry exposes the providers, e.g. the Prometheus handler
	Telemetry *telemetry.Providers

	publisher *events.AsyncPublisher
	closers   []func(context.Context) error
}

type options struct {
	redisClient redis.UniversalClient
	auditWriter io.Writer
	sinks       []events.Sink
}

// Option configures New.
type Option func(*options)

// WithRedisClient uses client instead of dialing the configured Redis
// addresses. The server closes it on Close.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithAuditWriter sends audit records to w instead of stdout.
func WithAuditWriter(w io.Writer) Option {
	return func(o *options) {
		o.auditWriter = w
	}
}

// WithEventSink adds a sink receiving every published event.
func WithEventSink(sink events.Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sink)
	}
}

// New builds a Server from cfg. The caller must call Close.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (srv *Server, err error) {
	o := &options{auditWriter: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{cfg: cfg}
	defer func() {
		if err != nil {
			_ = s.Close(ctx)
		}
	}()

	s.Keys, err = NewKeyStore(cfg.Keys)
	if err != nil {
		return nil, err
	}

	clients, err := cfg.BuildClients()
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}
	if err := resolveClientKeys(ctx, cfg.HTTPClient, clients); err != nil {
		return nil, err
	}
	s.Clients = client.NewMemoryRegistry(clients...)

	stores, err := s.newStores(ctx, cfg.Storage, o.redisClient)
	if err != nil {
		return nil, err
	}

	sinks := o.sinks
	if cfg.Events.Audit {
		sinks = append(sinks, events.NewAuditSink(o.auditWriter))
	}
	s.publisher = events.NewAsyncPublisher(sinks, events.WithBufferSize(cfg.Events.BufferSize))
	s.closers = append(s.closers, s.publisher.Close)

	s.Telemetry, err = telemetry.NewProviders(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry providers: %w", err)
	}
	s.closers = append(s.closers, s.Telemetry.Shutdown)

	tokens := token.NewGenerator(token.Config{
		Issuer:               cfg.Issuer,
		AccessTokenLifetime:  cfg.Lifetimes.AccessToken,
		RefreshTokenLifetime: cfg.Lifetimes.RefreshToken,
		IDTokenLifetime:      cfg.Lifetimes.IDToken,
	}, s.Keys)

	actions := authorization.NewActions(authorization.Config{
		Issuer:                    cfg.Issuer,
		AuthorizationCodeLifetime: cfg.Lifetimes.AuthorizationCode,
		ContinuationLifetime:      cfg.Lifetimes.Continuation,
	}, authorization.Dependencies{
		Clients:   s.Clients,
		Consents:  consent.NewEngine(stores.consents, client.NewValidator(s.Clients)),
		Store:     stores.tokens,
		Tokens:    tokens,
		Keys:      s.Keys,
		Publisher: s.publisher,
	})

	repository := cfg.UMARepository()
	umaEngine := uma.NewEngine(uma.Config{
		Issuer:         cfg.Issuer,
		TicketLifetime: cfg.Lifetimes.Ticket,
		RptLifetime:    cfg.Lifetimes.Rpt,
	}, uma.Dependencies{
		ResourceSets: repository,
		Policies:     repository,
		Tickets:      stores.uma,
		Rpts:         stores.uma,
		Keys:         s.Keys,
		Publisher:    s.publisher,
	})

	tp, mp := s.Telemetry.TracerProvider(), s.Telemetry.MeterProvider()
	s.Authorization, err = telemetry.NewAuthorizationHandler(actions, tp, mp)
	if err != nil {
		return nil, fmt.Errorf("failed to instrument authorization: %w", err)
	}
	s.UMA, err = telemetry.NewUMAHandler(umaEngine, tp, mp)
	if err != nil {
		return nil, fmt.Errorf("failed to instrument uma: %w", err)
	}

	logger.Infow("identity server assembled",
		"issuer", cfg.Issuer,
		"storage", cfg.Storage.Type,
		"clients", len(clients),
		"resource_sets", len(cfg.UMA.ResourceSets))
	return s, nil
}

type umaStore interface {
	uma.TicketStore
	uma.RptStore
}

type stores struct {
	tokens   storage.Storage
	uma      umaStore
	consents consent.Store
}

// newStores creates the code/token, ticket/RPT and consent stores on the
// configured backend. The Redis stores share one client.
func (s *Server) newStores(
	ctx context.Context, cfg config.Storage, redisClient redis.UniversalClient,
) (*stores, error) {
	switch cfg.Type {
	case config.StorageMemory, "":
		var opts []storage.MemoryStorageOption
		if cfg.CleanupInterval > 0 {
			opts = append(opts, storage.WithCleanupInterval(cfg.CleanupInterval))
		}
		if cfg.Retention > 0 {
			opts = append(opts, storage.WithRetention(cfg.Retention))
		}
		store := storage.NewMemoryStorage(opts...)
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })

		var umaOpts []uma.MemoryStoreOption
		if cfg.Retention > 0 {
			umaOpts = append(umaOpts, uma.WithMemoryRetention(cfg.Retention))
		}
		return &stores{
			tokens:   store,
			uma:      uma.NewMemoryStore(umaOpts...),
			consents: consent.NewMemoryStore(),
		}, nil

	case config.StorageRedis:
		if redisClient == nil {
			var err error
			redisClient, err = storage.NewRedisClient(ctx, redisConfig(cfg))
			if err != nil {
				return nil, fmt.Errorf("failed to create storage: %w", err)
			}
		}
		retention := cfg.Retention
		if retention <= 0 {
			retention = storage.DefaultRetention
		}
		store := storage.NewRedisStorageWithClient(redisClient, cfg.Redis.KeyPrefix, storage.WithRedisRetention(retention))
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })
		return &stores{
			tokens:   store,
			uma:      uma.NewRedisStore(redisClient, cfg.Redis.KeyPrefix, retention),
			consents: consent.NewRedisStore(redisClient, cfg.Redis.KeyPrefix),
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

func redisConfig(cfg config.Storage) storage.RedisConfig {
	return storage.RedisConfig{
		Addrs:        cfg.Redis.Addrs,
		MasterName:   cfg.Redis.MasterName,
		DB:           cfg.Redis.DB,
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		KeyPrefix:    cfg.Redis.KeyPrefix,
		Retention:    cfg.Retention,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}
}

// Discovery returns the provider metadata for the current keys.
func (s *Server) Discovery() *discovery.Metadata {
	return discovery.Build(s.cfg.Issuer, s.cfg.ScopesSupported, s.Keys.PublicKeys())
}

// Close stops the publisher, flushes telemetry and releases the stores,
// in reverse creation order.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
