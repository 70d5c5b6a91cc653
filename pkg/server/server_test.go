// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/idserver/pkg/authorization"
	"github.com/stacklok/idserver/pkg/client"
	"github.com/stacklok/idserver/pkg/config"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/events"
	"github.com/stacklok/idserver/pkg/jose"
	"github.com/stacklok/idserver/pkg/jwks"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/uma"
)

const (
	testIssuer   = "https://id.example.com"
	testRedirect = "https://app.example.com/callback"
	testSecret   = "web-secret"
)

func testConfig() *config.Config {
	return &config.Config{
		Issuer:          testIssuer,
		ScopesSupported: config.DefaultScopes,
		Lifetimes: config.Lifetimes{
			AuthorizationCode: config.DefaultAuthorizationCodeLifetime,
			Continuation:      config.DefaultContinuationLifetime,
			AccessToken:       config.DefaultAccessTokenLifetime,
			RefreshToken:      config.DefaultRefreshTokenLifetime,
			IDToken:           config.DefaultIDTokenLifetime,
			Ticket:            config.DefaultTicketLifetime,
			Rpt:               config.DefaultRptLifetime,
		},
		Keys:       config.Keys{SigningAlgorithm: "RS256", EncryptionAlgorithm: "RSA-OAEP"},
		Storage:    config.Storage{Type: config.StorageMemory, Redis: config.Redis{KeyPrefix: "test:"}},
		Events:     config.Events{BufferSize: 16, Audit: true},
		HTTPClient: config.HTTPClient{Timeout: 5 * time.Second},
		Clients: []config.Client{{
			ID:            "web",
			Secret:        testSecret,
			RedirectURIs:  []string{testRedirect},
			ResponseTypes: []string{"code"},
			AllowedScopes: []string{"openid", "profile"},
		}},
		UMA: config.UMA{
			Policies: []uma.Policy{{ID: "open"}},
			ResourceSets: []uma.ResourceSet{
				{ID: "photos", Name: "Photos", Scopes: []string{"read", "write"}, PolicyIDs: []string{"open"}},
			},
		},
	}
}

type eventRecorder struct {
	mu    sync.Mutex
	types []events.Type
}

func (r *eventRecorder) Handle(_ context.Context, e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

func (r *eventRecorder) seen() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Type(nil), r.types...)
}

func exerciseUMA(t *testing.T, s *Server) {
	t.Helper()
	ctx := context.Background()

	ticket, err := s.UMA.AddPermission(ctx, "web", []uma.PermissionRequest{
		{ResourceSetID: "photos", Scopes: []string{"read"}},
	})
	require.NoError(t, err)

	resp, err := s.UMA.GetAuthorization(ctx, "web", &uma.AuthorizationRequest{TicketID: ticket})
	require.NoError(t, err)
	require.Equal(t, uma.Authorized, resp.Result)
	require.NotEmpty(t, resp.Rpt)

	_, err = s.UMA.GetAuthorization(ctx, "web", &uma.AuthorizationRequest{TicketID: ticket})
	assert.True(t, oerrors.IsInvalidTicket(err), "the ticket is consumed by the rpt")

	rpt, err := s.UMA.Introspect(ctx, resp.Rpt)
	require.NoError(t, err)
	assert.Equal(t, ticket, rpt.TicketID)
	assert.Equal(t, "photos", rpt.ResourceSetID)
}

func TestNew_Memory(t *testing.T) {
	t.Parallel()

	audit := &bytes.Buffer{}
	recorder := &eventRecorder{}
	s, err := New(context.Background(), testConfig(), WithAuditWriter(audit), WithEventSink(recorder))
	require.NoError(t, err)

	exerciseUMA(t, s)

	// the configured client drives the code flow
	ctx := context.Background()
	p := &oauth.AuthorizationParameter{
		ClientID:     "web",
		RedirectURI:  testRedirect,
		ResponseType: "code",
		Scope:        "openid profile",
		State:        "xyz",
	}
	principal := &oauth.Principal{
		Subject:         "alice",
		Claims:          jose.Payload{"name": "Alice"},
		AuthenticatedAt: time.Now().Add(-time.Minute),
	}
	result, err := s.Authorization.ConfirmConsent(ctx, p, principal)
	require.NoError(t, err)
	require.Equal(t, authorization.RedirectToCallback, result.Type)

	resp, err := s.Authorization.Token(ctx, &authorization.TokenRequest{
		GrantType:    client.GrantAuthorizationCode,
		ClientID:     "web",
		ClientSecret: testSecret,
		Code:         result.Parameters.Get(authorization.ParamCode),
		RedirectURI:  testRedirect,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.IDToken)

	require.NoError(t, s.Discovery().Validate())

	require.NoError(t, s.Close(context.Background()))
	assert.Contains(t, recorder.seen(), events.PermissionAdded)
	assert.Contains(t, recorder.seen(), events.RptIssued)
	assert.Contains(t, recorder.seen(), events.TokenGranted)
	assert.Contains(t, audit.String(), string(events.RptIssued))
}

func TestNew_Redis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Storage.Type = config.StorageRedis
	cfg.Storage.Redis.Addrs = []string{mr.Addr()}
	cfg.Events.Audit = false

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	exerciseUMA(t, s)

	var prefixed int
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "test:") {
			prefixed++
		}
	}
	assert.GreaterOrEqual(t, prefixed, 2, "tickets and RPTs live under the configured prefix")
}

func TestNew_SharedRedisClient(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Storage.Type = config.StorageRedis
	cfg.Storage.Redis.Addrs = []string{"unused:6379"}
	cfg.Events.Audit = false

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := New(context.Background(), cfg, WithRedisClient(redisClient))
	require.NoError(t, err)

	exerciseUMA(t, s)
	require.NoError(t, s.Close(context.Background()))
	assert.Error(t, redisClient.Ping(context.Background()).Err(), "the server closes the client")
}

func TestNew_RedisReplicasShareConsent(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	newReplica := func() *Server {
		cfg := testConfig()
		cfg.Storage.Type = config.StorageRedis
		cfg.Storage.Redis.Addrs = []string{mr.Addr()}
		cfg.Events.Audit = false
		s, err := New(context.Background(), cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s
	}
	replicaA, replicaB := newReplica(), newReplica()

	ctx := context.Background()
	p := &oauth.AuthorizationParameter{
		ClientID:     "web",
		RedirectURI:  testRedirect,
		ResponseType: "code",
		Scope:        "openid profile",
		State:        "xyz",
	}
	principal := &oauth.Principal{Subject: "alice", AuthenticatedAt: time.Now().Add(-time.Minute)}

	confirmed, err := replicaA.Authorization.ConfirmConsent(ctx, p, principal)
	require.NoError(t, err)
	require.Equal(t, authorization.RedirectToCallback, confirmed.Type)

	result, err := replicaB.Authorization.GetAuthorization(ctx, p, principal)
	require.NoError(t, err)
	assert.Equal(t, authorization.RedirectToCallback, result.Type, "no second consent prompt")
	assert.Empty(t, result.Action)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Type = "etcd"
	_, err := New(context.Background(), cfg, WithAuditWriter(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "unknown storage type")

	cfg = testConfig()
	cfg.Clients[0].RedirectURIs = []string{"http://remote.example.com/cb"}
	_, err = New(context.Background(), cfg, WithAuditWriter(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "failed to load clients")

	cfg = testConfig()
	cfg.Storage.Type = config.StorageRedis
	cfg.Storage.Redis.Addrs = []string{"127.0.0.1:1"}
	cfg.Storage.Redis.DialTimeout = 100 * time.Millisecond
	_, err = New(context.Background(), cfg, WithAuditWriter(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "failed to create storage")
}

func TestNew_ClientJWKSURI(t *testing.T) {
	t.Parallel()

	encKey, err := jwks.Generate(jwks.UsageEncryption, "RSA-OAEP")
	require.NoError(t, err)
	doc, err := jwks.Document([]*jwks.Key{encKey})
	require.NoError(t, err)
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/jwk-set+json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(ts.Close)

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caPath,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw}), 0600))

	cfg := testConfig()
	cfg.Clients[0].JWKSURI = ts.URL + "/jwks"
	cfg.Clients[0].IDTokenEncryptedResponseAlg = "RSA-OAEP"
	cfg.HTTPClient.CABundlePath = caPath

	_, err = New(context.Background(), cfg, WithAuditWriter(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "private network", "loopback is refused unless allowed")

	cfg.HTTPClient.AllowPrivateIPs = true
	s, err := New(context.Background(), cfg, WithAuditWriter(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	c, err := s.Clients.GetByID(context.Background(), "web")
	require.NoError(t, err)
	key := c.IDTokenEncryptionKey()
	require.NotNil(t, key)
	assert.Equal(t, encKey.Kid, key.Kid)
}

func TestNewKeyStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	signing, err := jwks.Generate(jwks.UsageSignature, "ES256")
	require.NoError(t, err)
	pemBytes, err := jwks.EncodePEM(signing)
	require.NoError(t, err)
	signingPath := filepath.Join(dir, "signing.pem")
	require.NoError(t, os.WriteFile(signingPath, pemBytes, 0600))

	store, err := NewKeyStore(config.Keys{
		SigningAlgorithm:    "ES256",
		EncryptionAlgorithm: "RSA-OAEP",
		SigningKeyPath:      signingPath,
	})
	require.NoError(t, err)

	key, err := store.SigningKey(context.Background(), "ES256")
	require.NoError(t, err)
	assert.Equal(t, signing.Kid, key.Kid)

	_, err = store.EncryptionKey(context.Background(), "RSA-OAEP")
	assert.NoError(t, err, "missing encryption key is generated")

	_, err = NewKeyStore(config.Keys{
		SigningAlgorithm:    "RS256",
		EncryptionAlgorithm: "RSA-OAEP",
		SigningKeyPath:      filepath.Join(dir, "missing.pem"),
	})
	assert.Error(t, err)
}
