// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the identity server
// configuration and the logic required to load and validate it.
package config

import (
	"time"

	"github.com/stacklok/idserver/pkg/telemetry"
	"github.com/stacklok/idserver/pkg/uma"
)

// EnvPrefix prefixes the environment variables overriding file values,
// e.g. IDSERVER_STORAGE_TYPE=redis.
const EnvPrefix = "IDSERVER"

// Storage backends
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config represents the configuration of the identity server.
type Config struct {
	// Issuer is the server identifier, an https URL without query or
	// fragment
	Issuer          string           `yaml:"issuer" validate:"required,url"`
	ScopesSupported []string         `yaml:"scopesSupported" validate:"required,min=1,dive,required"`
	Lifetimes       Lifetimes        `yaml:"lifetimes"`
	Keys            Keys             `yaml:"keys"`
	Storage         Storage          `yaml:"storage"`
	Events          Events           `yaml:"events"`
	HTTPClient      HTTPClient       `yaml:"httpClient"`
	Clients         []Client         `yaml:"clients" validate:"dive"`
	UMA             UMA              `yaml:"uma"`
	Telemetry       telemetry.Config `yaml:"telemetry"`
}

// Lifetimes holds the lifetime of every artifact the server mints.
type Lifetimes struct {
	AuthorizationCode time.Duration `yaml:"authorizationCode" validate:"gt=0"`
	Continuation      time.Duration `yaml:"continuation" validate:"gt=0"`
	AccessToken       time.Duration `yaml:"accessToken" validate:"gt=0"`
	RefreshToken      time.Duration `yaml:"refreshToken" validate:"gt=0"`
	IDToken           time.Duration `yaml:"idToken" validate:"gt=0"`
	Ticket            time.Duration `yaml:"ticket" validate:"gt=0"`
	Rpt               time.Duration `yaml:"rpt" validate:"gt=0"`
}

// Keys configures the server keys. Without key paths an ephemeral key pair
// is generated at startup.
type Keys struct {
	SigningAlgorithm    string `yaml:"signingAlgorithm" validate:"required"`
	EncryptionAlgorithm string `yaml:"encryptionAlgorithm" validate:"required"`
	SigningKeyPath      string `yaml:"signingKeyPath" validate:"omitempty,file"`
	EncryptionKeyPath   string `yaml:"encryptionKeyPath" validate:"omitempty,file"`
	// GracePeriod is how long rotated public keys stay resolvable
	GracePeriod time.Duration `yaml:"gracePeriod" validate:"gte=0"`
}

// Storage selects and configures the code and token stores.
type Storage struct {
	Type string `yaml:"type" validate:"oneof=memory redis"`
	// Retention is how long expired entries are kept
	Retention       time.Duration `yaml:"retention" validate:"gte=0"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" validate:"gte=0"`
	Redis           Redis         `yaml:"redis"`
}

// Redis holds the Redis connection settings, used when Storage.Type is
// redis.
type Redis struct {
	// Addrs are sentinel addresses when MasterName is set
	Addrs        []string      `yaml:"addrs" validate:"omitempty,dive,hostname_port"`
	MasterName   string        `yaml:"masterName"`
	DB           int           `yaml:"db" validate:"gte=0"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout" validate:"gte=0"`
	ReadTimeout  time.Duration `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"writeTimeout" validate:"gte=0"`
}

// Events configures the event publisher.
type Events struct {
	BufferSize int `yaml:"bufferSize" validate:"gt=0"`
	// Audit writes every event to the audit log
	Audit bool `yaml:"audit"`
}

// HTTPClient configures the outbound client fetching client jwks_uri
// documents.
type HTTPClient struct {
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	CABundlePath string        `yaml:"caBundlePath" validate:"omitempty,file"`
	// AllowPrivateIPs lets jwks_uri point at private addresses
	AllowPrivateIPs bool `yaml:"allowPrivateIPs"`
}

// Client is a statically registered client.
type Client struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
	// Secret is hashed at startup and never kept in plain text unless the
	// client signs with HMAC
	Secret                  string   `yaml:"secret"`
	RedirectURIs            []string `yaml:"redirectUris" validate:"required,min=1,dive,url"`
	AllowedScopes           []string `yaml:"allowedScopes"`
	ResponseTypes           []string `yaml:"responseTypes" validate:"required,min=1"`
	GrantTypes              []string `yaml:"grantTypes"`
	RequirePKCE             bool     `yaml:"requirePkce"`
	TokenEndpointAuthMethod string   `yaml:"tokenEndpointAuthMethod" validate:"omitempty,oneof=none client_secret_basic client_secret_post"` //nolint:lll

	IDTokenSignedResponseAlg     string `yaml:"idTokenSignedResponseAlg"`
	IDTokenEncryptedResponseAlg  string `yaml:"idTokenEncryptedResponseAlg"`
	IDTokenEncryptedResponseEnc  string `yaml:"idTokenEncryptedResponseEnc"`
	UserInfoSignedResponseAlg    string `yaml:"userInfoSignedResponseAlg"`
	UserInfoEncryptedResponseAlg string `yaml:"userInfoEncryptedResponseAlg"`
	UserInfoEncryptedResponseEnc string `yaml:"userInfoEncryptedResponseEnc"`

	// JWKSURI is fetched at startup for the client encryption keys
	JWKSURI string `yaml:"jwksUri" validate:"omitempty,url"`
}

// UMA holds the protected resource sets and their policies.
type UMA struct {
	ResourceSets []uma.ResourceSet `yaml:"resourceSets"`
	Policies     []uma.Policy      `yaml:"policies"`
}

// Redacted returns a copy of c with secrets masked, suitable for printing.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Storage.Redis.Password != "" {
		out.Storage.Redis.Password = redacted
	}
	out.Clients = make([]Client, len(c.Clients))
	for i, cl := range c.Clients {
		if cl.Secret != "" {
			cl.Secret = redacted
		}
		out.Clients[i] = cl
	}
	if len(c.Telemetry.Headers) > 0 {
		out.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k := range c.Telemetry.Headers {
			out.Telemetry.Headers[k] = redacted
		}
	}
	return &out
}

const redacted = "********"
