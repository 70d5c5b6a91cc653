// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/stacklok/idserver/pkg/logger"
	"github.com/stacklok/idserver/pkg/networking"
)

// Default values
const (
	DefaultAuthorizationCodeLifetime = 10 * time.Minute
	DefaultContinuationLifetime      = 30 * time.Minute
	DefaultAccessTokenLifetime       = time.Hour
	DefaultRefreshTokenLifetime      = 7 * 24 * time.Hour
	DefaultIDTokenLifetime           = time.Hour
	DefaultTicketLifetime            = time.Hour
	DefaultRptLifetime               = time.Hour
	DefaultKeyGracePeriod            = 24 * time.Hour
	DefaultEventBufferSize           = 256
	DefaultRedisKeyPrefix            = "idserver:"
)

// DefaultScopes are offered when the configuration names none.
var DefaultScopes = []string{"openid", "profile", "email", "address", "phone", "offline_access"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("issuer", "")
	v.SetDefault("scopesSupported", DefaultScopes)

	v.SetDefault("lifetimes.authorizationCode", DefaultAuthorizationCodeLifetime)
	v.SetDefault("lifetimes.continuation", DefaultContinuationLifetime)
	v.SetDefault("lifetimes.accessToken", DefaultAccessTokenLifetime)
	v.SetDefault("lifetimes.refreshToken", DefaultRefreshTokenLifetime)
	v.SetDefault("lifetimes.idToken", DefaultIDTokenLifetime)
	v.SetDefault("lifetimes.ticket", DefaultTicketLifetime)
	v.SetDefault("lifetimes.rpt", DefaultRptLifetime)

	v.SetDefault("keys.signingAlgorithm", "RS256")
	v.SetDefault("keys.encryptionAlgorithm", "RSA-OAEP")
	v.SetDefault("keys.signingKeyPath", "")
	v.SetDefault("keys.encryptionKeyPath", "")
	v.SetDefault("keys.gracePeriod", DefaultKeyGracePeriod)

	v.SetDefault("storage.type", StorageMemory)
	v.SetDefault("storage.retention", time.Hour)
	v.SetDefault("storage.cleanupInterval", 5*time.Minute)
	v.SetDefault("storage.redis.addrs", []string{})
	v.SetDefault("storage.redis.masterName", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.username", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.keyPrefix", DefaultRedisKeyPrefix)

	v.SetDefault("events.bufferSize", DefaultEventBufferSize)
	v.SetDefault("events.audit", true)

	v.SetDefault("httpClient.timeout", networking.DefaultTimeout)
	v.SetDefault("httpClient.caBundlePath", "")
	v.SetDefault("httpClient.allowPrivateIPs", false)

	v.SetDefault("telemetry.serviceName", "idserver")
	v.SetDefault("telemetry.serviceVersion", "")
	v.SetDefault("telemetry.otlpEndpoint", "")
	v.SetDefault("telemetry.tracingEnabled", false)
	v.SetDefault("telemetry.metricsEnabled", false)
	v.SetDefault("telemetry.samplingRate", 0.1)
	v.SetDefault("telemetry.enablePrometheusMetricsPath", false)
	v.SetDefault("telemetry.includeRuntimeMetrics", false)
}

// Load reads the configuration file at path, applies defaults and
// IDSERVER_ environment overrides, and validates the result. An empty path
// loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		logger.Debugw("loaded configuration file", "path", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
