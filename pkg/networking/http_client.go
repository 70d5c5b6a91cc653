// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking provides the outbound HTTP client of the identity
// server. It fetches documents published by registered clients, so by
// default it only speaks HTTPS and refuses private addresses.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"syscall"
	"time"
)

// DefaultTimeout bounds a whole outbound request.
const DefaultTimeout = 10 * time.Second

const maxRedirects = 3

var (
	// ErrPrivateAddress is returned when a request would reach a private,
	// loopback or link-local address.
	ErrPrivateAddress = errors.New("address references a private network")
	// ErrInsecureURL is returned for non-HTTPS request URLs.
	ErrInsecureURL = errors.New("URL is not HTTPS")
)

// HTTPClient is the part of *http.Client used by the fetch helpers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// protectedDialerControl runs after name resolution, so it also catches
// public names resolving to private addresses.
func protectedDialerControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("failed to parse address %s: %w", address, err)
	}
	if IsPrivateAddr(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, address)
	}
	return nil
}

// IsPrivateAddr reports whether ip must not be reached from the server.
func IsPrivateAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

// ValidatingTransport rejects non-HTTPS requests before forwarding them.
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrInsecureURL, req.URL.Redacted())
	}
	return t.Transport.RoundTrip(req)
}

// ClientBuilder builds the outbound HTTP client.
type ClientBuilder struct {
	timeout               time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	allowPrivate          bool
}

// NewClientBuilder returns a builder with the default timeouts.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{
		timeout:               DefaultTimeout,
		tlsHandshakeTimeout:   5 * time.Second,
		responseHeaderTimeout: 5 * time.Second,
	}
}

// WithTimeout sets the overall request timeout.
func (b *ClientBuilder) WithTimeout(d time.Duration) *ClientBuilder {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// WithCABundle trusts the PEM certificates in path instead of the system roots.
func (b *ClientBuilder) WithCABundle(path string) *ClientBuilder {
	b.caCertPath = path
	return b
}

// WithPrivateIPs allows connections to private addresses.
func (b *ClientBuilder) WithPrivateIPs(allow bool) *ClientBuilder {
	b.allowPrivate = allow
	return b
}

// Build creates the configured client.
func (b *ClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if !b.allowPrivate {
		transport.DialContext = (&net.Dialer{Control: protectedDialerControl}).DialContext
	}

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath) // #nosec G304 - path comes from server configuration
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}
		transport.TLSClientConfig.RootCAs = pool
	}

	return &http.Client{
		Transport: &ValidatingTransport{Transport: transport},
		Timeout:   b.timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}, nil
}
