// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultMaxResponseSize is the default maximum response body size (1MB).
	DefaultMaxResponseSize = 1024 * 1024

	// DefaultErrorPreviewSize is the maximum size of the body kept in an HTTPError.
	DefaultErrorPreviewSize = 512
)

// HTTPError is a non-200 response.
type HTTPError struct {
	StatusCode int
	// Body is a preview of the response body
	Body string
	URL  string
}

// Error implements error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request to %s failed with status %d", e.URL, e.StatusCode)
}

// IsHTTPError reports whether err is an HTTPError with the given status
// code. A zero statusCode matches any HTTPError.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return statusCode == 0 || httpErr.StatusCode == statusCode
}

// FetchOption configures FetchJSON.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	accept          string
	maxResponseSize int64
}

// WithAccept sets the Accept header. Any JSON media type is accepted in
// the response.
func WithAccept(mediaType string) FetchOption {
	return func(o *fetchOptions) {
		o.accept = mediaType
	}
}

// WithMaxResponseSize limits the response body size.
func WithMaxResponseSize(size int64) FetchOption {
	return func(o *fetchOptions) {
		o.maxResponseSize = size
	}
}

// FetchJSON GETs requestURL and decodes the JSON body into T.
func FetchJSON[T any](ctx context.Context, client HTTPClient, requestURL string, opts ...FetchOption) (T, error) {
	var data T
	options := &fetchOptions{accept: "application/json", maxResponseSize: DefaultMaxResponseSize}
	for _, opt := range opts {
		opt(options)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return data, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", options.accept)

	resp, err := client.Do(req)
	if err != nil {
		return data, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// one extra byte tells an oversized body from one of exactly the limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, options.maxResponseSize+1))
	if err != nil {
		return data, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		preview := string(body)
		if len(preview) > DefaultErrorPreviewSize {
			preview = preview[:DefaultErrorPreviewSize]
		}
		return data, &HTTPError{StatusCode: resp.StatusCode, Body: preview, URL: requestURL}
	}
	if int64(len(body)) > options.maxResponseSize {
		return data, fmt.Errorf("response from %s exceeds %d bytes", requestURL, options.maxResponseSize)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "json") {
		return data, fmt.Errorf("unexpected content type: %s", contentType)
	}

	if err := json.Unmarshal(body, &data); err != nil {
		return data, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return data, nil
}
