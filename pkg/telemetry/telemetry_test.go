// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stacklok/idserver/pkg/authorization"
	oerrors "github.com/stacklok/idserver/pkg/errors"
	"github.com/stacklok/idserver/pkg/oauth"
	"github.com/stacklok/idserver/pkg/uma"
)

type stubUMA struct {
	resp *uma.AuthorizationResponse
	err  error
}

func (s *stubUMA) AddPermission(context.Context, string, []uma.PermissionRequest) (string, error) {
	return "ticket", s.err
}

func (s *stubUMA) GetAuthorization(context.Context, string, *uma.AuthorizationRequest) (*uma.AuthorizationResponse, error) {
	return s.resp, s.err
}

func (*stubUMA) Introspect(context.Context, string) (*uma.Rpt, error) {
	return &uma.Rpt{Value: "rpt"}, nil
}

func (s *stubUMA) ApproveTicket(context.Context, string) error {
	return s.err
}

type stubAuthorization struct {
	authorization.Handler
	result *authorization.ActionResult
	err    error
}

func (s *stubAuthorization) GetAuthorization(
	context.Context, *oauth.AuthorizationParameter, *oauth.Principal,
) (*authorization.ActionResult, error) {
	return s.result, s.err
}

func newTestProviders() (*tracetest.SpanRecorder, *sdktrace.TracerProvider, *sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return recorder, tp, reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func attr(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestUMAHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		stub        *stubUMA
		wantOutcome string
		wantCode    string
		wantResult  string
	}{
		{
			name:        "authorized",
			stub:        &stubUMA{resp: &uma.AuthorizationResponse{Result: uma.Authorized, Rpt: "rpt"}},
			wantOutcome: "success",
			wantResult:  string(uma.Authorized),
		},
		{
			name:        "expired ticket",
			stub:        &stubUMA{err: oerrors.NewExpiredTicket()},
			wantOutcome: "failure",
			wantCode:    oerrors.ErrExpiredTicket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder, tp, reader, mp := newTestProviders()
			h, err := NewUMAHandler(tt.stub, tp, mp)
			require.NoError(t, err)

			resp, err := h.GetAuthorization(context.Background(), "client1", &uma.AuthorizationRequest{TicketID: "t"})
			assert.Equal(t, tt.stub.resp, resp)
			assert.Equal(t, tt.stub.err, err)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, "uma.get_authorization", span.Name())
			assert.Equal(t, "client1", attr(span.Attributes(), AttrClientID))
			assert.Equal(t, tt.wantOutcome, attr(span.Attributes(), AttrOutcome))
			assert.Equal(t, tt.wantCode, attr(span.Attributes(), AttrErrorCode))
			assert.Equal(t, tt.wantResult, attr(span.Attributes(), AttrResult))
			if tt.wantCode != "" {
				assert.Equal(t, codes.Error, span.Status().Code)
			}

			metrics := collect(t, reader)
			counter, ok := metrics[MetricRequests]
			require.True(t, ok)
			sum, ok := counter.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			assert.Contains(t, metrics, MetricRequestDuration)
		})
	}
}

func TestUMAHandler_ApproveTicket(t *testing.T) {
	t.Parallel()

	recorder, tp, _, mp := newTestProviders()
	h, err := NewUMAHandler(&stubUMA{err: oerrors.NewInvalidTicket("gone")}, tp, mp)
	require.NoError(t, err)

	err = h.ApproveTicket(context.Background(), "t")
	assert.True(t, oerrors.IsInvalidTicket(err))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "uma.approve_ticket", spans[0].Name())
	assert.Equal(t, oerrors.ErrInvalidTicket, attr(spans[0].Attributes(), AttrErrorCode))
}

func TestAuthorizationHandler_KeepsErrorRedirect(t *testing.T) {
	t.Parallel()

	recorder, tp, _, mp := newTestProviders()
	redirect := &authorization.ActionResult{Type: authorization.RedirectToCallback}
	stub := &stubAuthorization{result: redirect, err: oerrors.NewLoginRequired("st")}
	h, err := NewAuthorizationHandler(stub, tp, mp)
	require.NoError(t, err)

	result, err := h.GetAuthorization(context.Background(), &oauth.AuthorizationParameter{ClientID: "client1"}, nil)
	assert.Same(t, redirect, result)
	assert.True(t, oerrors.IsLoginRequired(err))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, oerrors.ErrLoginRequired, attr(spans[0].Attributes(), AttrErrorCode))
}

type failingMeterProvider struct{ noop.MeterProvider }

func (failingMeterProvider) Meter(string, ...metric.MeterOption) metric.Meter { return failingMeter{} }

type failingMeter struct{ noop.Meter }

func (failingMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return nil, errors.New("histogram unavailable")
}

func TestHandlers_InstrumentErrors(t *testing.T) {
	t.Parallel()

	_, tp, _, _ := newTestProviders()

	_, err := NewAuthorizationHandler(&stubAuthorization{}, tp, failingMeterProvider{})
	assert.ErrorContains(t, err, MetricRequestDuration)

	_, err = NewUMAHandler(&stubUMA{}, tp, failingMeterProvider{})
	assert.ErrorContains(t, err, "histogram unavailable")
}

func TestNewProviders(t *testing.T) {
	t.Parallel()

	t.Run("nothing configured", func(t *testing.T) {
		t.Parallel()
		p, err := NewProviders(context.Background(), Config{ServiceName: "idserver"})
		require.NoError(t, err)
		assert.Nil(t, p.PrometheusHandler())
		assert.NotNil(t, p.MeterProvider())
		assert.NotNil(t, p.TracerProvider())
		assert.NoError(t, p.Shutdown(context.Background()))
	})

	t.Run("prometheus", func(t *testing.T) {
		t.Parallel()
		p, err := NewProviders(context.Background(), Config{
			ServiceName:                 "idserver",
			ServiceVersion:              "test",
			EnablePrometheusMetricsPath: true,
			IncludeRuntimeMetrics:       true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
		require.NotNil(t, p.PrometheusHandler())

		h, err := NewUMAHandler(&stubUMA{resp: &uma.AuthorizationResponse{Result: uma.NeedInfo}},
			p.TracerProvider(), p.MeterProvider())
		require.NoError(t, err)
		_, err = h.GetAuthorization(context.Background(), "client1", &uma.AuthorizationRequest{TicketID: "t"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		p.PrometheusHandler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "idserver_requests")
		assert.Contains(t, rec.Body.String(), "go_")
	})
}
