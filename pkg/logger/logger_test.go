// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
)

func TestUnstructuredLogsWithEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"unset", "", true},
		{"true", "true", true},
		{"false", "false", false},
		{"garbage", "not-a-bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv(unstructuredLogsEnv).Return(tt.envValue)

			assert.Equal(t, tt.expected, unstructuredLogsWithEnv(mockEnv))
		})
	}
}

func swapLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Get()
	Set(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { Set(prev) })
	return &buf
}

func TestLevels(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name  string
		logFn func()
		want  string
	}{
		{"debug", func() { Debugw("debug msg", "k", "v") }, "level=DEBUG"},
		{"info", func() { Infow("info msg", "k", "v") }, "level=INFO"},
		{"warn", func() { Warnw("warn msg", "k", "v") }, "level=WARN"},
		{"error", func() { Errorw("error msg", "k", "v") }, "level=ERROR"},
	}

	for _, tt := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tt.name, func(t *testing.T) {
			buf := swapLogger(t)
			tt.logFn()
			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), "k=v")
		})
	}
}

func TestNewLogr(t *testing.T) { //nolint:paralleltest // mutates singleton
	buf := swapLogger(t)
	NewLogr().Info("from logr", "key", "value")
	assert.Contains(t, buf.String(), "from logr")
}
