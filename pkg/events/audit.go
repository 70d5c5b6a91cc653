// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LevelAudit is a custom audit log level - between Info and Warn
const LevelAudit = slog.Level(2)

// NewAuditLogger creates a JSON logger writing audit records to w.
func NewAuditLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: LevelAudit}))
}

// AuditSink writes every event as an audit record.
type AuditSink struct {
	logger *slog.Logger
}

// NewAuditSink creates a sink writing to w.
func NewAuditSink(w io.Writer) *AuditSink {
	return &AuditSink{logger: NewAuditLogger(w)}
}

// Handle logs e.
func (s *AuditSink) Handle(ctx context.Context, e *Event) error {
	e.LogTo(ctx, s.logger, LevelAudit)
	return nil
}

// LogTo logs the event to logger at level.
func (e *Event) LogTo(ctx context.Context, logger *slog.Logger, level slog.Level) {
	attrs := []slog.Attr{
		slog.String("event_id", e.ID),
		slog.String("process_id", e.ProcessID),
		slog.String("type", string(e.Type)),
		slog.String("outcome", e.Outcome),
		slog.Time("occurred_at", e.OccurredAt),
	}
	if e.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", e.ClientID))
	}
	if e.Subject != "" {
		attrs = append(attrs, slog.String("subject", e.Subject))
	}
	if e.Error != nil {
		attrs = append(attrs, slog.Group("error",
			slog.String("code", e.Error.Code),
			slog.String("message", e.Error.Message),
		))
	}
	if len(e.Data) > 0 {
		attrs = append(attrs, slog.Any("data", e.Data))
	}
	logger.LogAttrs(ctx, level, "audit_event", attrs...)
}

var _ Sink = (*AuditSink)(nil)
