// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Audit event types.
const (
	EventChatMessage   = "chat.message"
	EventSessionReset  = "session.reset"
	EventSessionDelete = "session.delete"
	EventSessionRead   = "session.read"
	EventAuthFailed    = "auth.failed"
)

// AuditEvent represents a security-relevant event.
//
// Events never carry message text. Conversation content lives in the
// conversation history; the audit trail records who did what.
//
// Example:
//
//	event := AuditEvent{
//	    EventType: extensions.EventChatMessage,
//	    ClientID:  authInfo.ClientID,
//	    UserID:    req.UserID,
//	    Outcome:   "success",
//	    Metadata:  map[string]any{"phase": "INFO"},
//	}
type AuditEvent struct {
	// EventType categorizes the event. Format: "category.action".
	EventType string

	// Timestamp is when the event occurred. Zero means now.
	Timestamp time.Time

	// ClientID identifies the integration that made the request.
	ClientID string

	// UserID identifies the end user the request concerned.
	UserID string

	// Outcome indicates the result: "success", "failure" or "error".
	Outcome string

	// Metadata holds additional event-specific data such as the
	// conversation id or duration_ms.
	Metadata map[string]any
}

// AuditLogger records audit events.
//
// Implementations must be safe for concurrent use and should return quickly.
type AuditLogger interface {
	// Log records one event.
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events as structured log records under the
// "audit" group.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger returns a logger writing to l, or to slog.Default when
// l is nil.
func NewSlogAuditLogger(l *slog.Logger) *SlogAuditLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogAuditLogger{logger: l}
}

// Log writes the event.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.EventType == "" {
		return errors.New("audit event type is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("client_id", event.ClientID),
		slog.String("user_id", event.UserID),
		slog.String("outcome", event.Outcome),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "Audit event", slog.Group("audit", attrs...))
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
