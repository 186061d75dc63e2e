// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/FieldAssist/pkg/extensions"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/conversation"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("fieldassist.handlers")

// DefaultTurnTimeout bounds one turn once the handler has detached from the
// client's request context.
const DefaultTurnTimeout = 3 * time.Minute

// Turner handles one conversation turn.
type Turner interface {
	HandleMessage(ctx context.Context, msg conversation.Message) (conversation.Reply, error)
}

// ChatHandler serves POST /v1/chat.
type ChatHandler struct {
	turner  Turner
	audit   extensions.AuditLogger
	timeout time.Duration
}

// NewChatHandler creates a chat handler. A zero timeout means
// DefaultTurnTimeout; a nil audit logger discards events.
func NewChatHandler(turner Turner, audit extensions.AuditLogger, timeout time.Duration) *ChatHandler {
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &ChatHandler{turner: turner, audit: audit, timeout: timeout}
}

// HandleChat processes one customer message.
//
// # Description
//
// The turn runs on a context detached from the client connection and
// bounded by the handler's timeout, so a client that disconnects does not
// abandon a run halfway through its tool calls. Engine and tool failures
// never surface as HTTP errors; the reply then carries the fallback text.
//
// # Responses
//
//   - 200: datatypes.ChatResponse
//   - 400: Malformed JSON, validation failure or empty user id
//   - 503: The turn could not acquire the session before the timeout
func (h *ChatHandler) HandleChat(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()
	start := time.Now()

	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Warn("Failed to parse the chat request", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "validation failed", Details: err.Error()})
		return
	}
	span.SetAttributes(attribute.String("user_id", req.UserID), attribute.Bool("reset", req.Reset))

	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	reply, err := h.turner.HandleMessage(turnCtx, conversation.Message{
		UserID:        req.UserID,
		Text:          req.Message,
		Reset:         req.Reset,
		AttachmentURL: req.AttachmentURL,
	})
	caller := clientID(c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		h.logAudit(ctx, extensions.AuditEvent{
			EventType: extensions.EventChatMessage,
			ClientID:  caller,
			UserID:    req.UserID,
			Outcome:   "failure",
			Metadata:  map[string]any{"error": err.Error()},
		})
		if errors.Is(err, session.ErrEmptyUserID) {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "validation failed", Details: err.Error()})
			return
		}
		// The turn itself never fails; an error here means the wait for the
		// user's session lock ran out while another turn held it.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			slog.Warn("Conversation busy", "user_id", req.UserID, "error", err)
			c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: "conversation busy, please retry"})
			return
		}
		slog.Error("Chat turn failed", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "conversation unavailable, please retry"})
		return
	}

	resp := datatypes.NewChatResponse(reply.Text, reply.MediaURL, reply.Phase.String(), reply.ConversationID)
	resp.Transitioned = reply.Transitioned
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()

	if req.Reset {
		h.logAudit(ctx, extensions.AuditEvent{
			EventType: extensions.EventSessionReset,
			ClientID:  caller,
			UserID:    req.UserID,
			Outcome:   "success",
			Metadata:  map[string]any{"conversation_id": reply.ConversationID},
		})
	}
	h.logAudit(ctx, extensions.AuditEvent{
		EventType: extensions.EventChatMessage,
		ClientID:  caller,
		UserID:    req.UserID,
		Outcome:   "success",
		Metadata: map[string]any{
			"conversation_id": reply.ConversationID,
			"phase":           reply.Phase.String(),
			"duration_ms":     resp.ProcessingTimeMs,
		},
	})
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) logAudit(ctx context.Context, event extensions.AuditEvent) {
	if err := h.audit.Log(ctx, event); err != nil {
		slog.Warn("Failed to write audit event", "event_type", event.EventType, "error", err)
	}
}

func clientID(c *gin.Context) string {
	if info := middleware.GetAuthInfo(c); info != nil {
		return info.ClientID
	}
	return ""
}
