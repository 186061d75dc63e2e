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
	"log/slog"
	"net/http"

	"github.com/AleutianAI/FieldAssist/pkg/extensions"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionStore is the part of session.Store the session endpoints use.
type SessionStore interface {
	Snapshot(ctx context.Context, userID string) (session.Snapshot, bool, error)
	Reset(ctx context.Context, userID string) error
}

// GetSession returns the snapshot of one user's session.
func GetSession(store SessionStore, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		snap, ok, err := store.Snapshot(c.Request.Context(), userID)
		if err != nil {
			slog.Error("Failed to read session", "user_id", userID, "error", err)
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "session busy, please retry"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "session not found"})
			return
		}
		logAudit(c, audit, extensions.EventSessionRead, userID)
		c.JSON(http.StatusOK, snap)
	}
}

// DeleteSession resets one user's session to a fresh one in INFO, with no
// collected facts and no threads.
func DeleteSession(store SessionStore, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		slog.Info("Received a request to delete a session", "user_id", userID)

		if err := store.Reset(c.Request.Context(), userID); err != nil {
			slog.Error("Failed to delete session", "user_id", userID, "error", err)
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "failed to delete session"})
			return
		}
		logAudit(c, audit, extensions.EventSessionDelete, userID)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_user_id": userID})
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Metrics serves the default Prometheus registry.
func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func logAudit(c *gin.Context, audit extensions.AuditLogger, eventType, userID string) {
	if audit == nil {
		return
	}
	event := extensions.AuditEvent{
		EventType: eventType,
		ClientID:  clientID(c),
		UserID:    userID,
		Outcome:   "success",
	}
	if err := audit.Log(c.Request.Context(), event); err != nil {
		slog.Warn("Failed to write audit event", "event_type", eventType, "error", err)
	}
}
