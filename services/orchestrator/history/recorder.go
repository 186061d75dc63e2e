// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists conversation turns for review.
//
// Recording is best effort: the orchestrator wraps a Recorder in Async so a
// slow or failing store never delays or fails a turn.
package history

import (
	"context"
	"errors"
	"time"
)

// Senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// ErrEmptyTurn is returned for a turn with neither text nor media.
var ErrEmptyTurn = errors.New("turn must carry a message or a media_url")

// Turn is one persisted message.
type Turn struct {
	ConversationID string
	TicketID       string
	Sender         string
	Text           string
	MediaURL       string
	Timestamp      time.Time
}

// Validate rejects turns that would store an empty row.
func (t Turn) Validate() error {
	if t.Text == "" && t.MediaURL == "" {
		return ErrEmptyTurn
	}
	if t.ConversationID == "" {
		return errors.New("turn has no conversation id")
	}
	return nil
}

// Recorder stores turns.
type Recorder interface {
	Append(ctx context.Context, turn Turn) error
}

// NopRecorder discards turns.
type NopRecorder struct{}

// Append validates and drops the turn.
func (NopRecorder) Append(_ context.Context, turn Turn) error {
	return turn.Validate()
}
