// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/FieldAssist/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// WeaviateRecorder stores turns as ConversationTurn objects.
type WeaviateRecorder struct {
	client *weaviate.Client
}

var _ Recorder = (*WeaviateRecorder)(nil)

// NewWeaviateRecorder creates the recorder. The ConversationTurn class must
// exist; see datatypes.EnsureWeaviateSchema.
func NewWeaviateRecorder(client *weaviate.Client) *WeaviateRecorder {
	return &WeaviateRecorder{client: client}
}

// Append creates one object.
func (r *WeaviateRecorder) Append(ctx context.Context, turn Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	props := datatypes.ConversationTurnProperties{
		ConversationID: turn.ConversationID,
		TicketID:       turn.TicketID,
		Sender:         turn.Sender,
		Message:        turn.Text,
		MediaURL:       turn.MediaURL,
		Timestamp:      ts.UnixMilli(),
	}
	_, err := r.client.Data().Creator().
		WithClassName(datatypes.ConversationTurnClass).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("history: create %s: %w", datatypes.ConversationTurnClass, err)
	}
	return nil
}
