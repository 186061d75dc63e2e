// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Converts Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct by a marshal/unmarshal round trip. The target
// type T must have json tags matching the expected response shape. Errors
// reported in the response body are returned as an error.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil, carries GraphQL errors, or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName(ManualChunkClass).Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[ManualChunkQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, c := range parsed.Get.ManualChunk {
//	    fmt.Println(c.Content)
//	}
//
// # Limitations
//
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if err := GraphQLErrors(resp); err != nil {
		return nil, err
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// GraphQLErrors joins the errors reported in a GraphQL response, or returns
// nil when there are none.
func GraphQLErrors(resp *models.GraphQLResponse) error {
	if resp == nil || len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil && e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New("graphql: " + strings.Join(msgs, "; "))
}

// =============================================================================
// Response Types
// =============================================================================

// ManualChunkQueryResponse is the response of a Get query on ManualChunk.
type ManualChunkQueryResponse struct {
	Get struct {
		ManualChunk []ManualChunkResult `json:"ManualChunk"`
	} `json:"Get"`
}

// ManualChunkResult is a single passage.
type ManualChunkResult struct {
	Content    string `json:"content"`
	CorpusKey  string `json:"corpus_key"`
	Source     string `json:"source"`
	Page       *int   `json:"page"`
	Additional struct {
		ID       string   `json:"id"`
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}

// ConversationTurnQueryResponse is the response of a Get query on
// ConversationTurn.
type ConversationTurnQueryResponse struct {
	Get struct {
		ConversationTurn []ConversationTurnProperties `json:"ConversationTurn"`
	} `json:"Get"`
}

// =============================================================================
// Property Structs
// =============================================================================

// ConversationTurnProperties are the properties of a ConversationTurn object.
type ConversationTurnProperties struct {
	ConversationID string `json:"conversation_id"`
	TicketID       string `json:"ticket_id"`
	Sender         string `json:"sender"`
	Message        string `json:"message"`
	MediaURL       string `json:"media_url"`
	Timestamp      int64  `json:"timestamp"`
}

// ToMap converts ConversationTurnProperties to the map format required by
// Weaviate's WithProperties().
//
// # Example
//
//	props := ConversationTurnProperties{ConversationID: id, Sender: "user", Message: text}
//	client.Data().Creator().WithClassName(ConversationTurnClass).WithProperties(props.ToMap()).Do(ctx)
func (p *ConversationTurnProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": p.ConversationID,
		"ticket_id":       p.TicketID,
		"sender":          p.Sender,
		"message":         p.Message,
		"media_url":       p.MediaURL,
		"timestamp":       p.Timestamp,
	}
}
