// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the request and response types of the chat endpoint.
// Weaviate class definitions live in weaviate_schemas.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// MaxMessageContentBytes is the maximum size of an inbound message.
	MaxMessageContentBytes = 32 * 1024

	// MaxUserIDLength bounds the external user identifier.
	MaxUserIDLength = 128
)

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatRequest is one inbound customer message.
//
// # Fields
//
//   - UserID: Stable external identifier of the customer. Required.
//   - Message: The customer's text. Required unless AttachmentURL is set.
//   - Reset: Start a fresh conversation before handling Message.
//   - AttachmentURL: Optional public URL of a photo to run through detection.
//
// # Example
//
//	{
//	    "user_id": "42",
//	    "message": "My EC220D will not start",
//	    "reset": false
//	}
type ChatRequest struct {
	UserID        string `json:"user_id" validate:"required,max=128"`
	Message       string `json:"message" validate:"required_without=AttachmentURL,maxbytes"`
	Reset         bool   `json:"reset"`
	AttachmentURL string `json:"attachment_url,omitempty" validate:"omitempty,url"`
}

// Validate validates the ChatRequest fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChatResponse is the reply to a ChatRequest.
type ChatResponse struct {
	ResponseID       string `json:"response_id"`
	Reply            string `json:"reply"`
	MediaURL         string `json:"media_url,omitempty"`
	Phase            string `json:"phase"`
	ConversationID   string `json:"conversation_id"`
	Transitioned     bool   `json:"transitioned,omitempty"`
	Timestamp        int64  `json:"timestamp"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// NewChatResponse stamps a response with a fresh id and the current time.
func NewChatResponse(reply, mediaURL, phase, conversationID string) *ChatResponse {
	return &ChatResponse{
		ResponseID:     uuid.NewString(),
		Reply:          reply,
		MediaURL:       mediaURL,
		Phase:          phase,
		ConversationID: conversationID,
		Timestamp:      time.Now().UnixMilli(),
	}
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
