// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/sashabaranov/go-openai"
)

// EmbedderConfig configures OpenAIEmbedder.
type EmbedderConfig struct {
	APIKey  string
	BaseURL string

	// Model defaults to text-embedding-ada-002, the model the manual
	// index was built with.
	Model openai.EmbeddingModel

	// MaxRetries bounds retries of rate-limited requests. Default: 3
	MaxRetries int

	// InitialBackoff is the first retry delay, doubled per attempt.
	// Default: 500ms
	InitialBackoff time.Duration

	HTTPClient *http.Client
}

// OpenAIEmbedder embeds queries with the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	maxRetries int
	backoff    time.Duration
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder. The API key is resolved the same
// way as the assistants engine.
func NewOpenAIEmbedder(cfg EmbedderConfig) (*OpenAIEmbedder, error) {
	apiKey, err := llm.ResolveAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.Model == "" {
		cfg.Model = openai.AdaEmbeddingV2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
	}, nil
}

// Embed returns the embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}

	var lastErr error
	delay := e.backoff
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("Embedding request rate limited, retrying",
				"attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err == nil {
			if len(resp.Data) == 0 {
				return nil, fmt.Errorf("embedding response has no data")
			}
			return resp.Data[0].Embedding, nil
		}
		lastErr = err
		if !isRateLimited(err) {
			break
		}
	}
	return nil, fmt.Errorf("create embedding: %w", lastErr)
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
