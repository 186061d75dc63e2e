// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval searches embedded service-manual passages.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/FieldAssist/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fieldassist.retrieval")

var (
	// ErrNoIndex is returned when no passages exist for a corpus key.
	ErrNoIndex = errors.New("no manual index for corpus")

	// ErrUnavailable is returned by Unavailable.
	ErrUnavailable = errors.New("manual search is not configured")
)

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// WeaviateSearcher runs nearVector queries over the ManualChunk class,
// filtered by corpus key.
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateSearcher struct {
	client   *weaviate.Client
	embedder Embedder
	class    string
}

// NewWeaviateSearcher creates a searcher. An empty class uses
// datatypes.ManualChunkClass.
func NewWeaviateSearcher(client *weaviate.Client, embedder Embedder, class string) *WeaviateSearcher {
	if class == "" {
		class = datatypes.ManualChunkClass
	}
	return &WeaviateSearcher{client: client, embedder: embedder, class: class}
}

// Search returns up to k passages of corpusKey ranked by similarity to query.
//
// # Outputs
//
//   - []string: Passage texts, most similar first.
//   - error: ErrNoIndex (wrapped) when the corpus has no passages, or the
//     embedding or query failure.
func (s *WeaviateSearcher) Search(ctx context.Context, query, corpusKey string, k int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Search")
	defer span.End()
	span.SetAttributes(attribute.String("corpus_key", corpusKey), attribute.Int("k", k))

	if k <= 0 {
		k = 4
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embed query: %w", err)
	}

	where := filters.Where().
		WithPath([]string{"corpus_key"}).
		WithOperator(filters.Equal).
		WithValueString(corpusKey)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("query %s: %w", s.class, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ManualChunkQueryResponse](resp)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("parse %s response: %w", s.class, err)
	}

	chunks := parsed.Get.ManualChunk
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoIndex, corpusKey)
	}

	docs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if text := strings.TrimSpace(c.Content); text != "" {
			docs = append(docs, text)
		}
	}
	slog.Debug("Manual search completed", "corpus_key", corpusKey, "results", len(docs))
	return docs, nil
}

// Unavailable is the searcher used when no vector store is configured.
type Unavailable struct{}

// Search always fails with ErrUnavailable.
func (Unavailable) Search(context.Context, string, string, int) ([]string, error) {
	return nil, ErrUnavailable
}
