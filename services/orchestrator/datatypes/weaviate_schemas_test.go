// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Schema Definition Tests
// =============================================================================

func propertyTypes(class *models.Class) map[string]string {
	out := make(map[string]string, len(class.Properties))
	for _, p := range class.Properties {
		out[p.Name] = p.DataType[0]
	}
	return out
}

func TestGetManualChunkSchema(t *testing.T) {
	schema := GetManualChunkSchema()

	require.NotNil(t, schema)
	assert.Equal(t, ManualChunkClass, schema.Class)
	assert.Equal(t, "none", schema.Vectorizer)
	assert.Equal(t, map[string]string{
		"content":    "text",
		"corpus_key": "text",
		"source":     "text",
		"page":       "int",
	}, propertyTypes(schema))
}

func TestGetConversationTurnSchema(t *testing.T) {
	schema := GetConversationTurnSchema()

	require.NotNil(t, schema)
	assert.Equal(t, ConversationTurnClass, schema.Class)
	assert.Equal(t, map[string]string{
		"conversation_id": "text",
		"ticket_id":       "text",
		"sender":          "text",
		"message":         "text",
		"media_url":       "text",
		"timestamp":       "number",
	}, propertyTypes(schema))
}

func TestSchemas_PropertiesHaveDescriptions(t *testing.T) {
	for _, class := range []*models.Class{GetManualChunkSchema(), GetConversationTurnSchema()} {
		assert.NotEmpty(t, class.Description, class.Class)
		for _, p := range class.Properties {
			assert.NotEmpty(t, p.Description, "%s.%s", class.Class, p.Name)
		}
	}
}

func TestSchemas_FilterableKeys(t *testing.T) {
	for _, name := range []string{"corpus_key"} {
		for _, p := range GetManualChunkSchema().Properties {
			if p.Name == name {
				require.NotNil(t, p.IndexFilterable)
				assert.True(t, *p.IndexFilterable)
				assert.Equal(t, "field", p.Tokenization)
			}
		}
	}
}

// =============================================================================
// EnsureWeaviateSchema Tests
// =============================================================================

type fakeSchemaServer struct {
	mu       sync.Mutex
	existing map[string]bool
	created  []string
	failOn   string
}

func (f *fakeSchemaServer) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/v1/meta":
		_, _ = w.Write([]byte(`{"version":"1.25.0"}`))
	case strings.HasPrefix(r.URL.Path, "/v1/.well-known/"):
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/schema/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1/schema/")
		if !f.existing[name] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"class":"` + name + `"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
		var class models.Class
		_ = json.NewDecoder(r.Body).Decode(&class)
		if class.Class == f.failOn {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":[{"message":"invalid class"}]}`))
			return
		}
		f.created = append(f.created, class.Class)
		f.existing[class.Class] = true
		_, _ = w.Write([]byte(`{"class":"` + class.Class + `"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newSchemaClient(t *testing.T, f *fakeSchemaServer) *weaviate.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	require.NoError(t, err)
	return client
}

func TestEnsureWeaviateSchema_CreatesMissingClasses(t *testing.T) {
	f := &fakeSchemaServer{existing: map[string]bool{ManualChunkClass: true}}
	client := newSchemaClient(t, f)

	require.NoError(t, EnsureWeaviateSchema(context.Background(), client))
	assert.Equal(t, []string{ConversationTurnClass}, f.created)

	// Idempotent once everything exists.
	require.NoError(t, EnsureWeaviateSchema(context.Background(), client))
	assert.Len(t, f.created, 1)
}

func TestEnsureWeaviateSchema_ReturnsCreateError(t *testing.T) {
	f := &fakeSchemaServer{existing: map[string]bool{}, failOn: ManualChunkClass}
	client := newSchemaClient(t, f)

	err := EnsureWeaviateSchema(context.Background(), client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ManualChunkClass)
}

// =============================================================================
// ParseGraphQLResponse Tests
// =============================================================================

func TestParseGraphQLResponse_ManualChunks(t *testing.T) {
	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]interface{}{
			"ManualChunk": []interface{}{
				map[string]interface{}{
					"content":    "Bleed the fuel system [fig3.png]",
					"corpus_key": "EC220D",
					"page":       12,
					"_additional": map[string]interface{}{"id": "abc", "distance": 0.12},
				},
			},
		},
	}}

	parsed, err := ParseGraphQLResponse[ManualChunkQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.ManualChunk, 1)
	chunk := parsed.Get.ManualChunk[0]
	assert.Equal(t, "EC220D", chunk.CorpusKey)
	require.NotNil(t, chunk.Page)
	assert.Equal(t, 12, *chunk.Page)
	require.NotNil(t, chunk.Additional.Distance)
	assert.InDelta(t, 0.12, *chunk.Additional.Distance, 1e-6)
}

func TestParseGraphQLResponse_Errors(t *testing.T) {
	_, err := ParseGraphQLResponse[ManualChunkQueryResponse](nil)
	assert.Error(t, err)

	resp := &models.GraphQLResponse{Errors: []*models.GraphQLError{{Message: "Cannot query field"}}}
	_, err = ParseGraphQLResponse[ManualChunkQueryResponse](resp)
	assert.ErrorContains(t, err, "Cannot query field")
}

func TestConversationTurnProperties_ToMap(t *testing.T) {
	p := ConversationTurnProperties{ConversationID: "c1", Sender: "user", Message: "hi", Timestamp: 5}
	m := p.ToMap()
	assert.Equal(t, "c1", m["conversation_id"])
	assert.Equal(t, "user", m["sender"])
	assert.Equal(t, int64(5), m["timestamp"])
	assert.Len(t, m, 6)
}
