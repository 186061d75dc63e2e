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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/FieldAssist/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.uber.org/goleak"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestTurn_Validate(t *testing.T) {
	assert.NoError(t, Turn{ConversationID: "c", Text: "hi"}.Validate())
	assert.NoError(t, Turn{ConversationID: "c", MediaURL: "https://x/a.png"}.Validate())
	assert.ErrorIs(t, Turn{ConversationID: "c"}.Validate(), ErrEmptyTurn)
	assert.Error(t, Turn{Text: "hi"}.Validate())
}

// =============================================================================
// SQLRecorder Tests
// =============================================================================

func TestSQLRecorder_AppendAndLoad(t *testing.T) {
	rec, err := NewSQLRecorder(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, rec.Append(ctx, Turn{ConversationID: "conv-1", Sender: SenderUser, Text: "My EC220D leaks"}))
	require.NoError(t, rec.Append(ctx, Turn{ConversationID: "conv-1", TicketID: "7", Sender: SenderAssistant,
		Text: "Check the hose", MediaURL: "https://cdn/fig1.png"}))
	require.NoError(t, rec.Append(ctx, Turn{ConversationID: "conv-2", Sender: SenderUser, Text: "other"}))

	rows, err := rec.Conversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, SenderUser, rows[0].Sender)
	assert.Equal(t, "My EC220D leaks", rows[0].Message)
	assert.False(t, rows[0].CreatedAt.IsZero())
	assert.Equal(t, "7", rows[1].TicketID)
	assert.Equal(t, "https://cdn/fig1.png", rows[1].MediaURL)
}

func TestSQLRecorder_RejectsEmptyTurn(t *testing.T) {
	rec, err := NewSQLRecorder(openTestDB(t))
	require.NoError(t, err)

	err = rec.Append(context.Background(), Turn{ConversationID: "c", Sender: SenderUser})
	assert.ErrorIs(t, err, ErrEmptyTurn)

	rows, err := rec.Conversation(context.Background(), "c")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestNewSQLRecorder_NilDB(t *testing.T) {
	_, err := NewSQLRecorder(nil)
	assert.Error(t, err)
}

func TestOpenSQL(t *testing.T) {
	db, err := OpenSQL("sqlite", ":memory:")
	require.NoError(t, err)
	assert.NotNil(t, db)

	_, err = OpenSQL("postgres", "x")
	assert.ErrorContains(t, err, "unsupported")
}

// =============================================================================
// WeaviateRecorder Tests
// =============================================================================

func TestWeaviateRecorder_Append(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/meta":
			_, _ = w.Write([]byte(`{"version":"1.25.0"}`))
		case strings.HasPrefix(r.URL.Path, "/v1/.well-known/"):
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/objects":
			var body struct {
				Class      string         `json:"class"`
				Properties map[string]any `json:"properties"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			got = body.Properties
			got["__class"] = body.Class
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"class":"ConversationTurn","id":"8c8a8f8e-0000-4000-8000-000000000001"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	require.NoError(t, err)

	rec := NewWeaviateRecorder(client)
	ts := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, rec.Append(context.Background(), Turn{
		ConversationID: "conv-1", Sender: SenderSystem, Text: "[System: image analysis]", Timestamp: ts,
	}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, datatypes.ConversationTurnClass, got["__class"])
	assert.Equal(t, "conv-1", got["conversation_id"])
	assert.Equal(t, SenderSystem, got["sender"])
	assert.EqualValues(t, 1_700_000_000_000, got["timestamp"])
}

// =============================================================================
// Async Tests
// =============================================================================

type blockingRecorder struct {
	mu      sync.Mutex
	turns   []Turn
	release chan struct{}
	err     error
}

func (b *blockingRecorder) Append(_ context.Context, turn Turn) error {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, turn)
	return b.err
}

func (b *blockingRecorder) snapshot() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Turn(nil), b.turns...)
}

func TestAsync_WritesInOrderAndDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	next := &blockingRecorder{}
	a := NewAsync(next, AsyncOptions{QueueSize: 8})

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, a.Append(context.Background(), Turn{ConversationID: "c", Sender: SenderUser, Text: text}))
	}
	require.NoError(t, a.Close(context.Background()))

	turns := next.snapshot()
	require.Len(t, turns, 3)
	assert.Equal(t, "one", turns[0].Text)
	assert.Equal(t, "three", turns[2].Text)
	assert.False(t, turns[0].Timestamp.IsZero())

	assert.ErrorIs(t, a.Append(context.Background(), Turn{ConversationID: "c", Text: "late"}), ErrClosed)
}

func TestAsync_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	next := &blockingRecorder{release: make(chan struct{})}
	var dropped atomic.Int32
	a := NewAsync(next, AsyncOptions{QueueSize: 1, OnDrop: func() { dropped.Add(1) }})

	// The worker takes the first turn and blocks; the second fills the
	// queue; the rest are dropped.
	require.NoError(t, a.Append(context.Background(), Turn{ConversationID: "c", Text: "1"}))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Append(context.Background(), Turn{ConversationID: "c", Text: "n"}))
	}
	assert.Equal(t, int32(3), dropped.Load())

	close(next.release)
	require.NoError(t, a.Close(context.Background()))
	assert.Len(t, next.snapshot(), 2)
}

func TestAsync_FailuresAreLoggedOnly(t *testing.T) {
	next := &blockingRecorder{err: errors.New("db down")}
	a := NewAsync(next, AsyncOptions{})

	require.NoError(t, a.Append(context.Background(), Turn{ConversationID: "c", Text: "hi"}))
	require.NoError(t, a.Close(context.Background()))
	assert.Len(t, next.snapshot(), 1)
}

func TestAsync_RejectsEmptyTurn(t *testing.T) {
	a := NewAsync(NopRecorder{}, AsyncOptions{})
	defer a.Close(context.Background())

	assert.ErrorIs(t, a.Append(context.Background(), Turn{ConversationID: "c"}), ErrEmptyTurn)
}

func TestAsync_CloseHonorsContext(t *testing.T) {
	next := &blockingRecorder{release: make(chan struct{})}
	a := NewAsync(next, AsyncOptions{})
	require.NoError(t, a.Append(context.Background(), Turn{ConversationID: "c", Text: "stuck"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)

	close(next.release)
	require.NoError(t, a.Close(context.Background()))
}
