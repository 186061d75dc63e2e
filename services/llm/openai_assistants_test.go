// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAssistantsAPI captures requests and serves canned Assistants API bodies.
type fakeAssistantsAPI struct {
	mu       sync.Mutex
	requests map[string][]byte
	query    map[string]string
}

func newFakeAssistantsAPI(t *testing.T) (*httptest.Server, *fakeAssistantsAPI) {
	t.Helper()
	api := &fakeAssistantsAPI{requests: map[string][]byte{}, query: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/assistants", func(w http.ResponseWriter, r *http.Request) {
		api.capture(r)
		writeJSON(w, `{"id":"asst_info","object":"assistant","model":"gpt-4.1-mini"}`)
	})
	mux.HandleFunc("/v1/threads", func(w http.ResponseWriter, r *http.Request) {
		api.capture(r)
		writeJSON(w, `{"id":"thread_abc","object":"thread"}`)
	})
	mux.HandleFunc("/v1/threads/thread_abc/messages", func(w http.ResponseWriter, r *http.Request) {
		api.capture(r)
		if r.Method == http.MethodGet {
			writeJSON(w, `{"object":"list","data":[
				{"id":"msg_3","role":"user","content":[{"type":"text","text":{"value":"ignored","annotations":[]}}]},
				{"id":"msg_2","role":"assistant","content":[
					{"type":"text","text":{"value":"Which model is it?","annotations":[]}},
					{"type":"text","text":{"value":"And the serial?","annotations":[]}}]},
				{"id":"msg_1","role":"assistant","content":[{"type":"text","text":{"value":"older","annotations":[]}}]}
			],"has_more":false}`)
			return
		}
		writeJSON(w, `{"id":"msg_1","object":"thread.message","role":"user"}`)
	})
	mux.HandleFunc("/v1/threads/thread_abc/runs", func(w http.ResponseWriter, r *http.Request) {
		api.capture(r)
		writeJSON(w, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"queued"}`)
	})
	mux.HandleFunc("/v1/threads/thread_abc/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		api.capture(r)
		writeJSON(w, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"requires_action",
			"required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"match_model","arguments":"{\"model\":\"EC220D\"}"}}
			]}}}`)
	})
	mux.HandleFunc("/v1/threads/thread_abc/runs/run_1/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		api.capture(r)
		writeJSON(w, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","status":"failed",
			"last_error":{"code":"server_error","message":"engine overloaded"}}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, api
}

func (a *fakeAssistantsAPI) capture(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	defer a.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	a.requests[key] = body
	a.query[key] = r.URL.RawQuery
}

func (a *fakeAssistantsAPI) body(key string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[key]
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func newTestEngine(t *testing.T) (*OpenAIEngine, *fakeAssistantsAPI) {
	t.Helper()
	srv, api := newFakeAssistantsAPI(t)
	engine, err := NewOpenAIEngine(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return engine, api
}

func TestOpenAIEngine_CreateAssistantSendsTools(t *testing.T) {
	engine, api := newTestEngine(t)

	id, err := engine.CreateAssistant(context.Background(), AssistantSpec{
		Name:         "Info Assistant",
		Instructions: "Collect the model and serial number.",
		Tools: []ToolSpec{{
			Name:        "match_model",
			Description: "Check whether a model is supported.",
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{"model": {Type: jsonschema.String}},
				Required:   []string{"model"},
			},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "asst_info", id)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(api.body("POST /v1/assistants"), &sent))
	assert.Equal(t, "gpt-4.1-mini", sent["model"])
	assert.Equal(t, "Info Assistant", sent["name"])
	tools, ok := sent["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "match_model", fn["name"])
}

func TestOpenAIEngine_ThreadMessageRun(t *testing.T) {
	engine, api := newTestEngine(t)
	ctx := context.Background()

	threadID, err := engine.CreateThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", threadID)

	require.NoError(t, engine.AddMessage(ctx, threadID, RoleUser, "My excavator will not start"))
	assert.Contains(t, string(api.body("POST /v1/threads/thread_abc/messages")), "will not start")

	run, err := engine.StartRun(ctx, threadID, "asst_info")
	require.NoError(t, err)
	assert.Equal(t, Run{ID: "run_1", ThreadID: "thread_abc", Status: RunQueued}, run)
	assert.Contains(t, string(api.body("POST /v1/threads/thread_abc/runs")), "asst_info")
}

func TestOpenAIEngine_GetRunConvertsToolCalls(t *testing.T) {
	engine, _ := newTestEngine(t)

	run, err := engine.GetRun(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	assert.Equal(t, RunRequiresAction, run.Status)
	require.Len(t, run.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "match_model", Arguments: `{"model":"EC220D"}`}, run.ToolCalls[0])
}

func TestOpenAIEngine_SubmitToolOutputs(t *testing.T) {
	engine, api := newTestEngine(t)

	run, err := engine.SubmitToolOutputs(context.Background(), "thread_abc", "run_1",
		[]ToolOutput{{ToolCallID: "call_1", Output: `{"model_name":"EC220D"}`}})
	require.NoError(t, err)
	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, "engine overloaded", run.LastError)

	body := string(api.body("POST /v1/threads/thread_abc/runs/run_1/submit_tool_outputs"))
	assert.Contains(t, body, `"tool_call_id":"call_1"`)
}

func TestOpenAIEngine_LatestReplyJoinsNewestAssistantMessage(t *testing.T) {
	engine, api := newTestEngine(t)

	reply, err := engine.LatestReply(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	assert.Equal(t, "Which model is it?\nAnd the serial?", reply)

	api.mu.Lock()
	q := api.query["GET /v1/threads/thread_abc/messages"]
	api.mu.Unlock()
	assert.True(t, strings.Contains(q, "run_id=run_1"), q)
	assert.True(t, strings.Contains(q, "order=desc"), q)
}

func TestOpenAIEngine_ErrorsAreWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	engine, err := NewOpenAIEngine(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = engine.CreateThread(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create thread")
}

func TestResolveAPIKey(t *testing.T) {
	key, err := ResolveAPIKey("  sk-explicit ")
	require.NoError(t, err)
	assert.Equal(t, "sk-explicit", key)

	t.Setenv("OPENAI_API_KEY", "sk-env")
	key, err = ResolveAPIKey("")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", key)
}

func TestNewOpenAIEngine_RateLimit(t *testing.T) {
	engine, err := NewOpenAIEngine(OpenAIConfig{APIKey: "sk", RequestsPerSecond: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, engine.limiter.Burst())
	assert.Equal(t, "gpt-4.1-mini", engine.model)
}
