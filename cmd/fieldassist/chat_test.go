// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/FieldAssist/pkg/ux"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrchestrator answers /v1/chat and /v1/sessions like the real routes.
type fakeOrchestrator struct {
	mu       sync.Mutex
	requests []datatypes.ChatRequest
	auth     []string
}

func (f *fakeOrchestrator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		var req datatypes.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		n := len(f.requests)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if req.Message == "busy" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(datatypes.ErrorResponse{Error: "conversation busy", Details: "retry shortly"})
			return
		}
		resp := datatypes.ChatResponse{Reply: "reply " + req.Message, Phase: "INFO", ConversationID: "c1"}
		if n == 2 {
			resp.Phase = "TROUBLESHOOT"
			resp.Transitioned = true
			resp.MediaURL = "https://cdn.example/hose.png"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /v1/sessions/{userId}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer admin" {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(datatypes.ErrorResponse{Error: "insufficient role"})
			return
		}
		_ = json.NewEncoder(w).Encode(session.Snapshot{
			UserID:         r.PathValue("userId"),
			Phase:          phase.Solve,
			ConversationID: "c1",
			Turns:          4,
			Ticket:         session.Ticket{TicketID: "T-9"},
		})
	})
	return mux
}

func runConsole(t *testing.T, server *httptest.Server, apiKey, input string) string {
	t.Helper()
	var out bytes.Buffer
	runner := &chatRunner{
		client:  newChatClient(server.URL+"/", apiKey, 0),
		userID:  "u1",
		console: ux.NewConsole(&out, ux.ModeMachine),
		in:      bufio.NewReader(strings.NewReader(input)),
	}
	require.NoError(t, runner.Run(context.Background()))
	return out.String()
}

func TestChatRunner_Conversation(t *testing.T) {
	fake := &fakeOrchestrator{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	out := runConsole(t, server, "secret", "hello\n\n/image https://cdn.example/photo.jpg leaking hose\n/reset\n/quit\nignored\n")

	assert.Contains(t, out, "SERVER: "+server.URL+"\n")
	assert.Contains(t, out, "PHASE: INFO\nREPLY: reply hello\n")
	assert.Contains(t, out, "PHASE: TROUBLESHOOT\nREPLY: reply leaking hose\nMEDIA: https://cdn.example/hose.png\nTRANSITION: TROUBLESHOOT\n")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.requests, 3)
	assert.Equal(t, datatypes.ChatRequest{UserID: "u1", Message: "hello"}, fake.requests[0])
	assert.Equal(t, "https://cdn.example/photo.jpg", fake.requests[1].AttachmentURL)
	assert.Equal(t, "leaking hose", fake.requests[1].Message)
	assert.True(t, fake.requests[2].Reset)
	assert.Equal(t, "Hello", fake.requests[2].Message)
	for _, h := range fake.auth {
		assert.Equal(t, "Bearer secret", h)
	}
}

func TestChatRunner_ErrorsDoNotEndTheLoop(t *testing.T) {
	fake := &fakeOrchestrator{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	out := runConsole(t, server, "", "busy\n/image\n/bogus\n/session\nlast")

	assert.Contains(t, out, "ERROR: conversation busy (409): retry shortly\n")
	assert.Contains(t, out, "ERROR: usage: /image <url> [text]\n")
	assert.Contains(t, out, "ERROR: unknown command /bogus\n")
	assert.Contains(t, out, "ERROR: insufficient role (403)\n")
	assert.Contains(t, out, "REPLY: reply last\n", "a final line without newline is still sent")
}

func TestChatRunner_SessionCommand(t *testing.T) {
	server := httptest.NewServer((&fakeOrchestrator{}).handler())
	defer server.Close()

	out := runConsole(t, server, "admin", "/session\n")

	assert.Contains(t, out, "phase: SOLVE\n")
	assert.Contains(t, out, "ticket: T-9\n")
	assert.Contains(t, out, "turns: 4\n")
}

func TestChatClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newChatClient(url, "", 0).Send(context.Background(), datatypes.ChatRequest{UserID: "u1", Message: "hi"})
	assert.ErrorContains(t, err, "orchestrator unreachable")
}

func TestChatCommand_PlainDisplay(t *testing.T) {
	server := httptest.NewServer((&fakeOrchestrator{}).handler())
	defer server.Close()

	cmd := newRootCmdWith(&app{v: viper.New()})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("hi\n"))
	cmd.SetArgs([]string{"chat", "--server", server.URL, "--user", "u2", "--display", "plain"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "FieldAssist console ("+server.URL+" as u2)")
	assert.Contains(t, out.String(), "[INFO] reply hi\n")
}
