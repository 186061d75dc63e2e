// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/FieldAssist/pkg/ux"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/spf13/cobra"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		server  string
		userID  string
		apiKey  string
		display string
	)
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running orchestrator from the terminal",
		Long: `Opens an interactive conversation against /v1/chat.

Commands inside the conversation:
  /reset                 start over in INFO
  /image <url> [text]    attach a photo of the machine
  /session               show the stored session (needs an admin key)
  /quit                  leave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			mode := ux.DetectMode(out)
			if display != "" {
				mode = ux.ParseMode(display)
			}
			client := newChatClient(server, apiKey, 0)
			runner := &chatRunner{
				client:  client,
				userID:  userID,
				console: ux.NewConsole(out, mode),
				in:      bufio.NewReader(cmd.InOrStdin()),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err := runner.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	flags := chatCmd.Flags()
	flags.StringVar(&server, "server", "http://localhost:12210", "orchestrator base URL")
	flags.StringVar(&userID, "user", defaultUserID(), "user id for the conversation")
	flags.StringVar(&apiKey, "api-key", a.v.GetString("api_key"), "bearer token when the server has api_keys (env FIELDASSIST_API_KEY)")
	flags.StringVar(&display, "display", "", "full, plain or machine (default: full on a terminal)")
	return chatCmd
}

func defaultUserID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return "console-" + host
	}
	return "console"
}

// chatClient calls the orchestrator HTTP API.
type chatClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// newChatClient creates a client. A zero timeout means five minutes, long
// enough for a slow turn.
func newChatClient(baseURL, apiKey string, timeout time.Duration) *chatClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &chatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Send posts one turn.
func (c *chatClient) Send(ctx context.Context, req datatypes.ChatRequest) (datatypes.ChatResponse, error) {
	var resp datatypes.ChatResponse
	body, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("encode chat request: %w", err)
	}
	err = c.do(ctx, http.MethodPost, "/v1/chat", bytes.NewReader(body), &resp)
	return resp, err
}

// Session reads the stored session for userID.
func (c *chatClient) Session(ctx context.Context, userID string) (session.Snapshot, error) {
	var snap session.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(userID), nil, &snap)
	return snap, err
}

func (c *chatClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("orchestrator unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e datatypes.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			if e.Details != "" {
				return fmt.Errorf("%s (%d): %s", e.Error, resp.StatusCode, e.Details)
			}
			return fmt.Errorf("%s (%d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("orchestrator returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// chatRunner drives the read/send/print loop.
type chatRunner struct {
	client  *chatClient
	userID  string
	console *ux.Console
	in      *bufio.Reader
}

// Run loops until /quit, end of input or ctx cancellation. A failed turn is
// printed and the loop continues.
func (r *chatRunner) Run(ctx context.Context) error {
	r.console.Header(r.client.baseURL, r.userID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.console.Prompt()
		line, err := r.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		req, quit, handled := r.command(ctx, line)
		if quit {
			return nil
		}
		if handled {
			continue
		}

		var resp datatypes.ChatResponse
		sendErr := r.console.WithSpinner("Waiting for the assistant", func() error {
			var err error
			resp, err = r.client.Send(ctx, req)
			return err
		})
		if sendErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.console.Error(sendErr)
			continue
		}
		r.console.Reply(resp.Reply, resp.Phase, resp.MediaURL)
		if resp.Transitioned {
			r.console.PhaseChange(resp.Phase)
		}
	}
}

// command interprets slash commands. It returns the request to send, whether
// to quit, and whether the line was fully handled locally.
func (r *chatRunner) command(ctx context.Context, line string) (datatypes.ChatRequest, bool, bool) {
	req := datatypes.ChatRequest{UserID: r.userID, Message: line}
	if !strings.HasPrefix(line, "/") {
		return req, false, false
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit", "/exit":
		return req, true, false
	case "/reset":
		req.Reset = true
		req.Message = rest
		if rest == "" {
			req.Message = "Hello"
		}
		return req, false, false
	case "/image":
		attachment, text, _ := strings.Cut(rest, " ")
		if attachment == "" {
			r.console.Error(errors.New("usage: /image <url> [text]"))
			return req, false, true
		}
		req.AttachmentURL = attachment
		req.Message = strings.TrimSpace(text)
		return req, false, false
	case "/session":
		snap, err := r.client.Session(ctx, r.userID)
		if err != nil {
			r.console.Error(err)
			return req, false, true
		}
		r.console.Box("Session", formatSnapshot(snap))
		return req, false, true
	default:
		r.console.Error(fmt.Errorf("unknown command %s", name))
		return req, false, true
	}
}

func formatSnapshot(s session.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase: %s\n", s.Phase)
	fmt.Fprintf(&b, "conversation: %s\n", s.ConversationID)
	fmt.Fprintf(&b, "turns: %d\n", s.Turns)
	if s.Ticket.TicketID != "" {
		fmt.Fprintf(&b, "ticket: %s\n", s.Ticket.TicketID)
	}
	fmt.Fprintf(&b, "basic info confirmed: %t", s.BasicInfoAck)
	return b.String()
}
