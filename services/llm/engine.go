// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts the external conversational engine.
//
// # Description
//
// The engine hosts named assistants, per-conversation threads (ordered
// message logs), and runs (one execution of an assistant against a thread).
// A run progresses through a small status machine and may pause in
// requires_action until the caller submits outputs for the tool calls it
// requested. The Poller drives a run to a terminal status.
package llm

import (
	"context"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
)

// Terminal reports whether no further progress is possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunIncomplete, RunExpired, RunCancelled:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the run completed normally.
func (s RunStatus) Succeeded() bool {
	return s == RunCompleted
}

// Message roles accepted by AddMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is one pending tool invocation requested by a run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolOutput answers one ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Run is the observable state of one run.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCall
	LastError string
}

// ToolSpec declares a callable tool to an assistant.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

// AssistantSpec describes an assistant to provision.
type AssistantSpec struct {
	Name         string
	Instructions string
	Model        string
	Tools        []ToolSpec
}

// Engine is the conversational engine contract.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across threads. Callers
// serialize operations on the same thread.
type Engine interface {
	// CreateAssistant provisions an assistant and returns its id.
	CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error)

	// CreateThread opens a new empty thread and returns its id.
	CreateThread(ctx context.Context) (string, error)

	// AddMessage appends a message with role to the thread.
	AddMessage(ctx context.Context, threadID, role, text string) error

	// StartRun starts assistantID against threadID.
	StartRun(ctx context.Context, threadID, assistantID string) (Run, error)

	// GetRun retrieves the current state of a run.
	GetRun(ctx context.Context, threadID, runID string) (Run, error)

	// SubmitToolOutputs answers the tool calls of a run in requires_action.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)

	// LatestReply returns the text of the newest assistant message produced
	// by runID, or "" if the run produced none.
	LatestReply(ctx context.Context, threadID, runID string) (string, error)
}
