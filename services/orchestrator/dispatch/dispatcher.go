// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch resolves a batch of tool calls requested by a run.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fieldassist.dispatch")

// Call outcome labels.
const (
	StatusOK             = "ok"
	StatusError          = "error"
	StatusMissingContext = "missing_context"
)

// MissingContextError reports that a call needs a session value that has not
// been collected yet.
type MissingContextError struct {
	Tool    string
	Missing tools.ContextKey
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("%s requires %s, which is not known yet for this conversation", e.Tool, e.Missing)
}

// Result is the outcome of one call.
type Result struct {
	CallID   string
	Tool     string
	Output   string
	Status   string
	Err      error
	Duration time.Duration
}

// Observer is notified once per executed call.
type Observer func(tool, status string, elapsed time.Duration)

// Dispatcher executes tool calls against a registry on behalf of a session.
//
// # Description
//
// For each call, in input order: duplicates of an already seen call id are
// skipped; session context is injected into the arguments; the tool runs;
// a successful result is written back into the session; the result, or an
// error payload, is serialized as the call's output. A failing call never
// prevents the remaining calls from running.
//
// # Thread Safety
//
// A Dispatcher is stateless and may be shared. Dispatch mutates the session
// it is given, so the caller must hold that session's lease.
type Dispatcher struct {
	registry *tools.Registry
	observe  Observer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver records per-call outcomes, e.g. into metrics.
func WithObserver(fn Observer) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

// New creates a dispatcher over reg.
func New(reg *tools.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{registry: reg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs calls and returns one Result per distinct call id, in input
// order.
func (d *Dispatcher) Dispatch(ctx context.Context, s *session.Session, calls []llm.ToolCall) []Result {
	ctx, span := tracer.Start(ctx, "Dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int("tool_calls", len(calls)), attribute.String("user_id", s.UserID))

	seen := make(map[string]struct{}, len(calls))
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		if _, dup := seen[call.ID]; dup {
			slog.Warn("Skipping duplicate tool call", "call_id", call.ID, "tool", call.Name, "user_id", s.UserID)
			continue
		}
		seen[call.ID] = struct{}{}
		results = append(results, d.one(ctx, s, call))
	}
	return results
}

// Outputs converts results into the engine's submission payload.
func Outputs(results []Result) []llm.ToolOutput {
	out := make([]llm.ToolOutput, len(results))
	for i, r := range results {
		out[i] = llm.ToolOutput{ToolCallID: r.CallID, Output: r.Output}
	}
	return out
}

// Action binds the dispatcher to a session as a poll action.
func (d *Dispatcher) Action(s *session.Session) llm.ActionFunc {
	return func(ctx context.Context, calls []llm.ToolCall) []llm.ToolOutput {
		return Outputs(d.Dispatch(ctx, s, calls))
	}
}

func (d *Dispatcher) one(ctx context.Context, s *session.Session, call llm.ToolCall) Result {
	ctx, span := tracer.Start(ctx, "tool."+call.Name)
	defer span.End()
	span.SetAttributes(attribute.String("call_id", call.ID))

	start := time.Now()
	res := Result{CallID: call.ID, Tool: call.Name}

	value, err := d.execute(ctx, s, call)
	res.Duration = time.Since(start)

	var mce *MissingContextError
	switch {
	case errors.As(err, &mce):
		res.Status = StatusMissingContext
		res.Err = err
		res.Output = encode(map[string]string{
			"error":   StatusMissingContext,
			"tool":    call.Name,
			"missing": string(mce.Missing),
			"message": mce.Error(),
		})
	case err != nil:
		res.Status = StatusError
		res.Err = err
		res.Output = encode(map[string]string{"error": err.Error()})
	default:
		res.Status = StatusOK
		writeBack(s, call.Name, value)
		res.Output = encode(value)
	}

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Status)
		slog.Warn("Tool call failed", "tool", call.Name, "call_id", call.ID, "user_id", s.UserID, "status", res.Status, "error", res.Err)
	} else {
		slog.Info("Tool call completed", "tool", call.Name, "call_id", call.ID, "user_id", s.UserID, "duration_ms", res.Duration.Milliseconds())
	}
	if d.observe != nil {
		d.observe(call.Name, res.Status, res.Duration)
	}
	return res
}

func (d *Dispatcher) execute(ctx context.Context, s *session.Session, call llm.ToolCall) (any, error) {
	tool, ok := d.registry.Lookup(call.Name)
	if !ok {
		return nil, &tools.ToolError{Tool: call.Name, Err: tools.ErrUnknownTool}
	}
	args, err := inject(s, tool, json.RawMessage(call.Arguments))
	if err != nil {
		return nil, err
	}
	return d.registry.Invoke(ctx, call.Name, args)
}

// inject fills the tool's context arguments from the session. Arguments that
// are not a JSON object are passed through for the handler to reject.
func inject(s *session.Session, tool tools.Tool, raw json.RawMessage) (json.RawMessage, error) {
	if len(tool.Context) == 0 {
		return raw, nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return raw, nil
	}
	if args == nil {
		args = map[string]json.RawMessage{}
	}

	for _, c := range tool.Context {
		key := string(c.Key)
		if !c.Override && present(args[key]) {
			continue
		}
		value := contextValue(s, c.Key)
		if value == "" {
			if c.Optional {
				continue
			}
			return nil, &MissingContextError{Tool: tool.Name, Missing: c.Key}
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		args[key] = b
	}

	out, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	return out, nil
}

func present(v json.RawMessage) bool {
	switch string(v) {
	case "", "null", `""`:
		return false
	}
	return true
}

func contextValue(s *session.Session, key tools.ContextKey) string {
	switch key {
	case tools.ContextUserID:
		return s.UserID
	case tools.ContextMachineID:
		return s.MachineID()
	case tools.ContextTicketID:
		return s.Ticket.TicketID
	case tools.ContextMachineName:
		return s.Info.ModelName
	}
	return ""
}

// writeBack records what a successful call established about the
// conversation.
func writeBack(s *session.Session, tool string, value any) {
	switch tool {
	case tools.MatchModel:
		if r, ok := value.(tools.MatchModelResult); ok && r.ModelName != nil {
			s.Info.ModelName = *r.ModelName
		}
	case tools.MatchSerialNumber:
		if r, ok := value.(tools.MatchSerialResult); ok && r.Found {
			recordMachine(s, r.Machine.ID.String(), r.Machine.Model, r.Machine.SerialNumber)
		}
	case tools.CreateMachine:
		if r, ok := value.(tools.CreateMachineResult); ok && r.Created {
			recordMachine(s, r.Machine.ID.String(), r.Machine.Model, r.Machine.SerialNumber)
		}
	case tools.CreateTicket:
		if r, ok := value.(tools.TicketResult); ok && r.Success {
			s.Ticket = session.Ticket{
				TicketID:    r.Ticket.ID.String(),
				MachineID:   r.Ticket.MachineID.String(),
				Title:       r.Ticket.Title,
				Description: r.Ticket.Description,
				Resolved:    r.Ticket.Resolved,
			}
		}
	case tools.EditTicket:
		if r, ok := value.(tools.TicketResult); ok && r.Success {
			if r.Ticket.Title != "" {
				s.Ticket.Title = r.Ticket.Title
			}
			if r.Ticket.Description != "" {
				s.Ticket.Description = r.Ticket.Description
			}
		}
	case tools.SolveTicket:
		if r, ok := value.(tools.TicketResult); ok && r.Success {
			s.Ticket.Resolved = true
		}
	}
}

func recordMachine(s *session.Session, id, model, serial string) {
	if id != "" {
		s.Info.MachineID = id
	}
	if model != "" {
		s.Info.ModelName = model
	}
	if serial != "" {
		s.Info.SerialNumber = serial
	}
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": "unserializable result: " + err.Error()})
	}
	return string(b)
}
