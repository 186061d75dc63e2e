// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds the fixed catalogue of functions the assistants may
// call.
//
// # Description
//
// A Registry is built once at startup and is read-only afterwards. Each Tool
// carries the JSON schema declared to the assistant, the session context it
// needs injected, and a handler that executes it. The registry executes; it
// does not validate arguments against the schema.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/sashabaranov/go-openai/jsonschema"
)

var (
	// ErrUnknownTool is returned for a name not in the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when arguments do not decode.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ToolError attributes a failure to a tool.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ContextKey names a session value that dispatch can inject into arguments.
type ContextKey string

const (
	ContextUserID      ContextKey = "user_id"
	ContextMachineID   ContextKey = "machine_id"
	ContextTicketID    ContextKey = "ticket_id"
	ContextMachineName ContextKey = "machine_name"
)

// ContextArg declares one injected argument.
type ContextArg struct {
	Key ContextKey

	// Override replaces any value the assistant supplied. Otherwise the
	// session value fills the argument only when it is absent.
	Override bool

	// Optional skips injection silently when the session has no value.
	// A required argument with no value fails the call with missing context.
	Optional bool
}

// Handler executes a tool with its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one registry entry.
type Tool struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
	Context     []ContextArg
	Handler     Handler
}

// Spec returns the declaration sent to the engine.
func (t Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Registry is an immutable name to Tool map.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
type Registry struct {
	tools map[string]Tool
	names []string
}

// NewRegistry builds a registry. Names must be unique and non-empty and
// every tool needs a handler.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %s has no handler", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %s", t.Name)
		}
		r.tools[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools in lexical order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Specs returns the declarations for names, in the given order.
func (r *Registry) Specs(names ...string) ([]llm.ToolSpec, error) {
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, n)
		}
		specs = append(specs, t.Spec())
	}
	return specs, nil
}

// Invoke runs the named tool. Every failure, including a handler panic, is
// returned as a *ToolError.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (result any, err error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &ToolError{Tool: name, Err: ErrUnknownTool}
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &ToolError{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err = t.Handler(ctx, args)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &ToolError{Tool: name, Err: err}
	}
	return result, nil
}

// Typed adapts a function over a decoded argument struct into a Handler.
//
// # Example
//
//	Handler: tools.Typed(func(ctx context.Context, a solveArgs) (any, error) {
//	    return desk.ResolveTicket(ctx, a.TicketID.String())
//	}),
func Typed[A any](fn func(ctx context.Context, args A) (any, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return fn(ctx, args)
	}
}
