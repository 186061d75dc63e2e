// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation runs one support conversation turn end to end.
//
// # Description
//
// The Orchestrator leases the user's session, posts the (redacted and
// optionally image-annotated) message to the active phase's thread, drives
// the assistant run to a terminal status while dispatching its tool calls,
// resolves image tokens in the reply, evaluates the phase transition table
// and records the exchange in the conversation history.
//
// # Thread Safety
//
// An Orchestrator is safe for concurrent use. Turns of the same user are
// serialized by the session store; turns of different users run in parallel.
package conversation

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/detection"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/dispatch"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/history"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/observability"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/AleutianAI/FieldAssist/services/policy_engine"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("fieldassist.conversation")

// DefaultFallbackReply is returned when a turn produced no assistant text.
const DefaultFallbackReply = "Sorry, I could not process your message right now. Please try again in a moment."

// Redactor scrubs sensitive values from inbound text.
type Redactor interface {
	Redact(text string) (string, []policy_engine.Finding)
}

// MediaResolver splits image tokens out of reply text.
type MediaResolver interface {
	Resolve(text string) (string, string)
}

// Message is one inbound user message.
type Message struct {
	UserID        string
	Text          string
	Reset         bool
	AttachmentURL string
}

// Reply is the outcome of a turn.
type Reply struct {
	Text           string
	MediaURL       string
	Phase          phase.Phase
	ConversationID string

	// Transitioned is true when the session moved to a new phase after
	// this turn. Text is still the reply of the phase that handled it.
	Transitioned bool
}

// Config wires the orchestrator's collaborators.
type Config struct {
	// Engine hosts assistants, threads and runs. Required.
	Engine llm.Engine

	// Store holds sessions. Required.
	Store *session.Store

	// Dispatcher executes tool calls. Required.
	Dispatcher *dispatch.Dispatcher

	// Assistants maps each phase to its assistant id. INFO is required;
	// a phase without an entry is served by the INFO assistant.
	Assistants map[phase.Phase]string

	// Poller drives runs. Default: llm.DefaultPollConfig.
	Poller *llm.Poller

	// Table decides phase transitions. Default: phase.DefaultTable.
	Table *phase.Table

	// Optional collaborators.
	Redactor Redactor
	Detector detection.Detector
	Media    MediaResolver
	History  history.Recorder
	Metrics  *observability.Metrics

	// FallbackReply replaces an empty reply. Default: DefaultFallbackReply.
	FallbackReply string
}

// Orchestrator handles conversation turns.
type Orchestrator struct {
	engine     llm.Engine
	store      *session.Store
	dispatcher *dispatch.Dispatcher
	assistants map[phase.Phase]string
	poller     *llm.Poller
	table      *phase.Table
	redactor   Redactor
	detector   detection.Detector
	media      MediaResolver
	history    history.Recorder
	metrics    *observability.Metrics
	fallback   string
}

// New validates cfg and builds an Orchestrator.
//
// # Outputs
//
//   - *Orchestrator: Ready to handle turns.
//   - error: Non-nil if a required collaborator or the INFO assistant is missing.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil || cfg.Store == nil || cfg.Dispatcher == nil {
		return nil, errors.New("conversation: engine, store and dispatcher are required")
	}
	if cfg.Assistants[phase.Info] == "" {
		return nil, fmt.Errorf("conversation: no assistant configured for %s", phase.Info)
	}

	o := &Orchestrator{
		engine:     cfg.Engine,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		assistants: make(map[phase.Phase]string, len(cfg.Assistants)),
		poller:     cfg.Poller,
		table:      cfg.Table,
		redactor:   cfg.Redactor,
		detector:   cfg.Detector,
		media:      cfg.Media,
		history:    cfg.History,
		metrics:    cfg.Metrics,
		fallback:   cfg.FallbackReply,
	}
	for p, id := range cfg.Assistants {
		if !p.Valid() {
			return nil, fmt.Errorf("conversation: assistant configured for unknown phase %q", p)
		}
		if id != "" {
			o.assistants[p] = id
		}
	}
	if o.poller == nil {
		o.poller = llm.NewPoller(llm.DefaultPollConfig(), nil)
	}
	if o.table == nil {
		o.table = phase.DefaultTable()
	}
	if o.detector == nil {
		o.detector = detection.Disabled{}
	}
	if o.history == nil {
		o.history = history.NopRecorder{}
	}
	if o.fallback == "" {
		o.fallback = DefaultFallbackReply
	}
	return o, nil
}

// assistantFor returns the phase whose assistant serves p, falling back to
// INFO when p has none.
func (o *Orchestrator) assistantFor(p phase.Phase) (phase.Phase, string) {
	if id, ok := o.assistants[p]; ok {
		return p, id
	}
	return phase.Info, o.assistants[phase.Info]
}
