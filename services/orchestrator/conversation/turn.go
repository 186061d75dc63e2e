// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/detection"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/history"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/observability"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// runOutcome is the result of one message-and-run exchange on a thread.
type runOutcome struct {
	reply   string
	outcome string
}

// HandleMessage processes one user message.
//
// # Description
//
// The session is leased for the whole turn, so two messages from the same
// user never interleave on a thread. Engine failures, failed runs and poll
// exhaustion degrade to the fallback reply; tool failures are reported to the
// assistant; history failures are logged. None of them is returned.
//
// When a transition fires, the new phase's thread is opened with a handoff
// message and that run is drained before returning. The caller still
// receives the reply of the phase that handled the message.
//
// # Inputs
//
//   - ctx: Bounds the turn, including the lock wait and every engine call.
//   - msg: The message. UserID is required.
//
// # Outputs
//
//   - Reply: Always populated when err is nil.
//   - error: session.ErrEmptyUserID, or the context error if the lock wait
//     was cancelled.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg Message) (Reply, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "conversation.HandleMessage")
	defer span.End()

	lease, err := o.store.Acquire(ctx, msg.UserID, msg.Reset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return Reply{}, err
	}
	defer lease.Release()
	o.metrics.SetActiveSessions(o.store.Len())

	s := lease.Session
	s.Turns++
	if lease.Fresh {
		slog.Info("Started new conversation", "user_id", s.UserID, "conversation_id", s.ConversationID)
	}

	active, assistantID := o.assistantFor(s.Phase)
	if active != s.Phase {
		slog.Warn("No assistant configured for phase, using INFO assistant",
			"user_id", s.UserID, "phase", s.Phase)
	}
	span.SetAttributes(
		attribute.String("phase", string(active)),
		attribute.String("conversation_id", s.ConversationID),
		attribute.Int("turn", s.Turns),
	)

	userText := o.redact(msg.Text)
	engineText := userText
	ticketID := s.Ticket.TicketID
	o.record(ctx, s, ticketID, history.SenderUser, userText, msg.AttachmentURL)

	if msg.AttachmentURL != "" {
		annotation := o.annotate(ctx, msg.AttachmentURL)
		engineText = detection.AppendAnnotation(userText, annotation)
		o.record(ctx, s, ticketID, history.SenderSystem, annotation, "")
	}

	out := o.runTurn(ctx, s, active, assistantID, engineText)

	text, mediaURL := o.resolveMedia(out.reply)
	if strings.TrimSpace(text) == "" && mediaURL == "" {
		text = o.fallback
	}
	o.record(ctx, s, s.Ticket.TicketID, history.SenderAssistant, text, mediaURL)

	reply := Reply{
		Text:           text,
		MediaURL:       mediaURL,
		ConversationID: s.ConversationID,
	}
	// Transitions are evaluated only after a completed run of the session's
	// own phase.
	if out.outcome == observability.OutcomeCompleted && active == s.Phase {
		reply.Transitioned = o.evaluate(ctx, s)
	}
	reply.Phase = s.Phase

	o.metrics.RecordTurn(string(active), out.outcome, time.Since(start))
	slog.Info("Turn completed",
		"user_id", s.UserID,
		"phase", active,
		"outcome", out.outcome,
		"transitioned", reply.Transitioned,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

// runTurn posts text to the phase's thread, creating the thread on first use.
func (o *Orchestrator) runTurn(ctx context.Context, s *session.Session, p phase.Phase, assistantID, text string) runOutcome {
	threadID, err := o.ensureThread(ctx, s, p)
	if err != nil {
		slog.Error("Could not open thread", "user_id", s.UserID, "phase", p, "error", err)
		return runOutcome{outcome: observability.OutcomeEngineError}
	}
	return o.exchange(ctx, s, p, threadID, assistantID, text)
}

func (o *Orchestrator) ensureThread(ctx context.Context, s *session.Session, p phase.Phase) (string, error) {
	if id, ok := s.Thread(p); ok {
		return id, nil
	}
	id, err := o.engine.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	if err := s.BindThread(p, id); err != nil {
		return "", err
	}
	slog.Debug("Opened thread", "user_id", s.UserID, "phase", p, "thread_id", id)
	return id, nil
}

// exchange appends text, runs the assistant to a terminal status while
// dispatching tool calls, and fetches the run's reply.
func (o *Orchestrator) exchange(ctx context.Context, s *session.Session, p phase.Phase, threadID, assistantID, text string) runOutcome {
	if err := o.engine.AddMessage(ctx, threadID, llm.RoleUser, text); err != nil {
		slog.Error("Could not post message", "user_id", s.UserID, "thread_id", threadID, "error", err)
		return runOutcome{outcome: observability.OutcomeEngineError}
	}
	run, err := o.engine.StartRun(ctx, threadID, assistantID)
	if err != nil {
		slog.Error("Could not start run", "user_id", s.UserID, "thread_id", threadID, "error", err)
		return runOutcome{outcome: observability.OutcomeEngineError}
	}
	if run.ThreadID == "" {
		run.ThreadID = threadID
	}

	res, err := o.poller.Drive(ctx, o.engine, run, o.dispatcher.Action(s))
	o.metrics.RecordPolls(string(p), res.Attempts)

	outcome := observability.OutcomeCompleted
	switch {
	case errors.Is(err, llm.ErrPollTimeout):
		slog.Error("Run did not finish in time", "user_id", s.UserID, "run_id", run.ID, "error", err)
		outcome = observability.OutcomeTimeout
	case err != nil:
		slog.Error("Run polling failed", "user_id", s.UserID, "run_id", run.ID, "error", err)
		outcome = observability.OutcomeEngineError
	case !res.Run.Status.Succeeded():
		slog.Error("Run ended without completing",
			"user_id", s.UserID, "run_id", run.ID, "status", res.Run.Status, "last_error", res.Run.LastError)
		outcome = observability.OutcomeRunFailed
	}
	if ctx.Err() != nil {
		return runOutcome{outcome: outcome}
	}

	// Failed and timed out runs may still have produced partial text.
	reply, err := o.engine.LatestReply(ctx, threadID, run.ID)
	if err != nil {
		slog.Warn("Could not read reply", "user_id", s.UserID, "run_id", run.ID, "error", err)
	}
	return runOutcome{reply: reply, outcome: outcome}
}

// evaluate applies the transition table after a completed turn and reports
// whether the phase changed.
func (o *Orchestrator) evaluate(ctx context.Context, s *session.Session) bool {
	d := o.table.Evaluate(s.Phase, s.Facts())
	switch {
	case d.Fire:
		if err := s.Advance(d.To); err != nil {
			slog.Error("Phase transition rejected", "user_id", s.UserID, "error", err)
			return false
		}
		o.metrics.RecordTransition(string(d.From), string(d.To))
		slog.Info("Phase transition", "user_id", s.UserID, "from", d.From, "to", d.To)
		o.handoff(ctx, s, d.To)
		return true
	case d.Acknowledge:
		s.BasicInfoAck = true
		slog.Info("Machine details confirmed, transition deferred to next turn",
			"user_id", s.UserID, "model_name", s.Info.ModelName)
	}
	return false
}

// handoff opens the thread of the new phase with a message carrying the
// known facts and drains its run. Neither message reaches the caller.
func (o *Orchestrator) handoff(ctx context.Context, s *session.Session, to phase.Phase) {
	assistantID, ok := o.assistants[to]
	if !ok {
		slog.Warn("No assistant configured for new phase, handoff skipped", "user_id", s.UserID, "phase", to)
		return
	}
	threadID, err := o.ensureThread(ctx, s, to)
	if err != nil {
		slog.Error("Could not open handoff thread", "user_id", s.UserID, "phase", to, "error", err)
		return
	}

	msg := phase.HandoffMessage(to, s.Info.ModelName, s.Info.SerialNumber, s.MachineID(), s.Ticket.TicketID, s.Ticket.Title)
	o.record(ctx, s, s.Ticket.TicketID, history.SenderSystem, msg, "")

	out := o.exchange(ctx, s, to, threadID, assistantID, msg)
	if out.reply == "" {
		return
	}
	text, mediaURL := o.resolveMedia(out.reply)
	o.record(ctx, s, s.Ticket.TicketID, history.SenderAssistant, text, mediaURL)
}

func (o *Orchestrator) redact(text string) string {
	if o.redactor == nil || text == "" {
		return text
	}
	redacted, findings := o.redactor.Redact(text)
	if len(findings) > 0 {
		classes := make([]string, 0, len(findings))
		for _, f := range findings {
			classes = append(classes, f.ClassificationName)
		}
		slog.Info("Redacted sensitive values from message", "count", len(findings), "classifications", classes)
	}
	return redacted
}

func (o *Orchestrator) annotate(ctx context.Context, imageURL string) string {
	res, err := o.detector.Detect(ctx, imageURL)
	if err != nil {
		slog.Warn("Image detection failed", "error", err)
	}
	return detection.Annotate(res, err)
}

func (o *Orchestrator) resolveMedia(text string) (string, string) {
	if o.media == nil || text == "" {
		return text, ""
	}
	return o.media.Resolve(text)
}

func (o *Orchestrator) record(ctx context.Context, s *session.Session, ticketID, sender, text, mediaURL string) {
	err := o.history.Append(ctx, history.Turn{
		ConversationID: s.ConversationID,
		TicketID:       ticketID,
		Sender:         sender,
		Text:           text,
		MediaURL:       mediaURL,
		Timestamp:      time.Now(),
	})
	switch {
	case err == nil:
	case errors.Is(err, history.ErrEmptyTurn):
		slog.Debug("Skipped empty history row", "sender", sender)
	default:
		slog.Warn("Could not record conversation turn", "user_id", s.UserID, "sender", sender, "error", err)
	}
}
