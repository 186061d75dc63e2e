// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds per-user conversational state and the store that
// serializes access to it.
//
// # Description
//
// A Session is created on the first message from a user or on an explicit
// reset. It lives in process memory only; nothing survives a restart.
//
// # Thread Safety
//
// A *Session is NOT safe for concurrent use on its own. All access goes
// through a Lease obtained from Store.Acquire, which guarantees that at most
// one goroutine holds a given user's session at a time.
package session

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"github.com/google/uuid"
)

var (
	// ErrThreadBound is returned when a phase already has a different thread.
	ErrThreadBound = errors.New("thread already bound for phase")

	// ErrBackwardTransition is returned when a phase change would move backward.
	ErrBackwardTransition = errors.New("phase transitions must move forward")
)

// CollectedInfo accumulates validated machine facts during INFO.
// Empty strings mean "not yet known".
type CollectedInfo struct {
	ModelName    string `json:"model_name,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	MachineID    string `json:"machine_id,omitempty"`
}

// Ticket mirrors the ticket record created during TROUBLESHOOT.
type Ticket struct {
	TicketID    string `json:"ticket_id,omitempty"`
	MachineID   string `json:"machine_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Resolved    bool   `json:"resolved"`
}

// Session is the mutable state of one end user's conversation.
type Session struct {
	UserID         string
	Phase          phase.Phase
	Threads        map[phase.Phase]string
	Info           CollectedInfo
	Ticket         Ticket
	BasicInfoAck   bool
	ConversationID string
	Turns          int
	CreatedAt      time.Time
	LastActive     time.Time
}

// New returns a fresh session in INFO with a new conversation id.
func New(userID string, now time.Time) *Session {
	return &Session{
		UserID:         userID,
		Phase:          phase.Info,
		Threads:        make(map[phase.Phase]string),
		ConversationID: uuid.NewString(),
		CreatedAt:      now,
		LastActive:     now,
	}
}

// Thread returns the thread handle bound to p, if any.
func (s *Session) Thread(p phase.Phase) (string, bool) {
	id, ok := s.Threads[p]
	return id, ok && id != ""
}

// BindThread records the thread handle for p. A handle, once bound, is
// immutable; rebinding the same id is a no-op.
func (s *Session) BindThread(p phase.Phase, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("bind thread for %s: empty thread id", p)
	}
	if existing, ok := s.Thread(p); ok {
		if existing == threadID {
			return nil
		}
		return fmt.Errorf("%w: %s has %s", ErrThreadBound, p, existing)
	}
	s.Threads[p] = threadID
	return nil
}

// Advance moves the session to next. Only forward moves are accepted.
func (s *Session) Advance(next phase.Phase) error {
	if !s.Phase.Before(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, s.Phase, next)
	}
	s.Phase = next
	return nil
}

// HasTicket reports whether a ticket has been created for the session.
func (s *Session) HasTicket() bool {
	return s.Ticket.TicketID != ""
}

// MachineID returns the best known machine id for the session.
func (s *Session) MachineID() string {
	if s.Info.MachineID != "" {
		return s.Info.MachineID
	}
	return s.Ticket.MachineID
}

// Facts projects the session onto the inputs of the transition guards.
func (s *Session) Facts() phase.Facts {
	return phase.Facts{
		ModelName:      s.Info.ModelName,
		SerialNumber:   s.Info.SerialNumber,
		Acknowledged:   s.BasicInfoAck,
		TicketResolved: s.HasTicket() && s.Ticket.Resolved,
	}
}

// Snapshot is a read-only copy of a session, safe to hand to other goroutines.
type Snapshot struct {
	UserID         string                 `json:"user_id"`
	Phase          phase.Phase            `json:"phase"`
	Threads        map[phase.Phase]string `json:"threads"`
	Info           CollectedInfo          `json:"collected_info"`
	Ticket         Ticket                 `json:"ticket"`
	BasicInfoAck   bool                   `json:"basic_info_ack"`
	ConversationID string                 `json:"conversation_id"`
	Turns          int                    `json:"turns"`
	CreatedAt      time.Time              `json:"created_at"`
	LastActive     time.Time              `json:"last_active"`
}

// Snapshot copies the session.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		UserID:         s.UserID,
		Phase:          s.Phase,
		Threads:        maps.Clone(s.Threads),
		Info:           s.Info,
		Ticket:         s.Ticket,
		BasicInfoAck:   s.BasicInfoAck,
		ConversationID: s.ConversationID,
		Turns:          s.Turns,
		CreatedAt:      s.CreatedAt,
		LastActive:     s.LastActive,
	}
}
