// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package phase

import (
	"fmt"
)

// Facts is the subset of session state that transition guards read.
type Facts struct {
	ModelName      string
	SerialNumber   string
	Acknowledged   bool
	TicketResolved bool
}

// Guard is a predicate over Facts that must hold for a transition to fire.
type Guard func(Facts) bool

// InfoComplete holds once both the model name and serial number are known.
func InfoComplete(f Facts) bool {
	return f.ModelName != "" && f.SerialNumber != ""
}

// Acknowledged holds once the "info collected" reply has been shown.
func Acknowledged(f Facts) bool {
	return f.Acknowledged
}

// TicketResolved holds once the session's ticket was marked solved.
func TicketResolved(f Facts) bool {
	return f.TicketResolved
}

// AllOf combines guards with logical AND.
func AllOf(guards ...Guard) Guard {
	return func(f Facts) bool {
		for _, g := range guards {
			if !g(f) {
				return false
			}
		}
		return true
	}
}

// Transition is one edge of the phase graph.
//
// When AckGuard is set, the edge requires a one-turn delay: on the first
// evaluation where AckGuard holds but Guard does not, the evaluator asks the
// caller to record the acknowledgment instead of transitioning.
type Transition struct {
	From     Phase
	To       Phase
	Guard    Guard
	AckGuard Guard
}

// Decision is the outcome of evaluating the table after a turn.
type Decision struct {
	// Fire is true when the session must move to To.
	Fire bool
	From Phase
	To   Phase

	// Acknowledge is true when the caller must set the acknowledgment flag
	// and stay in the current phase for this turn.
	Acknowledge bool
}

// Table is an explicit, enum-keyed transition table.
type Table struct {
	byFrom map[Phase][]Transition
}

// NewTable validates and indexes transitions.
//
// # Outputs
//
//   - *Table: Ready for Evaluate.
//   - error: Non-nil if an edge is unknown, backward, or has no guard.
func NewTable(transitions ...Transition) (*Table, error) {
	t := &Table{byFrom: make(map[Phase][]Transition)}
	for _, tr := range transitions {
		if !tr.From.Valid() || !tr.To.Valid() {
			return nil, fmt.Errorf("transition %s -> %s: unknown phase", tr.From, tr.To)
		}
		if !tr.From.Before(tr.To) {
			return nil, fmt.Errorf("transition %s -> %s: transitions must move forward", tr.From, tr.To)
		}
		if tr.Guard == nil {
			return nil, fmt.Errorf("transition %s -> %s: missing guard", tr.From, tr.To)
		}
		t.byFrom[tr.From] = append(t.byFrom[tr.From], tr)
	}
	return t, nil
}

// DefaultTable returns the support-session transition table.
func DefaultTable() *Table {
	t, err := NewTable(
		Transition{
			From:     Info,
			To:       Troubleshoot,
			Guard:    AllOf(InfoComplete, Acknowledged),
			AckGuard: InfoComplete,
		},
		Transition{
			From:  Troubleshoot,
			To:    Solve,
			Guard: TicketResolved,
		},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Evaluate decides what happens after a completed turn in phase from.
//
// Edges are checked in registration order and the first satisfied one wins.
// If no edge fires, the first edge whose AckGuard holds while the facts are
// not yet acknowledged yields an Acknowledge decision.
func (t *Table) Evaluate(from Phase, f Facts) Decision {
	edges := t.byFrom[from]
	for _, tr := range edges {
		if tr.Guard(f) {
			return Decision{Fire: true, From: from, To: tr.To}
		}
	}
	for _, tr := range edges {
		if tr.AckGuard != nil && !f.Acknowledged && tr.AckGuard(f) {
			return Decision{From: from, To: from, Acknowledge: true}
		}
	}
	return Decision{From: from, To: from}
}

// Edges returns the transitions leaving from.
func (t *Table) Edges(from Phase) []Transition {
	return append([]Transition(nil), t.byFrom[from]...)
}
