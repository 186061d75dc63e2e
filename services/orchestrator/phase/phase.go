// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package phase defines the conversational stages of a support session and
// the forward-only transition table between them.
//
// # Description
//
// A session is always in exactly one Phase. Each phase is served by its own
// configured assistant and its own message thread. Transitions are decided
// once per completed assistant turn by evaluating guard predicates over a
// Facts snapshot of the session.
//
//	INFO ──(InfoComplete ∧ Acknowledged)──► TROUBLESHOOT ──(TicketResolved)──► SOLVE
//
// # Thread Safety
//
// Phase values are immutable. A Table is read-only after NewTable returns and
// may be shared across goroutines.
package phase

import (
	"fmt"
	"strings"
)

// Phase is a named stage of the conversation.
type Phase string

const (
	// Info collects and validates the machine model and serial number.
	Info Phase = "INFO"

	// Troubleshoot diagnoses the issue using manual retrieval and tickets.
	Troubleshoot Phase = "TROUBLESHOOT"

	// Solve walks the customer through repair steps for a resolved ticket.
	Solve Phase = "SOLVE"
)

// All lists the phases in their forward order.
var All = []Phase{Info, Troubleshoot, Solve}

// String implements fmt.Stringer.
func (p Phase) String() string {
	return string(p)
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return p.rank() >= 0
}

// Before reports whether p precedes other in the forward order.
func (p Phase) Before(other Phase) bool {
	return p.Valid() && other.Valid() && p.rank() < other.rank()
}

func (p Phase) rank() int {
	for i, known := range All {
		if p == known {
			return i
		}
	}
	return -1
}

// Parse converts a case-insensitive phase name into a Phase.
func Parse(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}
