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
	"strings"
)

// Profile describes the assistant that serves a phase.
type Profile struct {
	Name         string
	Instructions string
}

var profiles = map[Phase]Profile{
	Info: {
		Name: "Info Assistant",
		Instructions: strings.Join([]string{
			"You are a helpful assistant for verifying construction equipment details.",
			"- Ask the customer for the machine model first.",
			"- Use the 'match_model' tool to validate the model name and list the customer's serial numbers for it.",
			"- After the model is confirmed, ask for the serial number.",
			"- Use the 'match_serial_number' tool to validate the serial number.",
			"- If the serial number is not registered, offer to register it with 'create_machine'.",
			"Once both model and serial number are validated, confirm them back to the customer.",
		}, "\n"),
	},
	Troubleshoot: {
		Name: "Troubleshooting Assistant",
		Instructions: strings.Join([]string{
			"You help users diagnose potential issues with their construction equipment.",
			"- Ask clear and detailed diagnostic questions based on the machine model.",
			"- Use the 'search_manuals' tool to find related issues and solutions in the service manuals.",
			"- Open a ticket with 'create_ticket' once the problem is understood and keep it current with 'edit_ticket'.",
			"- Call 'solve_ticket' only when the customer confirms the fix.",
			"- Manual passages may reference images as [file.png]; keep those tokens verbatim in your reply.",
			"Be logical and methodical in narrowing down problems.",
		}, "\n"),
	},
	Solve: {
		Name: "Solution Assistant",
		Instructions: strings.Join([]string{
			"You provide detailed repair and maintenance steps for known issues.",
			"- Base your answers on the resolved ticket handed over by the troubleshooting stage.",
			"- Use the 'search_manuals' tool when needed for manuals and guides.",
			"- Record the final solution in the ticket description with 'edit_ticket'.",
			"Prioritize safety and clarity in your instructions.",
		}, "\n"),
	},
}

// ProfileFor returns the assistant profile for p.
func ProfileFor(p Phase) (Profile, error) {
	prof, ok := profiles[p]
	if !ok {
		return Profile{}, fmt.Errorf("no assistant profile for phase %q", p)
	}
	return prof, nil
}

// HandoffMessage builds the synthesized message that opens the thread of
// phase to. Values are the facts known at the time of the transition.
func HandoffMessage(to Phase, model, serial, machineID, ticketID, ticketTitle string) string {
	var b strings.Builder
	switch to {
	case Troubleshoot:
		b.WriteString("The customer's machine has been identified.\n")
		fmt.Fprintf(&b, "Model: %s\nSerial number: %s\n", model, serial)
		if machineID != "" {
			fmt.Fprintf(&b, "Machine ID: %s\n", machineID)
		}
		b.WriteString("Greet the customer and ask what issue they are experiencing with the machine.")
	case Solve:
		fmt.Fprintf(&b, "Ticket %s for the %s (serial %s) has been resolved.\n", ticketID, model, serial)
		if ticketTitle != "" {
			fmt.Fprintf(&b, "Issue: %s\n", ticketTitle)
		}
		b.WriteString("Prepare the detailed repair and maintenance steps for this issue.")
	default:
		fmt.Fprintf(&b, "Continue the conversation in the %s stage.", to)
	}
	return b.String()
}
