// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"encoding/json"

	"github.com/AleutianAI/FieldAssist/services/orchestrator/registry"
)

// MatchModelResult is the output of match_model. ModelName is null when the
// model is not supported.
type MatchModelResult struct {
	ModelName            *string  `json:"model_name"`
	RelatedSerialNumbers []string `json:"related_serial_numbers"`
}

// MatchSerialResult is the output of match_serial_number.
type MatchSerialResult struct {
	Found   bool
	Machine registry.Machine
	Reason  string
}

// MarshalJSON emits {"found":true,"machine":{...}} on a hit and
// {"serial_number":null} on a miss.
func (r MatchSerialResult) MarshalJSON() ([]byte, error) {
	if r.Found {
		return json.Marshal(struct {
			Found   bool             `json:"found"`
			Machine registry.Machine `json:"machine"`
		}{true, r.Machine})
	}
	return json.Marshal(struct {
		SerialNumber *string `json:"serial_number"`
		Reason       string  `json:"reason,omitempty"`
	}{nil, r.Reason})
}

// CreateMachineResult is the output of create_machine.
type CreateMachineResult struct {
	Created bool             `json:"created"`
	Machine registry.Machine `json:"machine"`
}

// SearchManualsResult is the output of search_manuals.
type SearchManualsResult struct {
	CorpusKey string   `json:"corpus_key"`
	Documents []string `json:"documents"`
}

// TicketResult is the output of every ticketing tool.
type TicketResult struct {
	Success bool            `json:"success"`
	Ticket  registry.Ticket `json:"ticket"`
}
