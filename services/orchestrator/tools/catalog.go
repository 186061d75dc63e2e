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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/FieldAssist/pkg/validation"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/registry"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("fieldassist.tools")

// Tool names.
const (
	MatchModel        = "match_model"
	MatchSerialNumber = "match_serial_number"
	CreateMachine     = "create_machine"
	SearchManuals     = "search_manuals"
	CreateTicket      = "create_ticket"
	EditTicket        = "edit_ticket"
	SolveTicket       = "solve_ticket"
)

// DefaultCorpusKey is searched when neither the call nor the session names
// a machine model.
const DefaultCorpusKey = "default"

// DefaultSearchK is the number of passages search_manuals returns.
const DefaultSearchK = 4

// DefaultSupportedModels are the models the support desk covers.
var DefaultSupportedModels = []string{"EC220D", "WLOL60H"}

var phaseTools = map[phase.Phase][]string{
	phase.Info:         {MatchModel, MatchSerialNumber, CreateMachine},
	phase.Troubleshoot: {SearchManuals, CreateTicket, EditTicket, SolveTicket},
	phase.Solve:        {SearchManuals, EditTicket, SolveTicket},
}

// PhaseTools returns the tool names offered to the assistant of p.
func PhaseTools(p phase.Phase) []string {
	return append([]string(nil), phaseTools[p]...)
}

// MachineDirectory is the machine half of the registry.
type MachineDirectory interface {
	FindMachine(ctx context.Context, userID, serial string) (registry.Machine, error)
	FindMachinesByModel(ctx context.Context, userID, model string) ([]registry.Machine, error)
	CreateMachine(ctx context.Context, userID, model, serial string) (registry.Machine, error)
}

// TicketDesk is the ticket half of the registry.
type TicketDesk interface {
	CreateTicket(ctx context.Context, machineID, title, description string) (registry.TicketResponse, error)
	EditTicket(ctx context.Context, ticketID, title, description string) (registry.TicketResponse, error)
	ResolveTicket(ctx context.Context, ticketID string) (registry.TicketResponse, error)
}

// ManualSearcher returns the top k manual passages for query within a
// machine's corpus.
type ManualSearcher interface {
	Search(ctx context.Context, query, corpusKey string, k int) ([]string, error)
}

// Deps are the collaborators the catalogue's handlers call.
type Deps struct {
	Machines        MachineDirectory
	Tickets         TicketDesk
	Manuals         ManualSearcher
	SupportedModels []string
	SearchK         int
}

type matchModelArgs struct {
	ModelName string `json:"model_name"`
	UserID    string `json:"user_id"`
}

type matchSerialArgs struct {
	SerialNumber string `json:"serial_number"`
	UserID       string `json:"user_id"`
}

type createMachineArgs struct {
	UserID       string `json:"user_id"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

type searchManualsArgs struct {
	Query       string `json:"query"`
	MachineName string `json:"machine_name"`
}

type createTicketArgs struct {
	MachineID   registry.ID `json:"machine_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
}

type editTicketArgs struct {
	TicketID    registry.ID `json:"ticket_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
}

type solveTicketArgs struct {
	TicketID registry.ID `json:"ticket_id"`
}

func str(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc}
}

func object(required []string, props map[string]jsonschema.Definition) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Object, Properties: props, Required: required}
}

// NewCatalog builds the registry of every tool.
//
// # Description
//
// The user id is always injected from the session and never declared to the
// assistant. Ticket ids for edit and solve are taken from the session ticket,
// so an assistant cannot address another conversation's ticket.
//
// # Inputs
//
//   - deps: Registry client and manual searcher. Zero SupportedModels and
//     SearchK take DefaultSupportedModels and DefaultSearchK.
func NewCatalog(deps Deps) (*Registry, error) {
	if deps.Machines == nil || deps.Tickets == nil || deps.Manuals == nil {
		return nil, errors.New("catalog requires machines, tickets and manuals")
	}
	if len(deps.SupportedModels) == 0 {
		deps.SupportedModels = DefaultSupportedModels
	}
	if deps.SearchK <= 0 {
		deps.SearchK = DefaultSearchK
	}
	c := &catalog{deps: deps}

	userCtx := ContextArg{Key: ContextUserID, Override: true}

	return NewRegistry(
		Tool{
			Name:        MatchModel,
			Description: "Validate a construction machine model name provided by the customer and list the customer's serial numbers for that model.",
			Parameters: object([]string{"model_name"}, map[string]jsonschema.Definition{
				"model_name": str("The machine model name to validate, e.g. 'EC220D' or 'WLOL60H'."),
			}),
			Context: []ContextArg{userCtx},
			Handler: Typed(c.matchModel),
		},
		Tool{
			Name:        MatchSerialNumber,
			Description: "Validate a construction machine serial number provided by the customer.",
			Parameters: object([]string{"serial_number"}, map[string]jsonschema.Definition{
				"serial_number": str("The serial number to validate. Must be alphanumeric and at least 6 characters long."),
			}),
			Context: []ContextArg{userCtx},
			Handler: Typed(c.matchSerial),
		},
		Tool{
			Name:        CreateMachine,
			Description: "Create a new machine record with the given model and serial number.",
			Parameters: object([]string{"model", "serial_number"}, map[string]jsonschema.Definition{
				"model":         str("The model name of the machine, e.g. 'EC220D'."),
				"serial_number": str("The serial number of the machine, unique per customer."),
			}),
			Context: []ContextArg{userCtx},
			Handler: Typed(c.createMachine),
		},
		Tool{
			Name:        SearchManuals,
			Description: "Search the service manuals of the customer's machine for passages relevant to the problem.",
			Parameters: object([]string{"query"}, map[string]jsonschema.Definition{
				"query":        str("What to look for, phrased as the symptom or component."),
				"machine_name": str("The machine model whose manuals to search. Defaults to the model collected earlier."),
			}),
			Context: []ContextArg{{Key: ContextMachineName, Optional: true}},
			Handler: Typed(c.searchManuals),
		},
		Tool{
			Name:        CreateTicket,
			Description: "Create a troubleshooting ticket for the machine with the current issue.",
			Parameters: object([]string{"title", "description"}, map[string]jsonschema.Definition{
				"machine_id":  str("The ID of the machine with the issue. Defaults to the machine identified earlier."),
				"title":       str("A short title of the issue."),
				"description": str("The full description of the problem."),
			}),
			Context: []ContextArg{{Key: ContextMachineID}},
			Handler: Typed(c.createTicket),
		},
		Tool{
			Name:        EditTicket,
			Description: "Edit the current ticket's title and description.",
			Parameters: object([]string{"title", "description"}, map[string]jsonschema.Definition{
				"title":       str("The new title of the ticket."),
				"description": str("The new description: the issue, what has been checked, and the solution once solved."),
			}),
			Context: []ContextArg{{Key: ContextTicketID, Override: true}},
			Handler: Typed(c.editTicket),
		},
		Tool{
			Name:        SolveTicket,
			Description: "Mark the current troubleshooting ticket as resolved.",
			Parameters:  object(nil, map[string]jsonschema.Definition{}),
			Context:     []ContextArg{{Key: ContextTicketID, Override: true}},
			Handler:     Typed(c.solveTicket),
		},
	)
}

type catalog struct {
	deps Deps
}

func (c *catalog) matchModel(ctx context.Context, a matchModelArgs) (any, error) {
	ctx, span := tracer.Start(ctx, "tools.match_model")
	defer span.End()

	model, ok := validation.IsSupportedModel(a.ModelName, c.deps.SupportedModels)
	if !ok {
		span.SetAttributes(attribute.Bool("supported", false))
		return MatchModelResult{ModelName: nil, RelatedSerialNumbers: []string{}}, nil
	}

	res := MatchModelResult{ModelName: &model, RelatedSerialNumbers: []string{}}
	machines, err := c.deps.Machines.FindMachinesByModel(ctx, a.UserID, model)
	if err != nil {
		// The model is valid even when the customer has no machines listed.
		slog.Warn("Listing machines by model failed", "model", model, "error", err)
		return res, nil
	}
	for _, m := range machines {
		if m.SerialNumber != "" {
			res.RelatedSerialNumbers = append(res.RelatedSerialNumbers, m.SerialNumber)
		}
	}
	return res, nil
}

func (c *catalog) matchSerial(ctx context.Context, a matchSerialArgs) (any, error) {
	ctx, span := tracer.Start(ctx, "tools.match_serial_number")
	defer span.End()

	serial, err := validation.CheckSerial(a.SerialNumber)
	if err != nil {
		return MatchSerialResult{Reason: err.Error()}, nil
	}

	m, err := c.deps.Machines.FindMachine(ctx, a.UserID, serial)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			slog.Warn("Serial number lookup failed", "serial_number", serial, "error", err)
		}
		return MatchSerialResult{}, nil
	}
	if m.SerialNumber == "" {
		m.SerialNumber = serial
	}
	return MatchSerialResult{Found: true, Machine: m}, nil
}

func (c *catalog) createMachine(ctx context.Context, a createMachineArgs) (any, error) {
	ctx, span := tracer.Start(ctx, "tools.create_machine")
	defer span.End()

	model, ok := validation.IsSupportedModel(a.Model, c.deps.SupportedModels)
	if !ok {
		return nil, fmt.Errorf("model %q is not supported", a.Model)
	}
	serial, err := validation.CheckSerial(a.SerialNumber)
	if err != nil {
		return nil, err
	}

	m, err := c.deps.Machines.CreateMachine(ctx, a.UserID, model, serial)
	if err != nil {
		return nil, err
	}
	return CreateMachineResult{Created: true, Machine: m}, nil
}

func (c *catalog) searchManuals(ctx context.Context, a searchManualsArgs) (any, error) {
	ctx, span := tracer.Start(ctx, "tools.search_manuals")
	defer span.End()

	if strings.TrimSpace(a.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArguments)
	}
	key := strings.TrimSpace(a.MachineName)
	if key == "" {
		key = DefaultCorpusKey
	}
	span.SetAttributes(attribute.String("corpus_key", key))

	docs, err := c.deps.Manuals.Search(ctx, a.Query, key, c.deps.SearchK)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []string{}
	}
	return SearchManualsResult{CorpusKey: key, Documents: docs}, nil
}

func (c *catalog) createTicket(ctx context.Context, a createTicketArgs) (any, error) {
	ctx, span := tracer.Start(ctx, "tools.create_ticket")
	defer span.End()

	if a.MachineID == "" {
		return nil, fmt.Errorf("%w: machine_id is required", ErrInvalidArguments)
	}
	resp, err := c.deps.Tickets.CreateTicket(ctx, a.MachineID.String(), a.Title, a.Description)
	if err != nil {
		return nil, err
	}
	if resp.Ticket.MachineID == "" {
		resp.Ticket.MachineID = a.MachineID
	}
	return TicketResult(resp), nil
}

func (c *catalog) editTicket(ctx context.Context, a editTicketArgs) (any, error) {
	ctx, span := tracer.Start(ctx, "tools.edit_ticket")
	defer span.End()

	if a.TicketID == "" {
		return nil, fmt.Errorf("%w: ticket_id is required", ErrInvalidArguments)
	}
	resp, err := c.deps.Tickets.EditTicket(ctx, a.TicketID.String(), a.Title, a.Description)
	if err != nil {
		return nil, err
	}
	return TicketResult(resp), nil
}

func (c *catalog) solveTicket(ctx context.Context, a solveTicketArgs) (any, error) {
	ctx, span := tracer.Start(ctx, "tools.solve_ticket")
	defer span.End()

	if a.TicketID == "" {
		return nil, fmt.Errorf("%w: ticket_id is required", ErrInvalidArguments)
	}
	resp, err := c.deps.Tickets.ResolveTicket(ctx, a.TicketID.String())
	if err != nil {
		return nil, err
	}
	return TicketResult(resp), nil
}
