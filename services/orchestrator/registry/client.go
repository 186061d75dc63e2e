// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry is the HTTP client for the machine and ticket registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fieldassist.registry")

// DefaultBaseURL is where the registry API listens in a local deployment.
const DefaultBaseURL = "http://localhost:5000/api"

// DefaultTimeout bounds a single registry request.
const DefaultTimeout = 15 * time.Second

// ErrNotFound is returned when a lookup matches no machine.
var ErrNotFound = errors.New("not found")

// StatusError reports a non-2xx registry response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry %s %s returned status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// ID is a registry identifier. The registry emits numbers; assistants echo
// them back as strings. Both decode to the same decimal text.
type ID string

// UnmarshalJSON accepts a JSON number or string.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*id = ID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("registry id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits a number when the id is numeric.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// String returns the decimal text.
func (id ID) String() string { return string(id) }

// Machine is a registered machine.
type Machine struct {
	ID           ID     `json:"id"`
	SerialNumber string `json:"serial_number"`
	Model        string `json:"model"`
	UserID       string `json:"user_id,omitempty"`
}

// Ticket is a troubleshooting ticket.
type Ticket struct {
	ID          ID     `json:"id"`
	MachineID   ID     `json:"machine_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Resolved    bool   `json:"resolved"`
}

// TicketResponse is the envelope of every ticket endpoint.
type TicketResponse struct {
	Success bool   `json:"success"`
	Ticket  Ticket `json:"ticket"`
}

// machineEnvelope decodes either a bare machine, {"machine": {...}}, or
// {"machines": [...]}.
type machineEnvelope struct {
	Machine
	Nested   *Machine  `json:"machine"`
	Machines []Machine `json:"machines"`
}

func (m machineEnvelope) first() (Machine, bool) {
	switch {
	case m.Nested != nil:
		return *m.Nested, true
	case len(m.Machines) > 0:
		return m.Machines[0], true
	case m.Machine.ID != "" || m.Machine.SerialNumber != "":
		return m.Machine, true
	}
	return Machine{}, false
}

// Client talks to the registry.
//
// # Thread Safety
//
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a registry client. An empty baseURL uses DefaultBaseURL
// and a zero timeout uses DefaultTimeout.
//
// # Example
//
//	client := registry.NewClient("http://registry:5000/api", 10*time.Second)
//	machine, err := client.FindMachine(ctx, "user-1", "EC220D003")
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient replaces the transport.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// FindMachine looks up a machine by serial number for a user.
//
// # Outputs
//
//   - Machine: The matched machine.
//   - error: ErrNotFound when the registry has no match (404 or empty body),
//     *StatusError for other non-2xx responses.
func (c *Client) FindMachine(ctx context.Context, userID, serial string) (Machine, error) {
	var env machineEnvelope
	err := c.do(ctx, http.MethodPost, "/machines/find", map[string]string{
		"user_id":       userID,
		"search_string": serial,
	}, &env)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return Machine{}, ErrNotFound
		}
		return Machine{}, err
	}
	m, ok := env.first()
	if !ok {
		return Machine{}, ErrNotFound
	}
	return m, nil
}

// FindMachinesByModel lists a user's machines of model.
func (c *Client) FindMachinesByModel(ctx context.Context, userID, model string) ([]Machine, error) {
	var env struct {
		Machines []Machine `json:"machines"`
	}
	err := c.do(ctx, http.MethodPost, "/machines/find_by_model", map[string]string{
		"user_id": userID,
		"model":   model,
	}, &env)
	if err != nil {
		return nil, err
	}
	return env.Machines, nil
}

// CreateMachine registers a machine for a user.
func (c *Client) CreateMachine(ctx context.Context, userID, model, serial string) (Machine, error) {
	var env machineEnvelope
	err := c.do(ctx, http.MethodPost, "/machines/", map[string]string{
		"user_id":       userID,
		"model":         model,
		"serial_number": serial,
	}, &env)
	if err != nil {
		return Machine{}, err
	}
	m, _ := env.first()
	if m.Model == "" {
		m.Model = model
	}
	if m.SerialNumber == "" {
		m.SerialNumber = serial
	}
	return m, nil
}

// CreateTicket opens a ticket against a machine.
func (c *Client) CreateTicket(ctx context.Context, machineID, title, description string) (TicketResponse, error) {
	var resp TicketResponse
	err := c.do(ctx, http.MethodPost, "/tickets/add", map[string]any{
		"machine_id":  ID(machineID),
		"title":       title,
		"description": description,
	}, &resp)
	return resp, err
}

// EditTicket replaces a ticket's title and description.
func (c *Client) EditTicket(ctx context.Context, ticketID, title, description string) (TicketResponse, error) {
	var resp TicketResponse
	err := c.do(ctx, http.MethodPut, "/tickets/edit/"+url.PathEscape(ticketID), map[string]string{
		"title":       title,
		"description": description,
	}, &resp)
	return resp, err
}

// ResolveTicket marks a ticket resolved.
func (c *Client) ResolveTicket(ctx context.Context, ticketID string) (TicketResponse, error) {
	var resp TicketResponse
	err := c.do(ctx, http.MethodPut, "/tickets/resolve/"+url.PathEscape(ticketID), nil, &resp)
	if err == nil && resp.Success {
		resp.Ticket.Resolved = true
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, "registry."+method+" "+path)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("registry.path", path))

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("registry %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		span.RecordError(se)
		span.SetStatus(codes.Error, se.Error())
		return se
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	return nil
}
