// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("fieldassist.llm")

// apiKeySecretPath is where container deployments mount the API key.
const apiKeySecretPath = "/run/secrets/openai_api_key"

// OpenAIConfig configures the Assistants API adapter.
type OpenAIConfig struct {
	// APIKey authenticates requests. Resolved by ResolveAPIKey when empty.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a proxy or a test server.
	BaseURL string

	// Model is the default model for provisioned assistants.
	// Default: "gpt-4.1-mini"
	Model string

	// RequestsPerSecond caps outbound calls across all sessions. 0 disables.
	RequestsPerSecond float64

	// Burst is the limiter burst. Default: 1 when a rate is set.
	Burst int

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// OpenAIEngine implements Engine on the OpenAI Assistants API.
//
// # Thread Safety
//
// Safe for concurrent use. The limiter is shared by every caller so the
// aggregate request rate of the process stays under RequestsPerSecond.
type OpenAIEngine struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

var _ Engine = (*OpenAIEngine)(nil)

// NewOpenAIEngine creates the adapter.
func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	apiKey, err := ResolveAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4.1-mini"
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	slog.Info("Initializing OpenAI assistants engine", "model", model, "requests_per_second", cfg.RequestsPerSecond)
	return &OpenAIEngine{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		limiter: limiter,
	}, nil
}

// ResolveAPIKey returns key, else OPENAI_API_KEY, else the mounted secret.
func ResolveAPIKey(key string) (string, error) {
	if key = strings.TrimSpace(key); key != "" {
		return key, nil
	}
	if env := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); env != "" {
		return env, nil
	}
	data, err := os.ReadFile(apiKeySecretPath)
	if err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			slog.Info("Read the OpenAI API key from the secrets mount")
			return secret, nil
		}
	}
	return "", fmt.Errorf("OPENAI_API_KEY is not set and no secret found at %s", apiKeySecretPath)
}

// CreateAssistant implements Engine.
func (o *OpenAIEngine) CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEngine.CreateAssistant")
	defer span.End()
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	model := spec.Model
	if model == "" {
		model = o.model
	}
	name := spec.Name
	instructions := spec.Instructions

	tools := make([]openai.AssistantTool, 0, len(spec.Tools))
	for _, t := range spec.Tools {
		tools = append(tools, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	asst, err := o.client.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        tools,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("create assistant %q: %w", spec.Name, err)
	}
	return asst.ID, nil
}

// CreateThread implements Engine.
func (o *OpenAIEngine) CreateThread(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEngine.CreateThread")
	defer span.End()
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	thread, err := o.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// AddMessage implements Engine.
func (o *OpenAIEngine) AddMessage(ctx context.Context, threadID, role, text string) error {
	ctx, span := tracer.Start(ctx, "OpenAIEngine.AddMessage")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID), attribute.String("role", role))
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := o.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    role,
		Content: text,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("add message to thread %s: %w", threadID, err)
	}
	return nil
}

// StartRun implements Engine.
func (o *OpenAIEngine) StartRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEngine.StartRun")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID), attribute.String("assistant_id", assistantID))
	if err := o.limiter.Wait(ctx); err != nil {
		return Run{}, err
	}

	run, err := o.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		span.RecordError(err)
		return Run{}, fmt.Errorf("start run on thread %s: %w", threadID, err)
	}
	return convertRun(threadID, run), nil
}

// GetRun implements Engine.
func (o *OpenAIEngine) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return Run{}, err
	}

	run, err := o.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("retrieve run %s: %w", runID, err)
	}
	return convertRun(threadID, run), nil
}

// SubmitToolOutputs implements Engine.
func (o *OpenAIEngine) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEngine.SubmitToolOutputs")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.Int("outputs", len(outputs)))
	if err := o.limiter.Wait(ctx); err != nil {
		return Run{}, err
	}

	req := openai.SubmitToolOutputsRequest{
		ToolOutputs: make([]openai.ToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{
			ToolCallID: out.ToolCallID,
			Output:     out.Output,
		})
	}

	run, err := o.client.SubmitToolOutputs(ctx, threadID, runID, req)
	if err != nil {
		span.RecordError(err)
		return Run{}, fmt.Errorf("submit tool outputs for run %s: %w", runID, err)
	}
	return convertRun(threadID, run), nil
}

// LatestReply implements Engine.
func (o *OpenAIEngine) LatestReply(ctx context.Context, threadID, runID string) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEngine.LatestReply")
	defer span.End()
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	limit := 20
	order := "desc"
	var runFilter *string
	if runID != "" {
		runFilter = &runID
	}

	list, err := o.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, runFilter)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("list messages on thread %s: %w", threadID, err)
	}

	// Most recent first.
	for _, msg := range list.Messages {
		if msg.Role != RoleAssistant {
			continue
		}
		var parts []string
		for _, c := range msg.Content {
			if c.Text != nil && c.Text.Value != "" {
				parts = append(parts, c.Text.Value)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}
	return "", nil
}

func convertRun(threadID string, run openai.Run) Run {
	out := Run{
		ID:       run.ID,
		ThreadID: threadID,
		Status:   RunStatus(run.Status),
	}
	if run.LastError != nil {
		out.LastError = run.LastError.Message
	}
	if run.RequiredAction != nil && run.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return out
}
