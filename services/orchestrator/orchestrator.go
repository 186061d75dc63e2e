// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the FieldAssist support service.
//
// This package wires the conversation orchestrator to its collaborators
// (assistants engine, machine registry, manual search, detection, media
// assets, conversation history) and serves it over HTTP.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, Assistants: ids}
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
//
// Deployments inject authentication and auditing:
//
//	opts := extensions.DefaultOptions().WithAuth(keys)
//	svc, err := orchestrator.New(ctx, cfg, &opts)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/FieldAssist/pkg/extensions"
	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/conversation"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/detection"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/history"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/media"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/observability"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the support service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// shuts down gracefully and releases every collaborator.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine

	// Close releases collaborators without serving. Run calls it on exit.
	Close()
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration. Zero values take defaults in New.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// TelemetryEnabled exports traces to OTelEndpoint.
	TelemetryEnabled bool

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "fieldassist-otel-collector:4317"
	OTelEndpoint string

	// TurnTimeout bounds one conversation turn. Default: 3 minutes.
	TurnTimeout time.Duration

	// OpenAI configures the assistants engine. Ignored when Engine is set.
	OpenAI llm.OpenAIConfig

	// Engine overrides the assistants engine, for tests.
	Engine llm.Engine

	// Assistants maps each phase to its provisioned assistant id. INFO is
	// required.
	Assistants map[phase.Phase]string

	// Poll bounds how long a run is polled.
	Poll llm.PollConfig

	// RegistryURL is the machine/ticket registry base URL.
	RegistryURL     string
	RegistryTimeout time.Duration

	// SupportedModels overrides the model list of match_model.
	SupportedModels []string

	// WeaviateURL enables manual search and the weaviate history driver.
	WeaviateURL string

	// ManualClass is the Weaviate class holding manual chunks.
	ManualClass string

	// Embeddings configures query embedding for manual search.
	Embeddings retrieval.EmbedderConfig

	// Detection configures image analysis. An empty URL disables it.
	Detection detection.Config

	// Media configures image placeholder resolution.
	Media MediaConfig

	// HistoryDriver is one of none, sqlite, mysql, weaviate. Default: none
	HistoryDriver string
	HistoryDSN    string

	// Sessions configures idle eviction. IdleTTL 0 keeps sessions for the
	// process lifetime.
	Sessions session.SweeperConfig

	// Registerer receives the service metrics.
	// Default: prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

// MediaConfig selects where reply images are hosted.
type MediaConfig struct {
	// Source is "local", "gcs" or "" (disabled).
	Source string

	// Dir is the local asset directory.
	Dir string

	// Bucket, Prefix and CredentialsFile locate the GCS assets.
	Bucket          string
	Prefix          string
	CredentialsFile string

	// BaseURL prefixes resolved asset names. Defaults to the bucket's
	// public URL for gcs.
	BaseURL string

	// MinSimilarity is the fuzzy match threshold. Default: 0.8
	MinSimilarity float64
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New
// returns.
type service struct {
	config         Config
	opts           extensions.ServiceOptions
	router         *gin.Engine
	engine         llm.Engine
	store          *session.Store
	metrics        *observability.Metrics
	orchestrator   *conversation.Orchestrator
	weaviateClient *weaviate.Client
	history        *history.Async
	gcs            *media.GCSSource
	sweeper        *session.Sweeper
	tracerCleanup  func(context.Context)
	stopBackground context.CancelFunc
	closed         bool
}

// New creates the service.
//
// # Description
//
// New initializes, in order: tracing, metrics, the assistants engine,
// Weaviate (optional), the machine registry client and tool catalogue,
// detection, media resolution, conversation history, the idle sweeper and
// the HTTP routes. Optional collaborators that fail to initialize are
// logged and disabled; required ones fail New.
//
// # Inputs
//
//   - ctx: Bounds initialization calls and scopes background goroutines
//     until Close.
//   - cfg: Service configuration.
//   - opts: Extension options. Nil means DefaultOptions.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if a required collaborator could not be created.
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions()
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopBackground = cancel

	if s.config.TelemetryEnabled {
		cleanup, err := s.initTracer(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.metrics = observability.NewMetrics(s.config.Registerer)
	s.store = session.NewStore()

	if err := s.initEngine(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize assistants engine: %w", err)
	}

	if err := s.initWeaviate(ctx); err != nil {
		slog.Warn("Weaviate initialization failed, manual search disabled", "error", err)
	}

	if err := s.initOrchestrator(ctx, bg); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.initSweeper(bg); err != nil {
		slog.Warn("Session sweeper not started", "error", err)
	}

	s.initRouter()
	return s, nil
}

// Run serves HTTP until ctx is done.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting FieldAssist server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down FieldAssist server")
	// In-flight turns may still be polling a run; give them the turn budget.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.TurnTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Router returns the underlying Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close stops background work and flushes collaborators. Safe to call more
// than once.
func (s *service) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if s.sweeper != nil {
		if err := s.sweeper.Stop(); err != nil {
			slog.Warn("Session sweeper stop error", "error", err)
		}
	}
	if s.stopBackground != nil {
		s.stopBackground()
	}
	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.history.Close(ctx); err != nil {
			slog.Warn("Conversation history not fully flushed", "error", err)
		}
		cancel()
	}
	if s.gcs != nil {
		if err := s.gcs.Close(); err != nil {
			slog.Warn("GCS client close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "fieldassist-otel-collector:4317"
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 3 * time.Minute
	}
	if cfg.HistoryDriver == "" {
		cfg.HistoryDriver = "none"
	}
	if cfg.Media.MinSimilarity <= 0 {
		cfg.Media.MinSimilarity = media.DefaultMinSimilarity
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	return cfg
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
