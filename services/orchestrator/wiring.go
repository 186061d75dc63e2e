// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/conversation"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/detection"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/dispatch"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/history"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/media"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/registry"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/routes"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/tools"
	"github.com/AleutianAI/FieldAssist/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "fieldassist-orchestrator"

// initTracer sets up OpenTelemetry tracing with an OTLP gRPC exporter.
//
// # Outputs
//
//   - func(context.Context): Shuts the exporter down within five seconds.
//   - error: Non-nil if the exporter could not be created.
func (s *service) initTracer(ctx context.Context) (func(context.Context), error) {
	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// initWeaviate creates the Weaviate client when WeaviateURL is configured
// and makes sure the manual and history classes exist.
func (s *service) initWeaviate(ctx context.Context) error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		slog.Info("Weaviate URL not configured, manual search disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
		return err
	}
	s.weaviateClient = client
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initEngine selects the assistants engine.
func (s *service) initEngine() error {
	if s.config.Engine != nil {
		s.engine = s.config.Engine
		return nil
	}
	engine, err := llm.NewOpenAIEngine(s.config.OpenAI)
	if err != nil {
		return err
	}
	s.engine = engine
	slog.Info("Using OpenAI Assistants backend")
	return nil
}

// initOrchestrator builds the tool catalogue, the optional collaborators and
// the conversation orchestrator. bg scopes background workers.
func (s *service) initOrchestrator(ctx, bg context.Context) error {
	reg := registry.NewClient(s.config.RegistryURL, s.config.RegistryTimeout)
	catalog, err := tools.NewCatalog(tools.Deps{
		Machines:        reg,
		Tickets:         reg,
		Manuals:         s.manualSearcher(),
		SupportedModels: s.config.SupportedModels,
	})
	if err != nil {
		return fmt.Errorf("failed to build tool catalogue: %w", err)
	}

	redactor, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return fmt.Errorf("failed to load redaction policy: %w", err)
	}

	rec, err := s.historyRecorder()
	if err != nil {
		return fmt.Errorf("failed to open conversation history: %w", err)
	}
	s.history = history.NewAsync(rec, history.AsyncOptions{OnDrop: s.metrics.RecordHistoryDropped})

	cfg := conversation.Config{
		Engine:     s.engine,
		Store:      s.store,
		Dispatcher: dispatch.New(catalog, dispatch.WithObserver(s.metrics.RecordToolCall)),
		Assistants: s.config.Assistants,
		Poller:     llm.NewPoller(s.config.Poll, nil),
		Redactor:   redactor,
		Detector:   s.detector(),
		History:    s.history,
		Metrics:    s.metrics,
	}
	// A nil *media.Resolver must not become a non-nil interface.
	if resolver := s.mediaResolver(ctx, bg); resolver != nil {
		cfg.Media = resolver
	}

	s.orchestrator, err = conversation.New(cfg)
	if err != nil {
		return err
	}
	return nil
}

func (s *service) manualSearcher() tools.ManualSearcher {
	if s.weaviateClient == nil {
		return retrieval.Unavailable{}
	}
	embedder, err := retrieval.NewOpenAIEmbedder(s.config.Embeddings)
	if err != nil {
		slog.Warn("Query embedder unavailable, manual search disabled", "error", err)
		return retrieval.Unavailable{}
	}
	return retrieval.NewWeaviateSearcher(s.weaviateClient, embedder, s.config.ManualClass)
}

func (s *service) detector() detection.Detector {
	if s.config.Detection.URL == "" {
		return detection.Disabled{}
	}
	client, err := detection.NewClient(s.config.Detection)
	if err != nil {
		slog.Warn("Image detection disabled", "error", err)
		return detection.Disabled{}
	}
	return client
}

// mediaResolver returns nil when media resolution is disabled or its source
// failed to load.
func (s *service) mediaResolver(ctx, bg context.Context) *media.Resolver {
	mc := s.config.Media
	var (
		src     media.Source
		baseURL = mc.BaseURL
	)
	switch mc.Source {
	case "":
		return nil
	case "local":
		local, err := media.NewLocalSource(mc.Dir)
		if err != nil {
			slog.Warn("Media directory unavailable, image tokens left unresolved", "dir", mc.Dir, "error", err)
			return nil
		}
		go func() {
			if err := local.Watch(bg); err != nil {
				slog.Warn("Media directory watch stopped", "dir", mc.Dir, "error", err)
			}
		}()
		src = local
	case "gcs":
		gcs, err := media.NewGCSSource(ctx, media.GCSConfig{
			Bucket:          mc.Bucket,
			Prefix:          mc.Prefix,
			CredentialsFile: mc.CredentialsFile,
		})
		if err != nil {
			slog.Warn("Media bucket unavailable, image tokens left unresolved", "bucket", mc.Bucket, "error", err)
			return nil
		}
		s.gcs = gcs
		if baseURL == "" {
			baseURL = gcs.PublicBaseURL()
		}
		src = gcs
	default:
		slog.Warn("Unknown media source, image tokens left unresolved", "source", mc.Source)
		return nil
	}
	slog.Info("Media resolution enabled", "source", mc.Source, "assets", len(src.Assets()))
	return media.NewResolver(src, baseURL, mc.MinSimilarity)
}

func (s *service) historyRecorder() (history.Recorder, error) {
	switch s.config.HistoryDriver {
	case "none":
		return history.NopRecorder{}, nil
	case "sqlite", "mysql":
		db, err := history.OpenSQL(s.config.HistoryDriver, s.config.HistoryDSN)
		if err != nil {
			return nil, err
		}
		return history.NewSQLRecorder(db)
	case "weaviate":
		if s.weaviateClient == nil {
			return nil, fmt.Errorf("history driver weaviate requires a Weaviate URL")
		}
		return history.NewWeaviateRecorder(s.weaviateClient), nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", s.config.HistoryDriver)
	}
}

// initSweeper starts idle-session eviction when an idle TTL is configured.
func (s *service) initSweeper(bg context.Context) error {
	if s.config.Sessions.IdleTTL <= 0 {
		return nil
	}
	sweeper := session.NewSweeper(s.store, s.config.Sessions, func(_, remaining int) {
		s.metrics.SetActiveSessions(remaining)
	})
	if err := sweeper.Start(bg); err != nil {
		return err
	}
	s.sweeper = sweeper
	return nil
}

// initRouter creates the Gin engine with tracing middleware and registers
// the routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Turner:      s.orchestrator,
		Sessions:    s.store,
		Options:     s.opts,
		TurnTimeout: s.config.TurnTimeout,
	})
}
