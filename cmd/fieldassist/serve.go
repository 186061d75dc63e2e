// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/FieldAssist/cmd/fieldassist/config"
	"github.com/AleutianAI/FieldAssist/pkg/extensions"
	"github.com/AleutianAI/FieldAssist/pkg/logging"
	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/AleutianAI/FieldAssist/services/orchestrator"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/detection"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/session"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the FieldAssist HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(true)
			if err != nil {
				return err
			}
			level, err := logging.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{
				Level:   level,
				JSON:    cfg.Logging.JSON,
				LogDir:  cfg.Logging.Dir,
				Service: "orchestrator",
			})
			defer logger.Close()
			slog.SetDefault(logger.Slog())

			svcCfg, err := serviceConfig(cfg)
			if err != nil {
				return err
			}
			if a.engine != nil {
				svcCfg.Engine = a.engine
			}
			opts, err := serviceOptions(cfg, logger.Slog())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("Starting FieldAssist",
				"port", svcCfg.Port,
				"phases", len(svcCfg.Assistants),
				"weaviate_configured", svcCfg.WeaviateURL != "",
				"history_driver", svcCfg.HistoryDriver,
				"media_source", svcCfg.Media.Source,
				"api_keys", len(cfg.Server.APIKeys),
			)
			svc, err := orchestrator.New(ctx, svcCfg, &opts)
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}
			return svc.Run(ctx)
		},
	}
}

// serviceConfig maps the file format onto the service configuration.
func serviceConfig(cfg config.Config) (orchestrator.Config, error) {
	assistants, err := cfg.Assistants()
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{
		Port:             cfg.Server.Port,
		GinMode:          cfg.Server.GinMode,
		TurnTimeout:      cfg.Server.TurnTimeout,
		TelemetryEnabled: cfg.Telemetry.Enabled,
		OTelEndpoint:     cfg.Telemetry.OTelEndpoint,
		OpenAI:           openAIConfig(cfg),
		Assistants:       assistants,
		Poll: llm.PollConfig{
			InitialDelay: cfg.Poll.InitialDelay,
			MaxDelay:     cfg.Poll.MaxDelay,
			MaxAttempts:  cfg.Poll.MaxAttempts,
		},
		RegistryURL:     cfg.Registry.BaseURL,
		RegistryTimeout: cfg.Registry.Timeout,
		SupportedModels: cfg.Registry.SupportedModels,
		WeaviateURL:     cfg.Weaviate.URL,
		ManualClass:     cfg.Weaviate.Class,
		Embeddings: retrieval.EmbedderConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   openai.EmbeddingModel(cfg.OpenAI.EmbeddingModel),
		},
		Detection: detection.Config{
			URL:                 cfg.Detection.URL,
			APIKey:              cfg.Detection.APIKey,
			ModelID:             cfg.Detection.ModelID,
			ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
			Timeout:             cfg.Detection.Timeout,
		},
		Media: orchestrator.MediaConfig{
			Source:          cfg.Media.Source,
			Dir:             cfg.Media.Dir,
			Bucket:          cfg.Media.Bucket,
			Prefix:          cfg.Media.Prefix,
			CredentialsFile: cfg.Media.CredentialsFile,
			BaseURL:         cfg.Media.BaseURL,
			MinSimilarity:   cfg.Media.MinSimilarity,
		},
		HistoryDriver: cfg.History.Driver,
		HistoryDSN:    cfg.History.DSN,
		Sessions: session.SweeperConfig{
			Interval: cfg.Sessions.SweepInterval,
			IdleTTL:  cfg.Sessions.IdleTTL,
		},
	}, nil
}

// serviceOptions enables API-key auth when keys are configured and audits
// through the process logger.
func serviceOptions(cfg config.Config, logger *slog.Logger) (extensions.ServiceOptions, error) {
	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(logger))
	if len(cfg.Server.APIKeys) == 0 {
		return opts, nil
	}
	keys := make([]extensions.APIKey, len(cfg.Server.APIKeys))
	for i, k := range cfg.Server.APIKeys {
		keys[i] = extensions.APIKey{Key: k.Key, ClientID: k.ClientID, Roles: k.Roles}
	}
	provider, err := extensions.NewAPIKeyProvider(keys...)
	if err != nil {
		return opts, err
	}
	return opts.WithAuth(provider), nil
}
