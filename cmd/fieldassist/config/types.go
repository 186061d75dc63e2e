// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the FieldAssist configuration file format.
package config

import (
	"time"
)

// Config is the root of fieldassist.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Poll      PollConfig      `yaml:"poll"`
	Registry  RegistryConfig  `yaml:"registry"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Detection DetectionConfig `yaml:"detection"`
	Media     MediaConfig     `yaml:"media"`
	History   HistoryConfig   `yaml:"history"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port        int            `yaml:"port"`
	GinMode     string         `yaml:"gin_mode"`
	TurnTimeout time.Duration  `yaml:"turn_timeout"`
	APIKeys     []APIKeyConfig `yaml:"api_keys,omitempty"`
}

// APIKeyConfig is one accepted bearer token. An empty api_keys list leaves
// /v1 open to local callers.
type APIKeyConfig struct {
	Key      string   `yaml:"key"`
	ClientID string   `yaml:"client_id"`
	Roles    []string `yaml:"roles,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

type OpenAIConfig struct {
	// APIKey is usually left empty and taken from OPENAI_API_KEY or the
	// mounted secret file.
	APIKey            string  `yaml:"api_key,omitempty"`
	BaseURL           string  `yaml:"base_url,omitempty"`
	Model             string  `yaml:"model"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Assistants maps phase names (INFO, TROUBLESHOOT, SOLVE) to assistant ids.
	Assistants map[string]string `yaml:"assistants"`
}

type PollConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type RegistryConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	SupportedModels []string      `yaml:"supported_models,omitempty"`
}

type WeaviateConfig struct {
	URL   string `yaml:"url"`
	Class string `yaml:"class"`
}

type DetectionConfig struct {
	URL                 string        `yaml:"url"`
	APIKey              string        `yaml:"api_key,omitempty"`
	ModelID             string        `yaml:"model_id"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
}

type MediaConfig struct {
	// Source is local, gcs, or empty to disable image resolution.
	Source          string  `yaml:"source"`
	Dir             string  `yaml:"dir,omitempty"`
	Bucket          string  `yaml:"bucket,omitempty"`
	Prefix          string  `yaml:"prefix,omitempty"`
	CredentialsFile string  `yaml:"credentials_file,omitempty"`
	BaseURL         string  `yaml:"base_url,omitempty"`
	MinSimilarity   float64 `yaml:"min_similarity"`
}

type HistoryConfig struct {
	// Driver is none, sqlite, mysql or weaviate.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

type SessionsConfig struct {
	// IdleTTL 0 keeps sessions for the process lifetime.
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`
}

// DefaultConfig returns the configuration written by `fieldassist config init`.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:        12210,
			GinMode:     "release",
			TurnTimeout: 3 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
		OpenAI: OpenAIConfig{
			Model:          "gpt-4.1-mini",
			EmbeddingModel: "text-embedding-ada-002",
			Assistants: map[string]string{
				"INFO":         "",
				"TROUBLESHOOT": "",
				"SOLVE":        "",
			},
		},
		Poll: PollConfig{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     8 * time.Second,
			MaxAttempts:  60,
		},
		Registry: RegistryConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 15 * time.Second,
		},
		Weaviate: WeaviateConfig{Class: "ManualChunk"},
		Detection: DetectionConfig{
			ConfidenceThreshold: 0.25,
			Timeout:             30 * time.Second,
		},
		Media:    MediaConfig{MinSimilarity: 0.8},
		History:  HistoryConfig{Driver: "none"},
		Sessions: SessionsConfig{SweepInterval: 5 * time.Minute},
		Telemetry: TelemetryConfig{
			OTelEndpoint: "fieldassist-otel-collector:4317",
		},
	}
}
