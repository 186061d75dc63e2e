// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldassist.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "etc", "fieldassist.yaml")

	if err := CreateDefault(configPath); err != nil {
		t.Fatalf("CreateDefault() failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if cfg.Server.Port != 12210 {
		t.Errorf("Server.Port = %d, want 12210", cfg.Server.Port)
	}
	if cfg.Poll.InitialDelay != 500*time.Millisecond {
		t.Errorf("Poll.InitialDelay = %v, want 500ms", cfg.Poll.InitialDelay)
	}
	if _, ok := cfg.OpenAI.Assistants["TROUBLESHOOT"]; !ok {
		t.Error("default file should list every phase under openai.assistants")
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	if err := CreateDefault(configPath); err == nil {
		t.Error("CreateDefault() should refuse to overwrite")
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
openai:
  assistants:
    info: asst_info
    SOLVE: asst_solve
history:
  driver: sqlite
  dsn: /var/lib/fieldassist/history.db
sessions:
  idle_ttl: 12h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.TurnTimeout != 3*time.Minute {
		t.Errorf("Server.TurnTimeout = %v, want default 3m", cfg.Server.TurnTimeout)
	}
	if cfg.Registry.BaseURL != "http://localhost:5000/api" {
		t.Errorf("Registry.BaseURL = %q, want default", cfg.Registry.BaseURL)
	}
	if cfg.Sessions.IdleTTL != 12*time.Hour || cfg.Sessions.SweepInterval != 5*time.Minute {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}

	assistants, err := cfg.Assistants()
	if err != nil {
		t.Fatalf("Assistants() error = %v", err)
	}
	want := map[phase.Phase]string{phase.Info: "asst_info", phase.Solve: "asst_solve"}
	if len(assistants) != len(want) {
		t.Fatalf("Assistants() = %v, want %v", assistants, want)
	}
	for p, id := range want {
		if assistants[p] != id {
			t.Errorf("Assistants()[%s] = %q, want %q", p, assistants[p], id)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Error("Load() of malformed YAML should fail")
	}
	_, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	if err == nil || !strings.Contains(err.Error(), "assistants setup") {
		t.Errorf("Load() without an INFO assistant error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.OpenAI.Assistants["INFO"] = "asst_info"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default with info assistant", func(*Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"api key without client", func(c *Config) {
			c.Server.APIKeys = []APIKeyConfig{{Key: "k"}}
		}, "api_keys[0]"},
		{"unknown phase", func(c *Config) { c.OpenAI.Assistants["REPAIR"] = "x" }, "unknown phase"},
		{"poll delays inverted", func(c *Config) { c.Poll.MaxDelay = time.Millisecond }, "poll.max_delay"},
		{"local media without dir", func(c *Config) { c.Media.Source = "local" }, "media.dir"},
		{"gcs media without bucket", func(c *Config) { c.Media.Source = "gcs" }, "media.bucket"},
		{"unknown media source", func(c *Config) { c.Media.Source = "s3" }, "media.source"},
		{"similarity above one", func(c *Config) { c.Media.MinSimilarity = 1.5 }, "min_similarity"},
		{"sql history without dsn", func(c *Config) { c.History.Driver = "mysql" }, "history.dsn"},
		{"weaviate history without url", func(c *Config) { c.History.Driver = "weaviate" }, "weaviate.url"},
		{"unknown history driver", func(c *Config) { c.History.Driver = "redis" }, "history.driver"},
		{"detection without model", func(c *Config) { c.Detection.URL = "https://detect.example" }, "model_id"},
		{"negative idle ttl", func(c *Config) { c.Sessions.IdleTTL = -time.Second }, "idle_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.History.Driver = "redis"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"server.port", "history.driver", "INFO"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q should mention %q", err, want)
		}
	}
}
