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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Read parses the file at path over DefaultConfig, so keys missing from the
// file keep their defaults. The result is not validated.
func Read(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem in cfg at once.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	for i, k := range c.Server.APIKeys {
		if k.Key == "" || k.ClientID == "" {
			errs = append(errs, fmt.Errorf("server.api_keys[%d] needs key and client_id", i))
		}
	}

	assistants, err := c.Assistants()
	if err != nil {
		errs = append(errs, err)
	} else if assistants[phase.Info] == "" {
		errs = append(errs, errors.New("openai.assistants.INFO is required; run `fieldassist assistants setup`"))
	}

	if c.Poll.MaxDelay > 0 && c.Poll.MaxDelay < c.Poll.InitialDelay {
		errs = append(errs, errors.New("poll.max_delay must not be below poll.initial_delay"))
	}

	switch c.Media.Source {
	case "":
	case "local":
		if c.Media.Dir == "" {
			errs = append(errs, errors.New("media.dir is required for source local"))
		}
	case "gcs":
		if c.Media.Bucket == "" {
			errs = append(errs, errors.New("media.bucket is required for source gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.source %q must be local, gcs or empty", c.Media.Source))
	}
	if c.Media.MinSimilarity < 0 || c.Media.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("media.min_similarity %.2f must be within [0, 1]", c.Media.MinSimilarity))
	}

	switch c.History.Driver {
	case "", "none":
	case "sqlite", "mysql":
		if c.History.DSN == "" {
			errs = append(errs, fmt.Errorf("history.dsn is required for driver %s", c.History.Driver))
		}
	case "weaviate":
		if c.Weaviate.URL == "" {
			errs = append(errs, errors.New("history driver weaviate requires weaviate.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.driver %q must be none, sqlite, mysql or weaviate", c.History.Driver))
	}

	if c.Detection.URL != "" && c.Detection.ModelID == "" {
		errs = append(errs, errors.New("detection.model_id is required with detection.url"))
	}
	if c.Sessions.IdleTTL < 0 {
		errs = append(errs, errors.New("sessions.idle_ttl must not be negative"))
	}

	return errors.Join(errs...)
}

// Assistants returns the configured assistant ids keyed by phase. Empty ids
// are dropped.
func (c Config) Assistants() (map[phase.Phase]string, error) {
	out := make(map[phase.Phase]string, len(c.OpenAI.Assistants))
	for name, id := range c.OpenAI.Assistants {
		p, err := phase.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("openai.assistants: %w", err)
		}
		if id = strings.TrimSpace(id); id != "" {
			out[p] = id
		}
	}
	return out, nil
}

// CreateDefault writes DefaultConfig to path. It refuses to overwrite an
// existing file.
func CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	return createDefault(path)
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	// The file may end up holding API keys.
	return os.WriteFile(path, data, 0o600)
}
