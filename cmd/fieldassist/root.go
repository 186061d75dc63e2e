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
	"strings"

	"github.com/AleutianAI/FieldAssist/cmd/fieldassist/config"
	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigPath = "fieldassist.yaml"

// app carries what the subcommands share: flag/env settings and, in tests,
// an injected engine.
type app struct {
	v      *viper.Viper
	engine llm.Engine
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&app{v: viper.New()})
}

func newRootCmdWith(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fieldassist",
		Short:         "Construction equipment support assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", defaultConfigPath, "path to the configuration file")
	flags.Int("port", 0, "HTTP port (overrides server.port)")
	flags.String("log-level", "", "debug, info, warn or error (overrides logging.level)")

	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("port", flags.Lookup("port"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	a.v.SetEnvPrefix("FIELDASSIST")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newAssistantsCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newChatCmd(a))
	return rootCmd
}

func (a *app) configPath() string {
	return a.v.GetString("config")
}

// loadConfig reads the file and applies flag and env overrides. validate is
// false for commands that run before assistants exist.
func (a *app) loadConfig(validate bool) (config.Config, error) {
	cfg, err := config.Read(a.configPath())
	if err != nil {
		return cfg, err
	}
	if port := a.v.GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if level := a.v.GetString("log_level"); level != "" {
		cfg.Logging.Level = level
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return cfg, fmt.Errorf("invalid config file %s: %w", a.configPath(), err)
		}
	}
	return cfg, nil
}

// engineFor returns the injected engine or builds the OpenAI one.
func (a *app) engineFor(cfg config.Config) (llm.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	return llm.NewOpenAIEngine(openAIConfig(cfg))
}

func openAIConfig(cfg config.Config) llm.OpenAIConfig {
	return llm.OpenAIConfig{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
	}
}
