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
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/AleutianAI/FieldAssist/services/llm"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/registry"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/FieldAssist/services/orchestrator/tools"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newAssistantsCmd(a *app) *cobra.Command {
	assistantsCmd := &cobra.Command{
		Use:   "assistants",
		Short: "Manage the per-phase assistants",
	}
	assistantsCmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Create one assistant per phase and print their ids",
		Long: "Creates the INFO, TROUBLESHOOT and SOLVE assistants with their instructions and " +
			"tool sets. Paste the printed ids under openai.assistants in the config file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(false)
			if err != nil {
				return err
			}
			engine, err := a.engineFor(cfg)
			if err != nil {
				return err
			}
			ids, err := provisionAssistants(cmd.Context(), engine, cfg.OpenAI.Model)
			if err != nil {
				return err
			}
			return printAssistants(cmd.OutOrStdout(), ids)
		},
	})
	return assistantsCmd
}

// provisionAssistants creates the assistants of every phase concurrently.
// Any failure cancels the others; assistants already created are not
// deleted.
func provisionAssistants(ctx context.Context, engine llm.Engine, model string) (map[phase.Phase]string, error) {
	// Handlers never run here; the catalogue is only read for its schemas.
	reg := registry.NewClient("", 0)
	catalog, err := tools.NewCatalog(tools.Deps{Machines: reg, Tickets: reg, Manuals: retrieval.Unavailable{}})
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		ids = make(map[phase.Phase]string, len(phase.All))
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range phase.All {
		profile, err := phase.ProfileFor(p)
		if err != nil {
			return nil, err
		}
		specs, err := catalog.Specs(tools.PhaseTools(p)...)
		if err != nil {
			return nil, fmt.Errorf("%s tools: %w", p, err)
		}
		g.Go(func() error {
			id, err := engine.CreateAssistant(ctx, llm.AssistantSpec{
				Name:         profile.Name,
				Instructions: profile.Instructions,
				Model:        model,
				Tools:        specs,
			})
			if err != nil {
				return fmt.Errorf("create %s assistant: %w", p, err)
			}
			mu.Lock()
			ids[p] = id
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// printAssistants writes `phase: id` lines in phase order.
func printAssistants(w io.Writer, ids map[phase.Phase]string) error {
	for _, p := range phase.All {
		if _, err := fmt.Fprintf(w, "%s: %s\n", p, ids[p]); err != nil {
			return err
		}
	}
	return nil
}
