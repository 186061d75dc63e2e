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
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrPollTimeout is the sentinel wrapped by PollTimeoutError.
var ErrPollTimeout = errors.New("run did not reach a terminal status")

// PollTimeoutError reports that the poll budget was exhausted.
type PollTimeoutError struct {
	RunID    string
	Attempts int
	Waited   time.Duration
	LastErr  error
}

func (e *PollTimeoutError) Error() string {
	msg := fmt.Sprintf("run %s: %v after %d attempts (%s)", e.RunID, ErrPollTimeout, e.Attempts, e.Waited)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

// Unwrap lets errors.Is match ErrPollTimeout.
func (e *PollTimeoutError) Unwrap() error {
	return ErrPollTimeout
}

// PollConfig bounds how long a run is polled.
//
// # Fields
//
//   - InitialDelay: Wait before the first status check. Default: 500ms.
//   - MaxDelay: Upper bound of the doubling delay. Default: 8s.
//   - MaxAttempts: Status checks plus tool submissions allowed per run. Default: 60.
type PollConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultPollConfig returns the production poll bounds.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		MaxAttempts:  60,
	}
}

// ActionFunc resolves the tool calls of a run in requires_action. It must
// return one output per distinct call id.
type ActionFunc func(ctx context.Context, calls []ToolCall) []ToolOutput

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// PollResult summarizes a driven run.
type PollResult struct {
	Run        Run
	Attempts   int
	ToolRounds int
	Waited     time.Duration
}

// Poller drives runs to completion with bounded exponential backoff.
//
// # Description
//
// Drive sleeps InitialDelay, checks the run, and doubles the delay up to
// MaxDelay while the run is queued or in progress. When the run requires
// action, the ActionFunc is invoked, its outputs are submitted, and the
// delay resets. After MaxAttempts the run is abandoned with a
// *PollTimeoutError; the engine may still finish it on its own.
//
// # Thread Safety
//
// A Poller holds no per-run state and may be shared.
type Poller struct {
	config PollConfig
	sleep  SleepFunc
}

// NewPoller creates a poller. Zero fields of cfg take defaults.
func NewPoller(cfg PollConfig, sleep SleepFunc) *Poller {
	def := DefaultPollConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if sleep == nil {
		sleep = ContextSleep
	}
	return &Poller{config: cfg, sleep: sleep}
}

// Config returns the effective configuration.
func (p *Poller) Config() PollConfig {
	return p.config
}

// ContextSleep waits for d using a timer, returning early with ctx.Err().
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Drive polls run until it is terminal.
//
// # Outputs
//
//   - PollResult: The last observed run and loop counters.
//   - error: *PollTimeoutError when the budget is exhausted, ctx.Err() on
//     cancellation, or the submission error if tool outputs were rejected.
//     A run that ends failed or incomplete is NOT an error.
func (p *Poller) Drive(ctx context.Context, engine Engine, run Run, onAction ActionFunc) (PollResult, error) {
	ctx, span := tracer.Start(ctx, "Poller.Drive")
	defer span.End()

	res := PollResult{Run: run}
	delay := p.config.InitialDelay
	var lastErr error

	for {
		switch {
		case res.Run.Status.Terminal():
			return res, nil

		case res.Run.Status == RunRequiresAction:
			if res.Attempts >= p.config.MaxAttempts {
				return res, p.timeout(res, lastErr)
			}
			res.Attempts++
			res.ToolRounds++

			outputs := onAction(ctx, res.Run.ToolCalls)
			next, err := engine.SubmitToolOutputs(ctx, res.Run.ThreadID, res.Run.ID, outputs)
			if err != nil {
				span.RecordError(err)
				return res, err
			}
			if next.ThreadID == "" {
				next.ThreadID = res.Run.ThreadID
			}
			res.Run = next
			delay = p.config.InitialDelay
			continue
		}

		if res.Attempts >= p.config.MaxAttempts {
			return res, p.timeout(res, lastErr)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return res, err
		}
		res.Waited += delay
		res.Attempts++

		next, err := engine.GetRun(ctx, res.Run.ThreadID, res.Run.ID)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// Transient retrieval failures spend an attempt and retry.
			lastErr = err
			slog.Warn("Run status check failed", "run_id", res.Run.ID, "attempt", res.Attempts, "error", err)
		} else {
			if next.ThreadID == "" {
				next.ThreadID = res.Run.ThreadID
			}
			res.Run = next
			slog.Debug("Polled run", "run_id", next.ID, "status", next.Status, "attempt", res.Attempts)
		}

		delay *= 2
		if delay > p.config.MaxDelay {
			delay = p.config.MaxDelay
		}
	}
}

func (p *Poller) timeout(res PollResult, lastErr error) error {
	return &PollTimeoutError{
		RunID:    res.Run.ID,
		Attempts: res.Attempts,
		Waited:   res.Waited,
		LastErr:  lastErr,
	}
}
