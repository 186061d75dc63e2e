// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Evictor is the part of Store the sweeper needs.
type Evictor interface {
	EvictIdle(cutoff time.Time) int
	Len() int
}

// SweeperConfig holds configuration for the idle-session sweeper.
//
// # Fields
//
//   - Interval: How often to sweep. Default: 5 minutes.
//   - IdleTTL: Sessions idle longer than this are evicted. Must be > 0.
type SweeperConfig struct {
	Interval time.Duration
	IdleTTL  time.Duration
}

// DefaultSweeperConfig returns a five minute sweep over one day of idleness.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 5 * time.Minute,
		IdleTTL:  24 * time.Hour,
	}
}

// Sweeper periodically evicts idle sessions.
//
// # Description
//
// Manages the lifecycle of a background goroutine using the ticker + done
// channel pattern. Eviction never touches a session that is currently leased,
// so a sweep cannot interrupt a turn in progress.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Sweeper struct {
	evictor  Evictor
	config   SweeperConfig
	now      func() time.Time
	onSweep  func(evicted, remaining int)
	done     chan struct{}
	finished chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSweeper creates a sweeper over evictor. onSweep, if non-nil, is called
// after every cycle with the number evicted and the number remaining.
func NewSweeper(evictor Evictor, config SweeperConfig, onSweep func(evicted, remaining int)) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	return &Sweeper{
		evictor: evictor,
		config:  config,
		now:     time.Now,
		onSweep: onSweep,
	}
}

// Start begins the background sweep loop.
//
// # Outputs
//
//   - error: Non-nil if already running or IdleTTL is not positive.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.config.IdleTTL <= 0 {
		return fmt.Errorf("sweeper idle ttl must be positive, got %s", s.config.IdleTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.finished = make(chan struct{})

	slog.Info("Session sweeper starting",
		"interval", s.config.Interval.String(),
		"idle_ttl", s.config.IdleTTL.String(),
	)

	go s.runLoop(ctx, s.done, s.finished)
	return nil
}

// Stop signals the loop to exit and waits for it. Safe to call multiple times.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	finished := s.finished
	s.mu.Unlock()

	<-finished
	slog.Info("Session sweeper stopped")
	return nil
}

// RunNow performs one sweep immediately and returns the number evicted.
func (s *Sweeper) RunNow() int {
	cutoff := s.now().Add(-s.config.IdleTTL)
	evicted := s.evictor.EvictIdle(cutoff)
	remaining := s.evictor.Len()
	if evicted > 0 {
		slog.Info("Evicted idle sessions", "evicted", evicted, "remaining", remaining)
	} else {
		slog.Debug("Session sweep found no idle sessions", "remaining", remaining)
	}
	if s.onSweep != nil {
		s.onSweep(evicted, remaining)
	}
	return evicted
}

func (s *Sweeper) runLoop(ctx context.Context, done <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session sweeper stopped (context cancelled)")
			return
		case <-done:
			return
		case <-ticker.C:
			s.RunNow()
		}
	}
}
