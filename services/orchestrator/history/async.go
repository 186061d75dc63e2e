// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("history recorder closed")

// AsyncOptions configures Async.
type AsyncOptions struct {
	// QueueSize bounds pending turns. Default: 256
	QueueSize int

	// WriteTimeout bounds one write to the wrapped recorder. Default: 10s
	WriteTimeout time.Duration

	// OnDrop is called for each turn dropped because the queue was full.
	OnDrop func()
}

// Async hands turns to a single background writer.
//
// # Description
//
// Append never blocks: it validates the turn and enqueues it, or drops it
// with a warning when the queue is full. The worker writes turns in order
// and logs failures. Close stops intake and waits for the queue to drain.
//
// # Thread Safety
//
// Safe for concurrent use.
type Async struct {
	next    Recorder
	queue   chan Turn
	timeout time.Duration
	onDrop  func()

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ Recorder = (*Async)(nil)

// NewAsync starts the worker.
func NewAsync(next Recorder, opts AsyncOptions) *Async {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	a := &Async{
		next:    next,
		queue:   make(chan Turn, opts.QueueSize),
		timeout: opts.WriteTimeout,
		onDrop:  opts.OnDrop,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Append enqueues the turn.
func (a *Async) Append(_ context.Context, turn Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- turn:
		return nil
	default:
		slog.Warn("History queue full, dropping turn",
			"conversation_id", turn.ConversationID, "sender", turn.Sender)
		if a.onDrop != nil {
			a.onDrop()
		}
		return nil
	}
}

func (a *Async) run() {
	defer close(a.done)
	for turn := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Append(ctx, turn); err != nil {
			slog.Error("Failed to record conversation turn",
				"conversation_id", turn.ConversationID, "sender", turn.Sender, "error", err)
		}
		cancel()
	}
}

// Close stops intake and waits until queued turns are written or ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
