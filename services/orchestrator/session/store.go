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
	"errors"
	"sync"
	"time"
)

// ErrEmptyUserID is returned when a caller omits the user id.
var ErrEmptyUserID = errors.New("user id is required")

// entry is one user's slot in the store.
//
// lock is a one-token semaphore: holding the token means owning sess.
// refs counts leases that are held or waiting and is guarded by Store.mu.
type entry struct {
	lock chan struct{}
	sess *Session
	refs int
}

// Store is a concurrency-safe keyed map of sessions.
//
// # Description
//
// Store serializes access per user id: concurrent Acquire calls for the same
// user are granted one at a time, in no guaranteed order, while calls for
// different users never wait on each other beyond a short map lookup.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lease grants exclusive access to one user's session until Release.
type Lease struct {
	// Session is the leased session. It must not be retained after Release.
	Session *Session

	// Fresh is true when Acquire created a new session, either because none
	// existed or because reset was requested.
	Fresh bool

	store *Store
	e     *entry
	once  sync.Once
}

// Release returns the session to the store. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		<-l.e.lock
		l.store.unref(l.e)
	})
}

// Acquire returns the session for userID, creating it when absent.
//
// # Description
//
// Blocks until no other lease for userID is outstanding. When reset is true
// the prior session is atomically replaced by a fresh one (phase INFO, no
// collected info, no threads, new conversation id) while the lock is held.
//
// # Inputs
//
//   - ctx: Cancels the wait for the per-user lock.
//   - userID: Stable external user identifier. Must not be empty.
//   - reset: Replace any existing session.
//
// # Outputs
//
//   - *Lease: Exclusive handle. Callers must call Release.
//   - error: ErrEmptyUserID, or ctx.Err() if the wait was cancelled.
//
// # Example
//
//	lease, err := store.Acquire(ctx, "user-7", false)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//	lease.Session.Info.ModelName = "EC220D"
func (s *Store) Acquire(ctx context.Context, userID string, reset bool) (*Lease, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	e := s.ref(userID)
	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		s.unref(e)
		return nil, ctx.Err()
	}

	now := s.now()
	fresh := false
	if reset || e.sess == nil {
		e.sess = New(userID, now)
		fresh = true
	}
	e.sess.LastActive = now

	return &Lease{Session: e.sess, Fresh: fresh, store: s, e: e}, nil
}

// Snapshot returns a copy of userID's session without creating one.
func (s *Store) Snapshot(ctx context.Context, userID string) (Snapshot, bool, error) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if ok {
		e.refs++
	}
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false, nil
	}
	defer s.unref(e)

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	}
	defer func() { <-e.lock }()

	if e.sess == nil {
		return Snapshot{}, false, nil
	}
	return e.sess.Snapshot(), true, nil
}

// Reset replaces userID's session with a fresh one.
func (s *Store) Reset(ctx context.Context, userID string) error {
	lease, err := s.Acquire(ctx, userID, true)
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

// Len returns the number of users with a slot in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EvictIdle drops sessions whose last activity is before cutoff.
//
// Sessions that are leased or awaited are never evicted. Returns the
// number of sessions removed.
func (s *Store) EvictIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for userID, e := range s.entries {
		// refs == 0 under s.mu means nobody holds or waits for e.lock.
		if e.refs != 0 {
			continue
		}
		if e.sess == nil || e.sess.LastActive.Before(cutoff) {
			delete(s.entries, userID)
			evicted++
		}
	}
	return evicted
}

func (s *Store) ref(userID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		e = &entry{lock: make(chan struct{}, 1)}
		s.entries[userID] = e
	}
	e.refs++
	return e
}

func (s *Store) unref(e *entry) {
	s.mu.Lock()
	e.refs--
	s.mu.Unlock()
}
