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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/FieldAssist/services/orchestrator/phase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AcquireCreatesFreshSession(t *testing.T) {
	store := NewStore()

	lease, err := store.Acquire(context.Background(), "user-1", false)
	require.NoError(t, err)
	defer lease.Release()

	assert.True(t, lease.Fresh)
	assert.Equal(t, "user-1", lease.Session.UserID)
	assert.Equal(t, phase.Info, lease.Session.Phase)
	assert.Empty(t, lease.Session.Threads)
	assert.Equal(t, CollectedInfo{}, lease.Session.Info)
	assert.NotEmpty(t, lease.Session.ConversationID)
}

func TestStore_AcquireReturnsSameSession(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first, err := store.Acquire(ctx, "user-1", false)
	require.NoError(t, err)
	first.Session.Info.ModelName = "EC220D"
	convID := first.Session.ConversationID
	first.Release()

	second, err := store.Acquire(ctx, "user-1", false)
	require.NoError(t, err)
	defer second.Release()

	assert.False(t, second.Fresh)
	assert.Equal(t, "EC220D", second.Session.Info.ModelName)
	assert.Equal(t, convID, second.Session.ConversationID)
}

// TestStore_ResetClearsState verifies reset regardless of prior state.
func TestStore_ResetClearsState(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	lease, err := store.Acquire(ctx, "user-1", false)
	require.NoError(t, err)
	s := lease.Session
	s.Info = CollectedInfo{ModelName: "EC220D", SerialNumber: "SN123456", MachineID: "9"}
	require.NoError(t, s.BindThread(phase.Info, "thread_info"))
	require.NoError(t, s.BindThread(phase.Troubleshoot, "thread_ts"))
	require.NoError(t, s.Advance(phase.Troubleshoot))
	s.BasicInfoAck = true
	s.Ticket = Ticket{TicketID: "3"}
	oldConv := s.ConversationID
	lease.Release()

	reset, err := store.Acquire(ctx, "user-1", true)
	require.NoError(t, err)
	defer reset.Release()

	assert.True(t, reset.Fresh)
	assert.Equal(t, phase.Info, reset.Session.Phase)
	assert.Equal(t, CollectedInfo{}, reset.Session.Info)
	assert.Empty(t, reset.Session.Threads)
	assert.False(t, reset.Session.BasicInfoAck)
	assert.False(t, reset.Session.HasTicket())
	assert.NotEqual(t, oldConv, reset.Session.ConversationID)
}

func TestStore_AcquireRejectsEmptyUser(t *testing.T) {
	_, err := NewStore().Acquire(context.Background(), "", false)
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

// TestStore_SameUserSerializes verifies at most one lease per user at a time.
func TestStore_SameUserSerializes(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := store.Acquire(ctx, "same-user", false)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			lease.Session.Turns++
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			lease.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	snap, ok, err := store.Snapshot(ctx, "same-user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20, snap.Turns)
}

// TestStore_DifferentUsersIndependent verifies one user's lease never blocks another.
func TestStore_DifferentUsersIndependent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	held, err := store.Acquire(ctx, "user-a", false)
	require.NoError(t, err)
	defer held.Release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		other, err := store.Acquire(ctx, "user-b", false)
		if assert.NoError(t, err) {
			other.Release()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire for a different user blocked")
	}
}

func TestStore_AcquireHonorsContext(t *testing.T) {
	store := NewStore()

	held, err := store.Acquire(context.Background(), "user-1", false)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Acquire(ctx, "user-1", false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_ReleaseIsIdempotent(t *testing.T) {
	store := NewStore()
	lease, err := store.Acquire(context.Background(), "user-1", false)
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	again, err := store.Acquire(context.Background(), "user-1", false)
	require.NoError(t, err)
	again.Release()
}

func TestStore_SnapshotUnknownUser(t *testing.T) {
	_, ok, err := NewStore().Snapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	lease, err := store.Acquire(ctx, "user-1", false)
	require.NoError(t, err)
	require.NoError(t, lease.Session.BindThread(phase.Info, "thread_1"))
	lease.Release()

	snap, ok, err := store.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	snap.Threads[phase.Info] = "mutated"

	again, _, err := store.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "thread_1", again.Threads[phase.Info])
}

func TestStore_Reset(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	lease, err := store.Acquire(ctx, "user-1", false)
	require.NoError(t, err)
	lease.Session.Info.ModelName = "EC220D"
	lease.Release()

	require.NoError(t, store.Reset(ctx, "user-1"))

	snap, ok, err := store.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, snap.Info.ModelName)
}

func TestStore_EvictIdleSkipsLeased(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewStore(WithClock(clock))
	ctx := context.Background()

	idle, err := store.Acquire(ctx, "idle", false)
	require.NoError(t, err)
	idle.Release()

	busy, err := store.Acquire(ctx, "busy", false)
	require.NoError(t, err)

	evicted := store.EvictIdle(now.Add(time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, store.Len())

	busy.Release()
	evicted = store.EvictIdle(now.Add(time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, store.Len())
}

func TestStore_EvictIdleKeepsRecent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return now }))

	lease, err := store.Acquire(context.Background(), "recent", false)
	require.NoError(t, err)
	lease.Release()

	assert.Equal(t, 0, store.EvictIdle(now.Add(-time.Hour)))
	assert.Equal(t, 1, store.Len())
}

func TestSession_BindThreadIsImmutable(t *testing.T) {
	s := New("user-1", time.Now())

	require.NoError(t, s.BindThread(phase.Info, "thread_1"))
	require.NoError(t, s.BindThread(phase.Info, "thread_1"))

	err := s.BindThread(phase.Info, "thread_2")
	assert.ErrorIs(t, err, ErrThreadBound)

	id, ok := s.Thread(phase.Info)
	assert.True(t, ok)
	assert.Equal(t, "thread_1", id)

	assert.Error(t, s.BindThread(phase.Solve, ""))
}

func TestSession_AdvanceIsForwardOnly(t *testing.T) {
	s := New("user-1", time.Now())

	require.NoError(t, s.Advance(phase.Troubleshoot))
	assert.ErrorIs(t, s.Advance(phase.Info), ErrBackwardTransition)
	assert.ErrorIs(t, s.Advance(phase.Troubleshoot), ErrBackwardTransition)
	require.NoError(t, s.Advance(phase.Solve))
	assert.Equal(t, phase.Solve, s.Phase)
}

func TestSession_Facts(t *testing.T) {
	s := New("user-1", time.Now())
	s.Info = CollectedInfo{ModelName: "EC220D", SerialNumber: "SN123456"}
	s.BasicInfoAck = true

	f := s.Facts()
	assert.True(t, phase.InfoComplete(f))
	assert.True(t, f.Acknowledged)
	assert.False(t, f.TicketResolved)

	// A resolved flag without a ticket id does not count.
	s.Ticket.Resolved = true
	assert.False(t, s.Facts().TicketResolved)
	s.Ticket.TicketID = "12"
	assert.True(t, s.Facts().TicketResolved)
}

func TestSession_MachineIDFallsBackToTicket(t *testing.T) {
	s := New("user-1", time.Now())
	assert.Empty(t, s.MachineID())

	s.Ticket.MachineID = "7"
	assert.Equal(t, "7", s.MachineID())

	s.Info.MachineID = "9"
	assert.Equal(t, "9", s.MachineID())
}
