/*
 * d3270d: detachable IBM 3270 terminal gateway
 * Copyright 2019-2023 Daniel Selifonov
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package session

import (
	"context"
	"testing"
	"time"

	"d3270d/internal/arbiter"
	"d3270d/internal/b3270"
)

// fakeArbiter answers every ResyncRequest with a scripted reply and records
// every ActionRequest it receives, so Session's state transitions can be
// driven deterministically without a real child process.
type fakeArbiter struct {
	resyncReplies []arbiter.ResyncReply
	nextResync    int

	unsubscribed []uint64
	actions      [][]b3270.Action
}

func (f *fakeArbiter) Request(req arbiter.Request) {
	switch r := req.(type) {
	case arbiter.ResyncRequest:
		reply := f.resyncReplies[f.nextResync]
		f.nextResync++
		r.Resp <- reply
	case arbiter.ActionRequest:
		f.actions = append(f.actions, r.Actions)
		r.Resp <- b3270.RunResult{Success: true}
	}
}

func (f *fakeArbiter) Unsubscribe(id uint64) {
	f.unsubscribed = append(f.unsubscribed, id)
}

func newSessionWithFake(t *testing.T, f *fakeArbiter) *Session {
	t.Helper()
	s := &Session{arb: f}
	if err := s.resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	return s
}

func TestSessionReplaysSnapshotBeforeLiveEvents(t *testing.T) {
	live := make(chan arbiter.Event, 4)
	snapshot := []b3270.Indication{
		b3270.Connection{State: b3270.StateConnected3270},
		b3270.Connection{State: b3270.StateNotConnected},
	}
	f := &fakeArbiter{resyncReplies: []arbiter.ResyncReply{
		{Snapshot: snapshot, SubID: 1, Events: live},
	}}
	s := newSessionWithFake(t, f)

	ctx := context.Background()
	for i, want := range snapshot {
		got, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next[%d]: %v", i, err)
		}
		if got != want {
			t.Fatalf("Next[%d] = %+v, want %+v", i, got, want)
		}
	}

	live <- arbiter.Event{Ind: b3270.Connection{State: b3270.StateConnectedTn3270e}}
	got, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next live: %v", err)
	}
	if got != (b3270.Connection{State: b3270.StateConnectedTn3270e}) {
		t.Fatalf("Next live = %+v", got)
	}
}

// TestSessionRecoversFromLag exercises scenario 6: a Lagged event received
// while Steady triggers a fresh resync, after which the new snapshot is
// replayed before live delivery resumes on the new subscription.
func TestSessionRecoversFromLag(t *testing.T) {
	firstLive := make(chan arbiter.Event, 4)
	secondLive := make(chan arbiter.Event, 4)

	firstSnapshot := []b3270.Indication{b3270.Connection{State: b3270.StateConnected3270}}
	secondSnapshot := []b3270.Indication{
		b3270.Connection{State: b3270.StateConnected3270},
		b3270.Connection{State: b3270.StateConnectedTn3270e},
	}

	f := &fakeArbiter{resyncReplies: []arbiter.ResyncReply{
		{Snapshot: firstSnapshot, SubID: 1, Events: firstLive},
		{Snapshot: secondSnapshot, SubID: 2, Events: secondLive},
	}}
	s := newSessionWithFake(t, f)

	ctx := context.Background()
	if _, err := s.Next(ctx); err != nil {
		t.Fatalf("initial snapshot replay: %v", err)
	}

	// Simulate the hub reporting 7 dropped indications.
	firstLive <- arbiter.Event{Count: 7}

	got, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next after lag: %v", err)
	}
	if got != secondSnapshot[0] {
		t.Fatalf("expected replay of new snapshot[0], got %+v", got)
	}
	got, err = s.Next(ctx)
	if err != nil {
		t.Fatalf("Next after lag (2nd): %v", err)
	}
	if got != secondSnapshot[1] {
		t.Fatalf("expected replay of new snapshot[1], got %+v", got)
	}

	if f.nextResync != 2 {
		t.Fatalf("expected exactly 2 resyncs, got %d", f.nextResync)
	}
	if s.subID != 2 {
		t.Fatalf("expected session to have adopted the new subscription id, got %d", s.subID)
	}
	if len(f.unsubscribed) != 1 || f.unsubscribed[0] != 1 {
		t.Fatalf("expected the stale subscription to be unsubscribed during recovery, got %+v", f.unsubscribed)
	}

	secondLive <- arbiter.Event{Ind: b3270.Connection{State: b3270.StateNotConnected}}
	got, err = s.Next(ctx)
	if err != nil {
		t.Fatalf("Next live after recovery: %v", err)
	}
	if got != (b3270.Connection{State: b3270.StateNotConnected}) {
		t.Fatalf("expected live delivery on the new subscription, got %+v", got)
	}
}

func TestSessionSendActionsRoutesThroughArbiter(t *testing.T) {
	live := make(chan arbiter.Event, 1)
	f := &fakeArbiter{resyncReplies: []arbiter.ResyncReply{
		{Snapshot: nil, SubID: 1, Events: live},
	}}
	s := newSessionWithFake(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	actions := []b3270.Action{{Action: "Enter"}}
	rr, err := s.SendActions(ctx, actions)
	if err != nil {
		t.Fatalf("SendActions: %v", err)
	}
	if !rr.Success {
		t.Fatalf("expected Success=true")
	}
	if len(f.actions) != 1 || len(f.actions[0]) != 1 || f.actions[0][0].Action != "Enter" {
		t.Fatalf("arbiter did not receive the expected actions: %+v", f.actions)
	}
}

func TestSessionCloseUnsubscribes(t *testing.T) {
	live := make(chan arbiter.Event, 1)
	f := &fakeArbiter{resyncReplies: []arbiter.ResyncReply{
		{Snapshot: nil, SubID: 42, Events: live},
	}}
	s := newSessionWithFake(t, f)
	s.Close()
	if len(f.unsubscribed) != 1 || f.unsubscribed[0] != 42 {
		t.Fatalf("expected Unsubscribe(42), got %+v", f.unsubscribed)
	}
}
