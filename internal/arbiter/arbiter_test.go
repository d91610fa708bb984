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

package arbiter

import (
	"testing"

	"d3270d/internal/b3270"
	"d3270d/internal/dlog"
	"d3270d/internal/tracker"
)

func newTestArbiter() *Arbiter {
	return &Arbiter{
		tracker: tracker.New(),
		hub:     newHub(),
		comm:    make(chan Request, 16),
		log:     dlog.New("test"),
		respMap: make(map[string]chan b3270.RunResult),
	}
}

func TestAllocateTagAvoidsCollisions(t *testing.T) {
	a := newTestArbiter()
	seen := make(map[string]bool)
	for i := 0; i < 256; i++ {
		tag, err := a.allocateTag()
		if err != nil {
			t.Fatalf("allocateTag: %v", err)
		}
		if seen[tag] {
			t.Fatalf("allocateTag produced a duplicate: %q", tag)
		}
		seen[tag] = true
		a.respMap[tag] = make(chan b3270.RunResult, 1)
	}
}

func TestAllocateTagSkipsReservedTags(t *testing.T) {
	a := newTestArbiter()
	reserved, err := a.allocateTag()
	if err != nil {
		t.Fatalf("allocateTag: %v", err)
	}
	a.respMap[reserved] = make(chan b3270.RunResult, 1)

	for i := 0; i < 64; i++ {
		tag, err := a.allocateTag()
		if err != nil {
			t.Fatalf("allocateTag: %v", err)
		}
		if tag == reserved {
			t.Fatalf("allocateTag returned an already-reserved tag")
		}
	}
}

// TestHubLossySubscriberDoesNotBlockHealthySubscribers verifies the hub's
// non-blocking fan-out: a subscriber whose channel fills up accumulates a
// lag count instead of stalling broadcast() for everyone else.
func TestHubLossySubscriberDoesNotBlockHealthySubscribers(t *testing.T) {
	h := newHub()
	_, slowCh := h.subscribe()
	_, fastCh := h.subscribe()

	total := subscriberCapacity + 10
	for i := 0; i < total; i++ {
		h.broadcast(b3270.Connection{State: b3270.StateConnected3270})
	}

	drained := 0
	for {
		select {
		case <-fastCh:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 {
		t.Fatalf("fast subscriber received nothing despite slow subscriber backing up")
	}

	sawLag := false
	for i := 0; i < subscriberCapacity; i++ {
		select {
		case ev := <-slowCh:
			if ev.Count > 0 {
				sawLag = true
			}
		default:
		}
	}
	if !sawLag {
		t.Fatalf("slow subscriber's channel never reports a Lagged event")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := newHub()
	id, ch := h.subscribe()
	h.unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}

// TestFoldRoutesRunResultOnlyToRequester exercises scenario 5: a RunResult
// must reach the ActionRequest's own Resp channel, and must never appear on
// the broadcast hub where other subscribers would see it.
func TestFoldRoutesRunResultOnlyToRequester(t *testing.T) {
	a := newTestArbiter()
	_, subEvents := a.hub.subscribe()

	tag := "test-tag"
	resp := make(chan b3270.RunResult, 1)
	a.respMap[tag] = resp

	a.fold(b3270.RunResult{RTag: &tag, Success: true})

	select {
	case rr := <-resp:
		if !rr.Success {
			t.Fatalf("expected Success=true")
		}
	default:
		t.Fatalf("requester never received its RunResult")
	}

	if _, stillPresent := a.respMap[tag]; stillPresent {
		t.Fatalf("respMap entry should be removed once delivered")
	}

	select {
	case ev := <-subEvents:
		t.Fatalf("subscriber unexpectedly observed an event: %+v", ev)
	default:
	}
}

// TestFoldDropsUnrequestedRunResult covers a RunResult whose tag nobody is
// waiting on (e.g. the reply to the initial Connect, which Spawn sends with
// no response channel): it must be silently dropped, never broadcast.
func TestFoldDropsUnrequestedRunResult(t *testing.T) {
	a := newTestArbiter()
	_, subEvents := a.hub.subscribe()

	tag := "unknown-tag"
	a.fold(b3270.RunResult{RTag: &tag, Success: false})

	select {
	case ev := <-subEvents:
		t.Fatalf("subscriber unexpectedly observed an event: %+v", ev)
	default:
	}
}

// TestFoldBroadcastsOrdinaryIndications confirms Connection-class
// indications reach subscribers via the hub rather than respMap.
func TestFoldBroadcastsOrdinaryIndications(t *testing.T) {
	a := newTestArbiter()
	_, subEvents := a.hub.subscribe()

	a.fold(b3270.Connection{State: b3270.StateConnected3270})

	select {
	case ev := <-subEvents:
		if ev.Ind == nil {
			t.Fatalf("expected a live indication, got %+v", ev)
		}
	default:
		t.Fatalf("subscriber never observed the broadcast indication")
	}
}
