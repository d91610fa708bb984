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
	"sync"

	"d3270d/internal/b3270"
)

// subscriberCapacity bounds each subscriber's queue; a connect can produce a
// flurry of indications, so this needs headroom (spec.md §4.2 / arbiter.rs's
// broadcast::channel(100)).
const subscriberCapacity = 128

// Event is one value delivered to a hub subscriber: either a live
// Indication, or a Lagged notice reporting that Count indications were
// dropped because the subscriber fell behind (spec.md §7 "subscriber lag").
type Event struct {
	Ind   b3270.Indication
	Count int // > 0 iff this Event is a Lagged notice, Ind is nil
}

type subscriber struct {
	id  uint64
	ch  chan Event
	lag int
}

// hub is the bounded fan-out broadcaster, grounded on
// other_examples/vincent99-velocipi's client-map + non-blocking-send
// pattern, adapted from []byte WS frames to b3270.Indication values.
type hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscriber)}
}

// subscribe registers a new subscriber and returns its id plus a read-only
// channel of Events. Call unsubscribe(id) when the consumer is done.
func (h *hub) subscribe() (uint64, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	sub := &subscriber{id: id, ch: make(chan Event, subscriberCapacity)}
	h.subs[id] = sub
	return id, sub.ch
}

func (h *hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// broadcast fans ind out to every subscriber without blocking the caller. A
// subscriber whose channel is full has its queued backlog discarded and
// receives a single Lagged Event in its place, counting the discarded
// indications plus ind, so its very next receive reports the lag.
func (h *hub) broadcast(ind b3270.Indication) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- Event{Ind: ind}:
			continue
		default:
		}
		dropped := 1
		for len(sub.ch) > 0 {
			select {
			case <-sub.ch:
				dropped++
			default:
			}
		}
		sub.ch <- Event{Count: dropped}
	}
}
