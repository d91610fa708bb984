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
	"time"

	"d3270d/internal/b3270"
)

// ringDelay is internal/predictive.RingDelayer adapted from delaying raw
// byte writes to a downstream io.ReadWriteCloser, to delaying delivery of
// broadcast Indications to a downstream func. Used behind -fake-delay to
// exercise Client Session's lag-recovery path without a genuinely slow
// network (spec.md §9 supplemental, not a spec.md requirement).
type ringDelay struct {
	downstream func(b3270.Indication)
	delay      time.Duration

	ring     []b3270.Indication
	occupied []bool
	sendTime []time.Time
	head     int
	tail     int

	cond       *sync.Cond
	notifyChan chan struct{}
	terminated bool
}

func newRingDelay(downstream func(b3270.Indication), delay time.Duration, size int) *ringDelay {
	rd := &ringDelay{
		downstream: downstream,
		delay:      delay,
		ring:       make([]b3270.Indication, size),
		occupied:   make([]bool, size),
		sendTime:   make([]time.Time, size),
		cond:       sync.NewCond(&sync.Mutex{}),
		notifyChan: make(chan struct{}, size),
	}
	go rd.pump()
	return rd
}

func (rd *ringDelay) pump() {
	for range rd.notifyChan {
		rd.cond.L.Lock()
		now := time.Now()
		wait := rd.sendTime[rd.head].Sub(now)
		ind := rd.ring[rd.head]

		if wait > 0 {
			rd.cond.L.Unlock()
			time.Sleep(wait)
			rd.cond.L.Lock()
		}

		rd.occupied[rd.head] = false
		rd.head = (rd.head + 1) % len(rd.ring)
		rd.cond.Signal()
		rd.cond.L.Unlock()

		rd.downstream(ind)
	}
}

// broadcast queues ind for delivery after the configured delay, blocking
// only if the ring is fully backed up.
func (rd *ringDelay) broadcast(ind b3270.Indication) {
	sendTime := time.Now().Add(rd.delay)

	rd.cond.L.Lock()
	for rd.occupied[rd.tail] {
		rd.cond.Wait()
	}
	rd.ring[rd.tail] = ind
	rd.sendTime[rd.tail] = sendTime
	rd.occupied[rd.tail] = true
	rd.tail = (rd.tail + 1) % len(rd.ring)
	rd.cond.L.Unlock()

	rd.notifyChan <- struct{}{}
}

func (rd *ringDelay) close() {
	if rd.terminated {
		return
	}
	rd.terminated = true
	close(rd.notifyChan)
}
