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

// Package session drives one client's view of the Arbiter's broadcast
// stream: a fresh connection (or a lag recovery) replays a cached snapshot
// before resuming live delivery, so the client never observes a gap or a
// duplicate (spec.md §4.3).
package session

import (
	"context"
	"fmt"

	"d3270d/internal/arbiter"
	"d3270d/internal/b3270"
)

// state names the four phases a Session cycles through. Unlike the
// goroutine-per-state shape used elsewhere in this codebase, the Session
// is a single state variable driven by one Next call at a time: spec.md
// §4.3 is explicit that this state machine belongs to a single serial
// consumer, not concurrent phases.
type state int

const (
	stateResume state = iota
	stateSteady
	stateTryRestart
	stateWait
)

// arbiterHandle is the slice of *arbiter.Arbiter a Session needs, kept as
// an interface so tests can substitute a fake without standing up a real
// child process.
type arbiterHandle interface {
	Request(arbiter.Request)
	Unsubscribe(uint64)
}

// Session is a single client's consumption of the Arbiter's broadcast
// stream. Next is not safe for concurrent use with itself; SendActions may
// be called from a second goroutine while Next blocks, since both only
// ever touch the Arbiter through its own synchronized comm channel.
type Session struct {
	arb arbiterHandle

	state state

	// stateResume / stateWait
	resumeQueue []b3270.Indication
	resumeIdx   int

	// live delivery
	subID  uint64
	events <-chan arbiter.Event

	// stateWait
	waitResp chan arbiter.ResyncReply
}

// New resyncs against the Arbiter and returns a Session primed to replay
// the resulting snapshot before live delivery begins, matching
// ArbiterHandleRequester.connect's eager resync in the original
// implementation.
func New(ctx context.Context, arb *arbiter.Arbiter) (*Session, error) {
	s := &Session{arb: arb}
	if err := s.resync(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) resync(ctx context.Context) error {
	resp := make(chan arbiter.ResyncReply, 1)
	s.arb.Request(arbiter.ResyncRequest{Resp: resp})
	select {
	case reply := <-resp:
		s.subID = reply.SubID
		s.events = reply.Events
		s.resumeQueue = reply.Snapshot
		s.resumeIdx = 0
		s.state = stateResume
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the Session's subscription. The caller must invoke this
// once Next is done being called, so the Arbiter's hub does not leak a
// subscriber entry.
func (s *Session) Close() {
	s.arb.Unsubscribe(s.subID)
}

// Next returns the session's next Indication, transparently handling lag
// recovery. It blocks until an Indication is available, ctx is canceled,
// or the underlying subscription is permanently lost (child exited, or
// resync failed).
func (s *Session) Next(ctx context.Context) (b3270.Indication, error) {
	for {
		switch s.state {
		case stateResume:
			if s.resumeIdx < len(s.resumeQueue) {
				ind := s.resumeQueue[s.resumeIdx]
				s.resumeIdx++
				return ind, nil
			}
			s.resumeQueue = nil
			s.state = stateSteady

		case stateSteady:
			select {
			case ev, ok := <-s.events:
				if !ok {
					return nil, fmt.Errorf("session: subscription closed")
				}
				if ev.Count > 0 {
					s.state = stateTryRestart
					continue
				}
				return ev.Ind, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		case stateTryRestart:
			s.arb.Unsubscribe(s.subID)
			resp := make(chan arbiter.ResyncReply, 1)
			s.arb.Request(arbiter.ResyncRequest{Resp: resp})
			s.waitResp = resp
			s.state = stateWait

		case stateWait:
			select {
			case reply := <-s.waitResp:
				s.subID = reply.SubID
				s.events = reply.Events
				s.resumeQueue = reply.Snapshot
				s.resumeIdx = 0
				s.waitResp = nil
				s.state = stateResume
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// SendActions forwards actions to the child via the Arbiter and returns
// its eventual RunResult. Safe to call concurrently with Next from a
// second goroutine (spec.md §4.3: a client both submits actions and
// consumes indications over the same wire connection, but those are
// distinct Go-level operations here).
func (s *Session) SendActions(ctx context.Context, actions []b3270.Action) (b3270.RunResult, error) {
	resp := make(chan b3270.RunResult, 1)
	s.arb.Request(arbiter.ActionRequest{Actions: actions, Resp: resp})
	select {
	case rr := <-resp:
		return rr, nil
	case <-ctx.Done():
		return b3270.RunResult{}, ctx.Err()
	}
}
