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

// Package arbiter owns the b3270 child process: it folds the child's
// indications into a Tracker, broadcasts them to subscribers, and routes
// RunResults back to whichever caller's Run they answer. It is the sole
// writer of the Tracker and the sole writer of the child's stdin (spec.md
// §4.2, §5).
package arbiter

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os/exec"
	"time"

	"d3270d/internal/b3270"
	"d3270d/internal/dlog"
	"d3270d/internal/tracker"
)

// Request is one of ActionRequest or ResyncRequest, sent to the Arbiter's
// single comm channel (spec.md §5: multi-producer, single-consumer).
type Request interface{ isRequest() }

// ActionRequest asks the Arbiter to forward Actions to the child as a Run
// operation and deliver the eventual RunResult on Resp.
type ActionRequest struct {
	Actions []b3270.Action
	Resp    chan b3270.RunResult
}

func (ActionRequest) isRequest() {}

// ResyncRequest asks the Arbiter for a fresh snapshot plus a live
// subscription to future broadcasts, answered atomically so nothing is
// missed between the snapshot and the subscription taking effect.
type ResyncRequest struct {
	Resp chan ResyncReply
}

func (ResyncRequest) isRequest() {}

// ResyncReply answers a ResyncRequest: Snapshot must be replayed into a
// fresh Tracker (or discarded by a Session that already has state) before
// Events is consumed, to reconstruct the Arbiter's view exactly (spec.md
// §4.1.3).
type ResyncReply struct {
	Snapshot []b3270.Indication
	SubID    uint64
	Events   <-chan Event
}

// Options configures an Arbiter beyond the required child command.
type Options struct {
	// InitialConnect, when non-empty, is queued as a Run{Connect(addr)}
	// action before the event loop starts (spec.md §4.2 supplemental,
	// grounded on original_source/d3270d/src/main.rs's eager initial
	// action).
	InitialConnect string

	// FakeDelay, when non-zero, routes every broadcast Indication through
	// a ringDelay before fan-out (supplemental, -fake-delay).
	FakeDelay time.Duration

	// SlowRoundTrip, when non-zero, enables latency logging for Run/
	// RunResult round trips exceeding this duration (supplemental,
	// -latency-log).
	SlowRoundTrip time.Duration
}

// Arbiter owns the child process's stdin/stdout and the authoritative
// Tracker replica. Unexported fields are touched only from Run's goroutine,
// except comm (safe for concurrent send) and hub (internally synchronized).
type Arbiter struct {
	cmd    *exec.Cmd
	stdin  *lineWriter
	tracker *tracker.Tracker
	hub    *hub
	comm   chan Request
	log    *dlog.Logger

	respMap map[string]chan b3270.RunResult
	latency *latencyTracker
	delay   *ringDelay

	lines chan lineResult
	done  chan error
}

// Spawn starts cmd (which must not yet be started) with piped stdin/stdout
// and returns an Arbiter ready for Run. The caller owns cmd.Stderr.
func Spawn(cmd *exec.Cmd, opts Options) (*Arbiter, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("arbiter: child stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("arbiter: child stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("arbiter: start child: %w", err)
	}

	a := &Arbiter{
		cmd:     cmd,
		stdin:   newLineWriter(stdin, 64*1024),
		tracker: tracker.New(),
		hub:     newHub(),
		comm:    make(chan Request, 16),
		log:     dlog.New("arb"),
		respMap: make(map[string]chan b3270.RunResult),
	}
	if opts.SlowRoundTrip > 0 {
		a.latency = newLatencyTracker(opts.SlowRoundTrip, func(tag string, elapsed time.Duration) {
			a.log.Warn("slow round trip for %s: %s", tag, elapsed)
		})
	}
	if opts.FakeDelay > 0 {
		a.delay = newRingDelay(a.hub.broadcast, opts.FakeDelay, subscriberCapacity)
	}

	if opts.InitialConnect != "" {
		a.sendAction([]b3270.Action{{Action: "Connect", Args: []string{opts.InitialConnect}}}, nil)
	}

	reader := bufio.NewScanner(stdout)
	reader.Buffer(make([]byte, 64*1024), 1024*1024)

	lines := make(chan lineResult, 16)
	go func() {
		for reader.Scan() {
			lines <- lineResult{text: reader.Text()}
		}
		lines <- lineResult{err: firstNonNil(reader.Err(), io.EOF)}
		close(lines)
	}()
	a.lines = lines

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
		close(done)
	}()
	a.done = done

	return a, nil
}

type lineResult struct {
	text string
	err  error
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Request enqueues req for the Arbiter's event loop. Safe for concurrent
// use by multiple sessions.
func (a *Arbiter) Request(req Request) {
	a.comm <- req
}

// broadcast fans ind out, optionally through the fake-delay ring.
func (a *Arbiter) broadcastIndication(ind b3270.Indication) {
	if a.delay != nil {
		a.delay.broadcast(ind)
		return
	}
	a.hub.broadcast(ind)
}

func (a *Arbiter) sendAction(actions []b3270.Action, resp chan b3270.RunResult) {
	tag, err := a.allocateTag()
	if err != nil {
		a.log.Error("tag allocation failed: %v", err)
		return
	}
	run := b3270.Run{RTag: &tag, Type: strPtr("keymap"), Actions: actions}
	payload, err := b3270.MarshalOperation(run)
	if err != nil {
		a.log.Error("failed to serialize run operation: %v", err)
		return
	}
	payload = append(payload, '\n')
	if err := a.stdin.WriteLine(payload); err != nil {
		a.log.Error("failed to write to child: %v", err)
		return
	}
	if resp != nil {
		a.respMap[tag] = resp
	}
	if a.latency != nil {
		a.latency.recordSend(tag)
	}
}

// allocateTag draws 64 random bits, base64-encodes them, and redraws on
// collision against the in-flight response map (spec.md §4.2.1, §7 "tag
// collision").
func (a *Arbiter) allocateTag() (string, error) {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		tag := base64.StdEncoding.EncodeToString(buf[:])
		if _, taken := a.respMap[tag]; !taken {
			return tag, nil
		}
	}
}

func strPtr(s string) *string { return &s }

// Run drives the event loop until the child exits or ctx is canceled. The
// per-turn ordering is deliberate (spec.md §4.2, grounded line-for-line on
// original_source/d3270d/src/arbiter.rs's poll implementation): fold and
// broadcast every currently-available line from the child first, so new
// subscribers always observe a consistent post-fold state; then check
// whether the child has exited; then drain pending requests, caching one
// resync snapshot per turn so simultaneous resync requests see the same
// state; writes to the child go through the non-blocking lineWriter and
// need no separate drain step.
func (a *Arbiter) Run(ctx context.Context) error {
	for {
		for drained := a.drainLines(); ; drained = a.drainLines() {
			if !drained {
				break
			}
		}

		select {
		case err := <-a.done:
			if err == nil {
				return fmt.Errorf("arbiter: b3270 process exited")
			}
			return fmt.Errorf("arbiter: b3270 process exited: %w", err)
		default:
		}

		if a.drainRequests() {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case lr, ok := <-a.lines:
			if !ok {
				return fmt.Errorf("arbiter: lost child stdout")
			}
			a.handleLine(lr)
		case err := <-a.done:
			if err == nil {
				return fmt.Errorf("arbiter: b3270 process exited")
			}
			return fmt.Errorf("arbiter: b3270 process exited: %w", err)
		case req := <-a.comm:
			a.handleRequest(req, nil)
		}
	}
}

// drainLines processes every line currently buffered without blocking,
// returning true iff at least one line was processed.
func (a *Arbiter) drainLines() bool {
	any := false
	for {
		select {
		case lr, ok := <-a.lines:
			if !ok {
				return any
			}
			a.handleLine(lr)
			any = true
		default:
			return any
		}
	}
}

func (a *Arbiter) handleLine(lr lineResult) {
	if lr.err != nil {
		a.log.Warn("child stdout closed: %v", lr.err)
		return
	}
	ind, err := b3270.UnmarshalIndication([]byte(lr.text))
	if err != nil {
		a.log.Warn("malformed indication %q: %v", lr.text, err)
		return
	}
	a.fold(ind)
}

func (a *Arbiter) fold(ind b3270.Indication) {
	disp := a.tracker.Handle(ind)
	switch disp.Kind {
	case tracker.Broadcast:
		a.broadcastIndication(ind)
	case tracker.Drop:
		// no subscriber to deliver to
	case tracker.Direct:
		if rr, ok := ind.(b3270.RunResult); ok {
			if resp, ok := a.respMap[disp.Tag]; ok {
				delete(a.respMap, disp.Tag)
				if a.latency != nil {
					a.latency.recordReceive(disp.Tag)
				}
				resp <- rr
			}
		}
	}
}

// drainRequests processes every request currently queued without blocking,
// caching a single resync snapshot for the whole turn. Returns true iff at
// least one request was processed.
func (a *Arbiter) drainRequests() bool {
	var cached []b3270.Indication
	var haveCached bool
	any := false
	for {
		select {
		case req := <-a.comm:
			a.handleRequest(req, &cachedSnapshot{snapshot: &cached, have: &haveCached})
			any = true
		default:
			return any
		}
	}
}

type cachedSnapshot struct {
	snapshot *[]b3270.Indication
	have     *bool
}

func (a *Arbiter) handleRequest(req Request, cache *cachedSnapshot) {
	switch r := req.(type) {
	case ActionRequest:
		a.sendAction(r.Actions, r.Resp)
	case ResyncRequest:
		var snapshot []b3270.Indication
		if cache != nil {
			if !*cache.have {
				*cache.snapshot = a.tracker.Snapshot()
				*cache.have = true
			}
			snapshot = *cache.snapshot
		} else {
			snapshot = a.tracker.Snapshot()
		}
		id, events := a.hub.subscribe()
		r.Resp <- ResyncReply{Snapshot: snapshot, SubID: id, Events: events}
	}
}

// Unsubscribe removes a subscription registered via ResyncRequest.
func (a *Arbiter) Unsubscribe(id uint64) {
	a.hub.unsubscribe(id)
}
