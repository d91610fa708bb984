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
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"d3270d/internal/arbiter"
	"d3270d/internal/b3270"
	"d3270d/internal/config"
	"d3270d/internal/dlog"
	"d3270d/internal/netsrv"
	"d3270d/internal/session"
)

// arrayFlags collects repeated -child-args flags, same shape as the
// nosshtradamus proxy's -o/-i flags.
type arrayFlags []string

func (a *arrayFlags) String() string     { return strings.Join(*a, " ") }
func (a *arrayFlags) Set(v string) error { *a = append(*a, v); return nil }

func main() {
	var childPath string
	var childArgs arrayFlags
	var connect string
	var listen string
	var wsListen string
	var wsPath string
	var configPath string
	var fakeDelay time.Duration
	var latencyLog time.Duration

	flag.StringVar(&childPath, "child", "", "Path to the b3270 child executable (required)")
	flag.Var(&childArgs, "child-args", "Extra argument to pass to the child (repeatable)")
	flag.StringVar(&connect, "connect", "", "Host to connect to immediately at startup")
	flag.StringVar(&listen, "listen", ":4270", "TCP address to accept client connections on")
	flag.StringVar(&wsListen, "ws-listen", "", "HTTP address for the optional WebSocket listener")
	flag.StringVar(&wsPath, "ws-path", "/ws", "HTTP path for the WebSocket upgrade endpoint")
	flag.StringVar(&configPath, "config", "", "Optional YAML file of flag defaults")
	flag.DurationVar(&fakeDelay, "fake-delay", 0, "Artificial broadcast latency, for exercising lag recovery")
	flag.DurationVar(&latencyLog, "latency-log", 0, "Log Run/RunResult round trips slower than this duration")
	flag.Parse()

	if configPath != "" {
		file, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "d3270d: reading -config %s: %v\n", configPath, err)
			os.Exit(1)
		}
		applyConfigDefaults(file, &childPath, &childArgs, &connect, &listen, &wsListen, &wsPath, &fakeDelay, &latencyLog)
	}

	if childPath == "" {
		fmt.Fprintln(os.Stderr, "d3270d: -child is required")
		flag.Usage()
		os.Exit(1)
	}

	log := dlog.New("main")

	cmd := exec.Command(childPath, childArgs...)
	cmd.Stderr = os.Stderr

	arb, err := arbiter.Spawn(cmd, arbiter.Options{
		InitialConnect: connect,
		FakeDelay:      fakeDelay,
		SlowRoundTrip:  latencyLog,
	})
	if err != nil {
		log.Error("failed to launch child %s: %v", childPath, err)
		os.Exit(1)
	}

	tcpListener, err := net.Listen("tcp", listen)
	if err != nil {
		log.Error("failed to bind TCP listener on %s: %v", listen, err)
		os.Exit(1)
	}
	log.Info("listening for clients on %s", listen)

	var wsListener net.Listener
	var wsMux *http.ServeMux
	if wsListen != "" {
		wsListener, err = net.Listen("tcp", wsListen)
		if err != nil {
			log.Error("failed to bind WebSocket listener on %s: %v", wsListen, err)
			os.Exit(1)
		}
		wsMux = http.NewServeMux()
		netsrv.WS(wsMux, wsPath, func(conn io.ReadWriteCloser) {
			runClientSession(conn, arb, log)
		})
		log.Info("listening for WebSocket clients on %s%s", wsListen, wsPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return arb.Run(gctx)
	})
	g.Go(func() error {
		return netsrv.TCP(tcpListener, func(conn io.ReadWriteCloser) {
			runClientSession(conn, arb, log)
		})
	})
	if wsListener != nil {
		g.Go(func() error {
			return http.Serve(wsListener, wsMux)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		_ = tcpListener.Close()
		if wsListener != nil {
			_ = wsListener.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("%v", err)
		os.Exit(1)
	}
	log.Info("shut down cleanly")
}

func applyConfigDefaults(file *config.File, childPath *string, childArgs *arrayFlags, connect, listen, wsListen, wsPath *string, fakeDelay, latencyLog *time.Duration) {
	if *childPath == "" {
		*childPath = file.Child
	}
	if len(*childArgs) == 0 {
		*childArgs = file.ChildArgs
	}
	if *connect == "" {
		*connect = file.Connect
	}
	if *listen == ":4270" && file.Listen != "" {
		*listen = file.Listen
	}
	if *wsListen == "" {
		*wsListen = file.WSListen
	}
	if *wsPath == "/ws" && file.WSPath != "" {
		*wsPath = file.WSPath
	}
	if *fakeDelay == 0 && file.FakeDelay != "" {
		if d, err := time.ParseDuration(file.FakeDelay); err == nil {
			*fakeDelay = d
		}
	}
	if *latencyLog == 0 && file.LatencyLog != "" {
		if d, err := time.ParseDuration(file.LatencyLog); err == nil {
			*latencyLog = d
		}
	}
}

// runClientSession drives one connection end to end: a resync to obtain a
// snapshot and a live subscription, a read goroutine forwarding client
// Operations to the Arbiter, and a goroutine relaying broadcast Indications
// — all funneled through outbound into a single writer loop, since the
// connection's RunResult deliveries (spec.md §4.3.2: the arbiter-generated
// r-tag swapped back for the client's own) and its broadcast Indications
// must never race each other onto the same io.Writer.
func runClientSession(conn io.ReadWriteCloser, arb *arbiter.Arbiter, log *dlog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer conn.Close()

	sess, err := session.New(ctx, arb)
	if err != nil {
		log.Warn("client session resync failed: %v", err)
		return
	}
	defer sess.Close()

	outbound := make(chan b3270.Indication, 16)

	go relayBroadcasts(ctx, cancel, sess, outbound)
	go readClientOperations(ctx, conn, sess, outbound, log)
	writeIndicationsToClient(ctx, conn, outbound, log)
}

// relayBroadcasts forwards the session's live/resync Indication stream onto
// outbound until Next errors (child lost, or ctx canceled), at which point
// it cancels ctx so the sibling goroutines unwind too.
func relayBroadcasts(ctx context.Context, cancel context.CancelFunc, sess *session.Session, outbound chan<- b3270.Indication) {
	defer cancel()
	for {
		ind, err := sess.Next(ctx)
		if err != nil {
			return
		}
		select {
		case outbound <- ind:
		case <-ctx.Done():
			return
		}
	}
}

func readClientOperations(ctx context.Context, r io.Reader, sess *session.Session, outbound chan<- b3270.Indication, log *dlog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		op, err := b3270.UnmarshalOperation(scanner.Bytes())
		if err != nil {
			log.Warn("malformed client operation: %v", err)
			continue
		}
		run, ok := op.(b3270.Run)
		if !ok {
			log.Warn("unsupported client operation %T, discarding", op)
			continue
		}
		go sendActionsAndReply(ctx, sess, run, outbound, log)
	}
}

// sendActionsAndReply forwards run's Actions through the Arbiter and, once
// the RunResult comes back tagged with the Arbiter's own correlation tag,
// restores the client's original r-tag before handing it to the writer loop
// (spec.md §4.3.2, Testable Property 5): the client that issued a Run must
// see its own r-tag on the matching run-result, not the gateway-internal one.
func sendActionsAndReply(ctx context.Context, sess *session.Session, run b3270.Run, outbound chan<- b3270.Indication, log *dlog.Logger) {
	rr, err := sess.SendActions(ctx, run.Actions)
	if err != nil {
		log.Warn("send actions: %v", err)
		return
	}
	rr.RTag = run.RTag
	select {
	case outbound <- rr:
	case <-ctx.Done():
	}
}

func writeIndicationsToClient(ctx context.Context, w io.Writer, outbound <-chan b3270.Indication, log *dlog.Logger) {
	for {
		select {
		case ind := <-outbound:
			payload, err := b3270.MarshalIndication(ind)
			if err != nil {
				log.Warn("failed to serialize indication: %v", err)
				continue
			}
			payload = append(payload, '\n')
			if _, err := w.Write(payload); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
