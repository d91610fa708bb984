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
	"io"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"d3270d/internal/arbiter"
	"d3270d/internal/dlog"
	"d3270d/internal/netsrv"
)

// fakeChildScript stands in for b3270: it answers every line that carries
// an r-tag (every Run the Arbiter writes has one) with a matching
// run-result and ignores any other line, so a real *arbiter.Arbiter can be
// driven end to end without the real child binary.
const fakeChildScript = `while IFS= read -r line; do
  tag=$(printf '%s' "$line" | sed -n 's/.*"r-tag":"\([^"]*\)".*/\1/p')
  if [ -n "$tag" ]; then
    printf '{"run-result":{"r-tag":"%s","success":true,"time":0}}\n' "$tag"
  fi
done`

// TestRunClientSessionDeliversRunResultWithClientTag exercises the core
// multiplexing contract (spec.md §4.3.2, Testable Property 5): a client's
// Run must come back as a run-result carrying that same client's own r-tag,
// not the gateway-internal tag the Arbiter used to correlate with the child.
func TestRunClientSessionDeliversRunResultWithClientTag(t *testing.T) {
	cmd := exec.Command("sh", "-c", fakeChildScript)
	arb, err := arbiter.Spawn(cmd, arbiter.Options{})
	if err != nil {
		t.Fatalf("arbiter.Spawn: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arb.Run(ctx)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	log := dlog.New("test")
	go netsrv.TCP(listener, func(conn io.ReadWriteCloser) {
		runClientSession(conn, arb, log)
	})

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte(`{"run":{"r-tag":"client-tag-1","actions":[{"action":"Enter"}]}}` + "\n")); err != nil {
		t.Fatalf("write run: %v", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read from server before observing a run-result: %v", err)
		}
		if !strings.Contains(line, `"run-result"`) {
			continue
		}
		if !strings.Contains(line, `"r-tag":"client-tag-1"`) {
			t.Fatalf("run-result carried the wrong r-tag: %s", line)
		}
		if !strings.Contains(line, `"success":true`) {
			t.Fatalf("run-result missing success=true: %s", line)
		}
		return
	}
}
