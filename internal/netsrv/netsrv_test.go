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

package netsrv

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTCPHandsEachConnectionToNewSession(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan io.ReadWriteCloser, 1)
	go TCP(listener, func(rwc io.ReadWriteCloser) {
		accepted <- rwc
	})

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case rwc := <-accepted:
		if rwc == nil {
			t.Fatalf("expected a non-nil connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("newSession was never invoked")
	}
}

func TestWSConnRoundTripsLineFramedText(t *testing.T) {
	mux := http.NewServeMux()
	accepted := make(chan io.ReadWriteCloser, 1)
	WS(mux, "/ws", func(rwc io.ReadWriteCloser) {
		accepted <- rwc
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var serverConn io.ReadWriteCloser
	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("newSession was never invoked")
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"run":{"actions":[]}}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	reader := bufio.NewReader(serverConn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if strings.TrimSpace(line) != `{"run":{"actions":[]}}` {
		t.Fatalf("unexpected line: %q", line)
	}

	if _, err := serverConn.Write([]byte("{\"passthru\":{}}\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(data) != `{"passthru":{}}` {
		t.Fatalf("unexpected client-side frame: %q", data)
	}
}
