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
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"d3270d/internal/dlog"
)

// pongWait bounds how long a WS client has to answer a ping before it is
// considered gone (grounded on the gorilla/websocket chat example's pump
// timings, the idiomatic shape for this library).
const pongWait = 60 * time.Second
const pingPeriod = pongWait * 9 / 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WS registers an upgrade handler for path on mux, handing each accepted
// connection to newSession wrapped as an io.ReadWriteCloser so
// internal/session stays transport-agnostic (spec.md §6.3 supplemental).
func WS(mux *http.ServeMux, path string, newSession func(io.ReadWriteCloser)) {
	log := dlog.New("ws")
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		log.Info("accepted %s", r.RemoteAddr)
		go newSession(newWSConn(conn))
	})
}

// wsConn adapts a *websocket.Conn's message-oriented ReadMessage/
// WriteMessage pair to io.ReadWriteCloser's byte-stream Read/Write, so the
// line-delimited JSON client protocol can be read with an ordinary
// bufio.Scanner regardless of transport. Write strips the caller's
// trailing newline so each outbound text frame carries exactly one JSON
// object; incoming text frames arrive newline-free, so Read appends a
// newline after each one and a frame reads as one line.
type wsConn struct {
	conn *websocket.Conn

	readBuf bytes.Buffer
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{conn: conn}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()
	return c
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
			return
		}
	}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for c.readBuf.Len() == 0 {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.readBuf.Write(data)
		c.readBuf.WriteByte('\n')
	}
	return c.readBuf.Read(p)
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(p, "\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
