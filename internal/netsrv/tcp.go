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

// Package netsrv accepts client connections on TCP and (optionally)
// WebSocket, and hands each one to a caller-supplied session constructor
// as a plain io.ReadWriteCloser. Neither transport here knows anything
// about the b3270 protocol; that belongs to internal/session and
// internal/b3270.
package netsrv

import (
	"io"
	"net"

	"d3270d/internal/dlog"
)

// TCP accepts connections on listener and, for each one, runs newSession
// in its own goroutine. TCP mirrors internal/sshproxy.RunProxy's accept
// loop: transient Accept errors are logged and ignored rather than
// aborting the listener, since one bad connection attempt should never
// take down the whole gateway.
func TCP(listener net.Listener, newSession func(io.ReadWriteCloser)) error {
	log := dlog.New("tcp")
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Warn("accept: %v", err)
				continue
			}
			return err
		}
		log.Info("accepted %s", conn.RemoteAddr())
		go newSession(conn)
	}
}
