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
	"io"
	"runtime"
	"sync"
)

// lineWriter is internal/predictive.Asynk adapted from a raw-byte
// passthrough buffer to whole-JSON-line writes: a write to the child's
// stdin returns immediately (within buffer capacity) even if the child is
// slow to read, so the Arbiter's event loop never blocks on it.
type lineWriter struct {
	upstream    io.Writer
	cond        *sync.Cond
	buffer      []byte
	bufferIndex int

	writeNotify chan struct{}
	upstreamErr error
}

func newLineWriter(upstream io.Writer, capacity int) *lineWriter {
	w := &lineWriter{
		upstream:    upstream,
		cond:        sync.NewCond(&sync.Mutex{}),
		buffer:      make([]byte, capacity),
		writeNotify: make(chan struct{}, 1),
	}
	go w.pump()
	return w
}

func (w *lineWriter) pump() {
	lastSent := 0
	for range w.writeNotify {
		w.cond.L.Lock()
		next := w.bufferIndex
		w.cond.L.Unlock()

		_, w.upstreamErr = w.upstream.Write(w.buffer[lastSent:next])
		lastSent = next
		if w.upstreamErr != nil {
			return
		}

		w.cond.L.Lock()
		if w.bufferIndex == next {
			w.bufferIndex = 0
			lastSent = 0
		}
		w.cond.Signal()
		w.cond.L.Unlock()
	}
}

func (w *lineWriter) Close() error {
	if w.upstreamErr == nil {
		w.upstreamErr = io.EOF
	}
	close(w.writeNotify)
	w.cond.Broadcast()
	if closer, ok := w.upstream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WriteLine queues one already-newline-terminated JSON line for delivery to
// the child, blocking only if the internal buffer is exhausted.
func (w *lineWriter) WriteLine(line []byte) error {
	_, err := w.write(line)
	return err
}

func (w *lineWriter) write(p []byte) (int, error) {
	if w.upstreamErr != nil {
		return 0, w.upstreamErr
	}
	w.cond.L.Lock()
	n := copy(w.buffer[w.bufferIndex:], p)
	w.bufferIndex += n
	w.cond.L.Unlock()

	select {
	case w.writeNotify <- struct{}{}:
		if len(p) > n {
			runtime.Gosched()
			return w.write(p[n:])
		}
		return n, nil
	default:
		if len(p) > n {
			w.cond.L.Lock()
			w.cond.Wait()
			w.cond.L.Unlock()
			return w.write(p[n:])
		}
		return n, nil
	}
}
