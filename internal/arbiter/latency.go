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
	"time"
)

// latencyTracker adapts internal/predictive.Epochal's send-timestamp-plus-
// callback shape to measure Run/RunResult round trips instead of predictive
// keystroke/repaint round trips. Every sent Run is timestamped under its
// r-tag; the matching RunResult reports elapsed time by that same tag,
// which is a more direct correlation key than Epochal's atomic counter
// since every Run already carries a unique tag.
//
// Supplemental (-latency-log): not part of spec.md, carried because the
// teacher's Epochal primitive exists specifically for this measurement and
// the r-tag/RunResult correlation gives it an obvious home.
type latencyTracker struct {
	sent   map[string]time.Time
	onSlow func(tag string, elapsed time.Duration)
	slowAt time.Duration
}

func newLatencyTracker(slowAt time.Duration, onSlow func(tag string, elapsed time.Duration)) *latencyTracker {
	return &latencyTracker{
		sent:   make(map[string]time.Time),
		onSlow: onSlow,
		slowAt: slowAt,
	}
}

// recordSend stamps the current time against tag for later correlation via
// recordReceive.
func (l *latencyTracker) recordSend(tag string) {
	l.sent[tag] = time.Now()
}

// recordReceive reports elapsed time since recordSend(tag) and, if it
// exceeds the configured threshold, invokes onSlow.
func (l *latencyTracker) recordReceive(tag string) {
	sentAt, ok := l.sent[tag]
	if !ok {
		return
	}
	delete(l.sent, tag)
	elapsed := time.Since(sentAt)
	if l.onSlow != nil && elapsed > l.slowAt {
		l.onSlow(tag, elapsed)
	}
}
