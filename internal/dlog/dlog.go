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

// Package dlog wraps the standard log.Logger with a component prefix and
// colorized severity, in the same spirit as DanDo385-eth-rpc-monitor's
// internal/format/colors.go: no structured-logging dependency, just ANSI
// color applied at the presentation layer.
package dlog

import (
	"log"
	"os"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed).Add(color.Bold)
)

// Logger prefixes every line with a bracketed component tag, e.g. "[arb]".
type Logger struct {
	*log.Logger
	tag string
}

// New returns a Logger writing to stderr with the given component tag
// (convention: "arb", "tcp", "ws", "child").
func New(tag string) *Logger {
	return &Logger{
		Logger: log.New(os.Stderr, "", log.LstdFlags),
		tag:    tag,
	}
}

func (l *Logger) prefix() string {
	return "[" + l.tag + "] "
}

// Info logs a healthy/expected condition (startup banner, accepted
// connection) in green.
func (l *Logger) Info(format string, args ...any) {
	l.Logger.Println(green.Sprintf(l.prefix()+format, args...))
}

// Warn logs a recoverable condition (subscriber lag, unsupported client
// operation, malformed protocol line) in yellow.
func (l *Logger) Warn(format string, args ...any) {
	l.Logger.Println(yellow.Sprintf(l.prefix()+format, args...))
}

// Error logs a fatal or near-fatal condition (child exit, listener bind
// failure) in bold red.
func (l *Logger) Error(format string, args ...any) {
	l.Logger.Println(red.Sprintf(l.prefix()+format, args...))
}
