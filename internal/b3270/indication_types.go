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

package b3270

import "encoding/json"

// ActionCause names the origin of a state change, as reported by the child.
type ActionCause string

const (
	CauseCommand      ActionCause = "command"
	CauseDefault      ActionCause = "default"
	CauseFileTransfer ActionCause = "file-transfer"
	CauseHttpd        ActionCause = "httpd"
	CauseIdle         ActionCause = "idle"
	CauseKeymap       ActionCause = "keymap"
	CauseMacro        ActionCause = "macro"
	CauseNone         ActionCause = "none"
	CausePassword     ActionCause = "password"
	CausePaste        ActionCause = "paste"
	CausePeek         ActionCause = "peek"
	CauseScreenRedraw ActionCause = "screen-redraw"
	CauseScript       ActionCause = "script"
	CauseTypeahead    ActionCause = "typeahead"
	CauseUi           ActionCause = "ui"
)

// ConnectionState is the host connection's state machine position.
type ConnectionState string

const (
	StateNotConnected          ConnectionState = "not-connected"
	StateReconnecting          ConnectionState = "reconnecting"
	StateResolving             ConnectionState = "resolving"
	StateTcpPending            ConnectionState = "tcp-pending"
	StateTlsPending            ConnectionState = "tls-pending"
	StateTelnetPending         ConnectionState = "telnet-pending"
	StateConnectedNvt          ConnectionState = "connected-nvt"
	StateConnectedNvtCharmode  ConnectionState = "connected-nvt-charmode"
	StateConnected3270         ConnectionState = "connected-3270"
	StateConnectedUnbound      ConnectionState = "connected-unbound"
	StateConnectedENvt         ConnectionState = "connected-e-nvt"
	StateConnectedSscp         ConnectionState = "connected-e-sscp"
	StateConnectedTn3270e      ConnectionState = "connected-e-tn3270e"
)

// Connection reports the host connection's current state (kebab-case
// "connection" indication).
type Connection struct {
	State ConnectionState `json:"state"`
	Host  *string         `json:"host,omitempty"`
	Cause *ActionCause    `json:"cause,omitempty"`
}

// ConnectAttempt reports that a new host connection is being attempted.
type ConnectAttempt struct {
	HostIP string `json:"host-ip"`
	Port   string `json:"port"`
}

// CodePage names one code page the child supports.
type CodePage struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// Erase carries the screen's logical dimensions and erase-fill colors;
// any field may be absent, meaning "unchanged".
type Erase struct {
	LogicalRows *uint8 `json:"logical-rows,omitempty"`
	LogicalCols *uint8 `json:"logical-cols,omitempty"`
	FG          *Color `json:"fg,omitempty"`
	BG          *Color `json:"bg,omitempty"`
}

// Hello is the first indication a child sends, identifying itself.
type Hello struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	Copyright string `json:"copyright"`
}

// Model describes one supported 3270 model geometry.
type Model struct {
	Model   uint8 `json:"model"`
	Rows    uint8 `json:"rows"`
	Columns uint8 `json:"columns"`
}

// Proxy names one supported proxy type.
type Proxy struct {
	Name     string  `json:"name"`
	Username bool    `json:"username"`
	Port     *uint16 `json:"port,omitempty"`
}

// Setting is a single name/value configuration entry. Value is left as
// json.RawMessage since settings are heterogeneous and the Tracker only
// needs last-seen-value semantics, never interpretation.
type Setting struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
	Cause *ActionCause    `json:"cause,omitempty"`
}

// ScreenMode reports the screen's model, dimensions, and display mode.
type ScreenMode struct {
	Model     uint8 `json:"model"`
	Rows      uint8 `json:"rows"`
	Columns   uint8 `json:"columns"`
	Color     bool  `json:"color"`
	Oversize  bool  `json:"oversize"`
	Extended  bool  `json:"extended"`
}

// TlsHello reports build-time TLS support.
type TlsHello struct {
	Supported bool     `json:"supported"`
	Provider  string   `json:"provider"`
	Options   []string `json:"options,omitempty"`
}

// Tls reports the live TLS session state.
type Tls struct {
	Secure   bool    `json:"secure"`
	Verified *bool   `json:"verified,omitempty"`
	Session  *string `json:"session,omitempty"`
	HostCert *string `json:"host-cert,omitempty"`
}

// Cursor is the screen cursor's visibility and position (1-based on the
// wire, as with row/column elsewhere in this package).
type Cursor struct {
	Enabled bool   `json:"enabled"`
	Row     *uint8 `json:"row,omitempty"`
	Column  *uint8 `json:"column,omitempty"`
}

// FileTransferState is the externally-tagged state of an in-flight file
// transfer (tag field "state").
type FileTransferState struct {
	State   string  `json:"state"` // "awaiting" | "running" | "aborting" | "complete"
	Bytes   *uint64 `json:"bytes,omitempty"`
	Text    *string `json:"text,omitempty"`
	Success *bool   `json:"success,omitempty"`
}

// FileTransfer reports a file transfer state change.
type FileTransfer struct {
	FileTransferState
	Cause ActionCause `json:"cause"`
}

// Passthru is a pass-through action invocation the child expects a client
// to answer with a fail/succeed operation. The Tracker does not route it
// (see Open Question 1 in SPEC_FULL.md); it is broadcast verbatim.
type Passthru struct {
	PTag       string   `json:"p-tag"`
	ParentRTag *string  `json:"parent-r-tag,omitempty"`
	Action     string   `json:"action"`
	Args       []string `json:"args,omitempty"`
}

// PopupType classifies a Popup indication's origin.
type PopupType string

const (
	PopupConnectError PopupType = "connect-error"
	PopupError        PopupType = "error"
	PopupInfo         PopupType = "info"
	PopupResult       PopupType = "result"
	PopupPrinter      PopupType = "printer"
	PopupChild        PopupType = "child"
)

// Popup is an asynchronous user-facing message.
type Popup struct {
	Type  PopupType `json:"type"`
	Text  string    `json:"text"`
	Error *bool     `json:"error,omitempty"`
}

// CountOrText is the flattened change payload: exactly one of Count (leave
// characters unchanged, restyle n cells) or Text (restyle and overwrite).
type CountOrText struct {
	Count *uint64 `json:"count,omitempty"`
	Text  *string `json:"text,omitempty"`
}

// Len is the number of cells this change covers.
func (c CountOrText) Len() int {
	if c.Text != nil {
		return len([]rune(*c.Text))
	}
	if c.Count != nil {
		return int(*c.Count)
	}
	return 0
}

// Change is one contiguous run of cells within a Row, restyled and/or
// overwritten starting at Column (1-based).
type Change struct {
	Column uint8 `json:"column"`
	CountOrText
	FG *Color            `json:"fg,omitempty"`
	BG *Color            `json:"bg,omitempty"`
	GR *GraphicRendition `json:"gr,omitempty"`
}

// Row is one screen row's list of changes (1-based row number).
type Row struct {
	Row     uint8    `json:"row"`
	Changes []Change `json:"changes"`
}

// ScreenInd is the "screen" indication: zero or more row changes plus an
// optional cursor update. (Named ScreenInd, not Screen, to avoid colliding
// with the Tracker's own Screen state type.)
type ScreenInd struct {
	Cursor *Cursor `json:"cursor,omitempty"`
	Rows   []Row   `json:"rows,omitempty"`
}

// RunResult is the child's reply to a Run operation, correlated by RTag.
type RunResult struct {
	RTag    *string  `json:"r-tag,omitempty"`
	Success bool     `json:"success"`
	Text    []string `json:"text,omitempty"`
	Abort   *bool    `json:"abort,omitempty"`
	Time    float32  `json:"time"`
}

// Scroll indicates the screen scrolled up by one row; FG/BG, when present,
// override the fill color of the newly-exposed blank row.
type Scroll struct {
	FG *Color `json:"fg,omitempty"`
	BG *Color `json:"bg,omitempty"`
}

// Stats carries I/O byte/record counters.
type Stats struct {
	BytesReceived   uint64 `json:"bytes-received"`
	BytesSent       uint64 `json:"bytes-sent"`
	RecordsReceived uint64 `json:"records-received"`
	RecordsSent     uint64 `json:"records-sent"`
}

// TerminalName reports the name sent to the host during TELNET negotiation.
type TerminalName struct {
	Text     string `json:"text"`
	Override bool   `json:"override"`
}

// Thumb is the scrollbar thumb position.
type Thumb struct {
	Top    float32 `json:"top"`
	Shown  float32 `json:"shown"`
	Saved  uint64  `json:"saved"`
	Screen uint64  `json:"screen"`
	Back   uint64  `json:"back"`
}

// TraceFile names the active trace file, if any.
type TraceFile struct {
	Name *string `json:"name,omitempty"`
}

// UiError reports a problem the child detected in its own input.
type UiError struct {
	Fatal     bool    `json:"fatal"`
	Text      string  `json:"text"`
	Operation *string `json:"operation,omitempty"`
	Member    *string `json:"member,omitempty"`
	Line      *uint64 `json:"line,omitempty"`
	Column    *uint64 `json:"column,omitempty"`
}
