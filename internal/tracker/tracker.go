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

// Package tracker maintains the authoritative in-memory replica of the
// b3270 child's state: a screen buffer, an OIA map, a settings map, and
// the assorted session-level fields, folded from indications one at a
// time. It also synthesizes resync snapshots that reconstruct the replica
// in a fresh Tracker when replayed.
package tracker

import (
	"log"
	"sort"

	"d3270d/internal/b3270"
)

// DispositionKind classifies how the Arbiter should route an indication
// after the Tracker has folded it into state.
type DispositionKind int

const (
	Broadcast DispositionKind = iota
	Drop
	Direct
)

// Disposition is the Tracker's verdict for one handled indication.
type Disposition struct {
	Kind DispositionKind
	Tag  string // valid iff Kind == Direct
}

// Tracker is the authoritative state replica. It is owned exclusively by
// the Arbiter; nothing else may mutate or directly read it (spec.md §5).
type Tracker struct {
	screen     screenGrid
	oia        map[b3270.OiaFieldName]b3270.Oia
	screenMode b3270.ScreenMode
	erase      b3270.Erase
	thumb      b3270.Thumb
	settings   map[string]b3270.Setting

	cursor       b3270.Cursor
	connection   b3270.Connection
	formatted    bool
	traceFile    *string
	tls          *b3270.Tls
	fileTransfer *b3270.FileTransfer

	staticInit []b3270.InitItem
}

// screenGrid is the dense rows*cols CharCell buffer.
type screenGrid struct {
	rows, cols int
	cells      []b3270.CharCell
}

func newScreenGrid(rows, cols int, fill b3270.CharCell) screenGrid {
	cells := make([]b3270.CharCell, rows*cols)
	for i := range cells {
		cells[i] = fill
	}
	return screenGrid{rows: rows, cols: cols, cells: cells}
}

func (g *screenGrid) row(idx int) []b3270.CharCell {
	return g.cells[idx*g.cols : (idx+1)*g.cols]
}

// New returns a Tracker in its default state: a blank 80x43 screen,
// NotConnected (spec.md §3.7).
func New() *Tracker {
	t := &Tracker{
		oia: make(map[b3270.OiaFieldName]b3270.Oia),
		screenMode: b3270.ScreenMode{
			Model:    4,
			Rows:     43,
			Columns:  80,
			Color:    true,
			Extended: true,
		},
		settings: make(map[string]b3270.Setting),
		connection: b3270.Connection{
			State: b3270.StateNotConnected,
		},
	}
	t.applyErase(b3270.Erase{})
	return t
}

// Handle folds one indication into the replica and reports how the
// Arbiter should route it (spec.md §4.1.1).
func (t *Tracker) Handle(ind b3270.Indication) Disposition {
	switch v := ind.(type) {
	case b3270.Bell, b3270.ConnectAttempt, b3270.Flipped, b3270.Font,
		b3270.Icon, b3270.Popup, b3270.Stats, b3270.WindowTitle,
		b3270.RawIndication:
		// no state change

	case b3270.Connection:
		t.connection = v

	case b3270.Erase:
		t.applyErase(v)

	case b3270.Formatted:
		t.formatted = v.State

	case b3270.Initialize:
		t.applyInitialize(v)

	case b3270.Oia:
		t.applyOia(v)

	case b3270.ScreenInd:
		t.applyScreen(v)

	case b3270.ScreenMode:
		t.screenMode = v
		t.Handle(b3270.Erase{
			LogicalRows: &v.Rows,
			LogicalCols: &v.Columns,
		})

	case b3270.Scroll:
		t.applyScroll(v)

	case b3270.Setting:
		t.settings[v.Name] = v

	case b3270.Thumb:
		t.thumb = v

	case b3270.TraceFile:
		t.traceFile = v.Name

	case b3270.Tls:
		tls := v
		t.tls = &tls

	case b3270.UiError, b3270.Passthru:
		// no state change; Passthru routing is left as broadcast-and-ignore
		// (SPEC_FULL.md Open Question 1).

	case b3270.FileTransfer:
		ft := v
		t.fileTransfer = &ft

	case b3270.RunResult:
		if v.RTag != nil {
			return Disposition{Kind: Direct, Tag: *v.RTag}
		}
		return Disposition{Kind: Drop}

	default:
		// Unknown-to-the-Tracker shape: broadcast verbatim, no state change
		// (spec.md §7 "unknown indication or field").
	}
	return Disposition{Kind: Broadcast}
}

func (t *Tracker) applyErase(e b3270.Erase) {
	if e.LogicalRows != nil {
		t.erase.LogicalRows = e.LogicalRows
	}
	if e.LogicalCols != nil {
		t.erase.LogicalCols = e.LogicalCols
	}
	if e.FG != nil {
		t.erase.FG = e.FG
	}
	if e.BG != nil {
		t.erase.BG = e.BG
	}

	rows := int(t.screenMode.Rows)
	if t.erase.LogicalRows != nil {
		rows = int(*t.erase.LogicalRows)
	}
	cols := int(t.screenMode.Columns)
	if t.erase.LogicalCols != nil {
		cols = int(*t.erase.LogicalCols)
	}

	// Note: the fill color uses this specific Erase's fg/bg, not the
	// merged t.erase — matching the ground-truth behavior (the merged
	// defaults only govern the screen dimensions).
	fg := b3270.NeutralBlack
	if e.FG != nil {
		fg = *e.FG
	}
	bg := b3270.Blue
	if e.BG != nil {
		bg = *e.BG
	}

	fill := b3270.CharCell{
		Char: ' ',
		Attr: b3270.PackAttr(fg, bg, 0),
	}
	t.screen = newScreenGrid(rows, cols, fill)
}

func (t *Tracker) applyInitialize(init b3270.Initialize) {
	static := make([]b3270.InitItem, 0, len(init.Items))
	for _, item := range init.Items {
		switch v := item.(type) {
		case b3270.InitCodePages, b3270.InitHello, b3270.InitModels,
			b3270.InitPrefixes, b3270.InitProxies, b3270.InitTerminalName,
			b3270.InitTlsHello, b3270.InitTls, b3270.InitTraceFile:
			static = append(static, item)
		case b3270.InitThumb:
			t.Handle(v.Thumb)
		case b3270.InitSetting:
			t.Handle(v.Setting)
		case b3270.InitScreenMode:
			t.Handle(v.ScreenMode)
		case b3270.InitOia:
			t.Handle(v.Oia)
		case b3270.InitErase:
			t.Handle(v.Erase)
		case b3270.InitConnection:
			t.Handle(v.Connection)
		case b3270.InitFileTransfer:
			t.Handle(v.FileTransfer)
		}
	}
	t.staticInit = append(t.staticInit, static...)
}

func (t *Tracker) applyOia(oia b3270.Oia) {
	// Compose accepts only {true, type, char} or {false, _, _}; any other
	// shape is logged and dropped rather than corrupting the OIA map
	// (SPEC_FULL.md Open Question 3).
	if c, ok := oia.Field.(b3270.OiaComposeField); ok {
		if c.Value && (c.Char == nil || c.Type == nil) {
			log.Printf("[tracker] ignoring compose OIA field with value=true but no char or type")
			return
		}
	}
	t.oia[oia.Field.FieldName()] = oia
}

func (t *Tracker) applyScreen(s b3270.ScreenInd) {
	if s.Cursor != nil {
		t.cursor = *s.Cursor
	}
	for _, row := range s.Rows {
		rowIdx := int(row.Row) - 1
		if rowIdx < 0 || rowIdx >= t.screen.rows {
			continue
		}
		cells := t.screen.row(rowIdx)
		for _, change := range row.Changes {
			colIdx := int(change.Column) - 1
			n := change.Len()
			if change.Text != nil {
				runes := []rune(*change.Text)
				for i := 0; i < n && colIdx+i < len(cells); i++ {
					cell := &cells[colIdx+i]
					cell.Attr = applyChangeAttr(cell.Attr, change)
					cell.Char = runes[i]
				}
			} else {
				for i := 0; i < n && colIdx+i < len(cells); i++ {
					cell := &cells[colIdx+i]
					cell.Attr = applyChangeAttr(cell.Attr, change)
				}
			}
		}
	}
}

func applyChangeAttr(attr b3270.PackedAttr, change b3270.Change) b3270.PackedAttr {
	if change.FG != nil {
		attr = attr.SetFG(*change.FG)
	}
	if change.BG != nil {
		attr = attr.SetBG(*change.BG)
	}
	if change.GR != nil {
		attr = attr.SetGR(*change.GR)
	}
	return attr
}

// Snapshot synthesizes the ordered resync indication sequence that, fed
// into a fresh Tracker in declaration order, reconstructs an equivalent
// replica (spec.md §4.1.3).
func (t *Tracker) Snapshot() []b3270.Indication {
	items := make([]b3270.InitItem, 0, len(t.staticInit)+8+len(t.oia)+len(t.settings))
	items = append(items, t.staticInit...)
	items = append(items, b3270.InitScreenMode{ScreenMode: t.screenMode})
	items = append(items, b3270.InitErase{Erase: t.erase})
	items = append(items, b3270.InitThumb{Thumb: t.thumb})
	for _, name := range sortedOiaNames(t.oia) {
		items = append(items, b3270.InitOia{Oia: t.oia[name]})
	}
	for _, name := range sortedSettingNames(t.settings) {
		items = append(items, b3270.InitSetting{Setting: t.settings[name]})
	}
	if t.tls != nil {
		items = append(items, b3270.InitTls{Tls: *t.tls})
	}
	if t.fileTransfer != nil {
		items = append(items, b3270.InitFileTransfer{FileTransfer: *t.fileTransfer})
	}

	out := make([]b3270.Indication, 0, 4)
	out = append(out, b3270.Initialize{Items: items})
	out = append(out, t.connection)

	screen := b3270.ScreenInd{Rows: t.screenRows()}
	if t.cursor.Enabled {
		cursor := t.cursor
		screen.Cursor = &cursor
	}
	out = append(out, screen)

	out = append(out, b3270.Formatted{State: t.formatted})
	if t.traceFile != nil {
		out = append(out, b3270.TraceFile{Name: t.traceFile})
	}
	return out
}

// screenRows re-serializes the CharCell grid into Row/Change form,
// run-length-encoding consecutive cells of equal attribute within a row
// into a single Text change (spec.md §4.1.3, grounded on the original's
// format_row).
func (t *Tracker) screenRows() []b3270.Row {
	rows := make([]b3270.Row, 0, t.screen.rows)
	for r := 0; r < t.screen.rows; r++ {
		rows = append(rows, b3270.Row{Row: uint8(r + 1), Changes: formatRow(t.screen.row(r))})
	}
	return rows
}

func formatRow(cells []b3270.CharCell) []b3270.Change {
	changes := make([]b3270.Change, 0)
	i := 0
	for i < len(cells) {
		start := i
		attr := cells[i].Attr
		var text []rune
		for i < len(cells) && cells[i].Attr == attr {
			text = append(text, cells[i].Char)
			i++
		}
		fg, bg, gr := attr.Unpack()
		s := string(text)
		changes = append(changes, b3270.Change{
			Column:      uint8(start + 1),
			CountOrText: b3270.CountOrText{Text: &s},
			FG:          &fg,
			BG:          &bg,
			GR:          &gr,
		})
	}
	return changes
}

func sortedOiaNames(m map[b3270.OiaFieldName]b3270.Oia) []b3270.OiaFieldName {
	names := make([]b3270.OiaFieldName, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func sortedSettingNames(m map[string]b3270.Setting) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Tracker) applyScroll(s b3270.Scroll) {
	fg := b3270.Blue
	if s.FG != nil {
		fg = *s.FG
	} else if t.erase.FG != nil {
		fg = *t.erase.FG
	}
	bg := b3270.NeutralBlack
	if s.BG != nil {
		bg = *s.BG
	} else if t.erase.BG != nil {
		bg = *t.erase.BG
	}

	if t.screen.rows == 0 {
		return
	}
	blank := b3270.CharCell{Char: ' ', Attr: b3270.PackAttr(fg, bg, 0)}
	copy(t.screen.cells, t.screen.cells[t.screen.cols:])
	last := t.screen.row(t.screen.rows - 1)
	for i := range last {
		last[i] = blank
	}
}
