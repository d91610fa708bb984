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

package tracker

import (
	"testing"

	"d3270d/internal/b3270"
)

func cellAt(tr *Tracker, row, col int) b3270.CharCell {
	return tr.screen.row(row)[col]
}

func TestDefaultScreenIsBlank80x43(t *testing.T) {
	tr := New()
	if tr.screen.rows != 43 || tr.screen.cols != 80 {
		t.Fatalf("default screen = %dx%d, want 43x80", tr.screen.rows, tr.screen.cols)
	}
	c := cellAt(tr, 0, 0)
	if c.Char != ' ' {
		t.Errorf("default cell char = %q, want space", c.Char)
	}
	fg, bg, gr := c.Attr.Unpack()
	if fg != b3270.NeutralBlack || bg != b3270.Blue || gr != 0 {
		t.Errorf("default cell attr = (%v,%v,%v), want (NeutralBlack,Blue,0)", fg, bg, gr)
	}
	if tr.connection.State != b3270.StateNotConnected {
		t.Errorf("default connection state = %v, want NotConnected", tr.connection.State)
	}
}

func TestScreenModeResizesScreen(t *testing.T) {
	tr := New()
	tr.Handle(b3270.ScreenMode{Model: 2, Rows: 24, Columns: 80, Color: true, Extended: true})
	if tr.screen.rows != 24 || tr.screen.cols != 80 {
		t.Fatalf("resized screen = %dx%d, want 24x80", tr.screen.rows, tr.screen.cols)
	}
	c := cellAt(tr, 0, 0)
	fg, bg, _ := c.Attr.Unpack()
	if fg != b3270.NeutralBlack || bg != b3270.Blue {
		t.Errorf("resized cell attr = (%v,%v), want (NeutralBlack,Blue)", fg, bg)
	}
}

func TestScreenChangeWritesText(t *testing.T) {
	tr := New()
	tr.Handle(b3270.ScreenMode{Model: 2, Rows: 24, Columns: 80, Color: true, Extended: true})
	text := "HELLO"
	tr.Handle(b3270.ScreenInd{
		Rows: []b3270.Row{{
			Row: 1,
			Changes: []b3270.Change{{
				Column:      1,
				CountOrText: b3270.CountOrText{Text: &text},
			}},
		}},
	})
	for i, want := range "HELLO" {
		if got := cellAt(tr, 0, i).Char; got != want {
			t.Errorf("cell[0][%d] = %q, want %q", i, got, want)
		}
	}
}

func TestScrollShiftsRowsAndBlanksLast(t *testing.T) {
	tr := New()
	tr.Handle(b3270.ScreenMode{Model: 2, Rows: 24, Columns: 80, Color: true, Extended: true})
	text := "ROW1"
	tr.Handle(b3270.ScreenInd{
		Rows: []b3270.Row{{
			Row:     2,
			Changes: []b3270.Change{{Column: 1, CountOrText: b3270.CountOrText{Text: &text}}},
		}},
	})
	tr.Handle(b3270.Scroll{})
	for i, want := range "ROW1" {
		if got := cellAt(tr, 0, i).Char; got != want {
			t.Errorf("row 0 after scroll = %q at %d, want %q", got, i, want)
		}
	}
	last := cellAt(tr, 23, 0)
	if last.Char != ' ' {
		t.Errorf("last row after scroll not blank: %q", last.Char)
	}
	fg, bg, _ := last.Attr.Unpack()
	if fg != b3270.Blue || bg != b3270.NeutralBlack {
		t.Errorf("scroll blank attr = (%v,%v), want (Blue,NeutralBlack)", fg, bg)
	}
}

func TestOiaComposeShapeValidation(t *testing.T) {
	tr := New()
	ch := "a"
	std := b3270.ComposeStd

	// valid: value=true with both char and type
	tr.Handle(b3270.Oia{Field: b3270.OiaComposeField{Value: true, Char: &ch, Type: &std}})
	if _, ok := tr.oia[b3270.OiaCompose]; !ok {
		t.Fatalf("valid compose-true field was dropped")
	}

	// invalid: value=true missing type
	tr2 := New()
	tr2.Handle(b3270.Oia{Field: b3270.OiaComposeField{Value: true, Char: &ch}})
	if _, ok := tr2.oia[b3270.OiaCompose]; ok {
		t.Errorf("malformed compose-true field was accepted")
	}

	// valid: value=false regardless of char/type
	tr3 := New()
	tr3.Handle(b3270.Oia{Field: b3270.OiaComposeField{Value: false}})
	if _, ok := tr3.oia[b3270.OiaCompose]; !ok {
		t.Errorf("valid compose-false field was dropped")
	}
}

func TestRunResultDispositionRouting(t *testing.T) {
	tr := New()
	tag := "tag-1"
	d := tr.Handle(b3270.RunResult{RTag: &tag, Success: true})
	if d.Kind != Direct || d.Tag != tag {
		t.Errorf("RunResult with tag routed %+v, want Direct/%s", d, tag)
	}
	d2 := tr.Handle(b3270.RunResult{Success: true})
	if d2.Kind != Drop {
		t.Errorf("RunResult without tag routed %+v, want Drop", d2)
	}
}

func TestPassthruAndUiErrorBroadcastWithoutStateChange(t *testing.T) {
	tr := New()
	before := tr.connection
	d := tr.Handle(b3270.Passthru{PTag: "p1", Action: "Foo"})
	if d.Kind != Broadcast {
		t.Errorf("Passthru disposition = %+v, want Broadcast", d)
	}
	if tr.connection != before {
		t.Errorf("Passthru mutated connection state")
	}
	d = tr.Handle(b3270.UiError{Text: "bad input"})
	if d.Kind != Broadcast {
		t.Errorf("UiError disposition = %+v, want Broadcast", d)
	}
	if tr.connection != before {
		t.Errorf("UiError mutated connection state")
	}
}

// replay feeds a snapshot into a fresh Tracker, in order, and returns it.
func replay(snapshot []b3270.Indication) *Tracker {
	t2 := New()
	for _, ind := range snapshot {
		t2.Handle(ind)
	}
	return t2
}

func TestSnapshotFidelityBlankDefault(t *testing.T) {
	tr := New()
	replayed := replay(tr.Snapshot())
	if replayed.screen.rows != tr.screen.rows || replayed.screen.cols != tr.screen.cols {
		t.Fatalf("replayed screen dims = %dx%d, want %dx%d",
			replayed.screen.rows, replayed.screen.cols, tr.screen.rows, tr.screen.cols)
	}
	for i := range tr.screen.cells {
		if replayed.screen.cells[i] != tr.screen.cells[i] {
			t.Fatalf("cell %d mismatch: got %+v want %+v", i, replayed.screen.cells[i], tr.screen.cells[i])
		}
	}
	if replayed.connection.State != tr.connection.State {
		t.Errorf("replayed connection state = %v, want %v", replayed.connection.State, tr.connection.State)
	}
}

func TestSnapshotFidelityAfterTextAndOia(t *testing.T) {
	tr := New()
	tr.Handle(b3270.ScreenMode{Model: 2, Rows: 24, Columns: 80, Color: true, Extended: true})
	tr.Handle(b3270.Connection{State: b3270.StateConnected3270})
	text := "HELLO WORLD"
	tr.Handle(b3270.ScreenInd{
		Rows: []b3270.Row{{
			Row:     1,
			Changes: []b3270.Change{{Column: 3, CountOrText: b3270.CountOrText{Text: &text}}},
		}},
		Cursor: &b3270.Cursor{Enabled: true, Row: uint8p(1), Column: uint8p(5)},
	})
	tr.Handle(b3270.Oia{Field: b3270.OiaLuField{Value: "TERM1"}})
	tr.Handle(b3270.Formatted{State: true})

	replayed := replay(tr.Snapshot())

	for i := range tr.screen.cells {
		if replayed.screen.cells[i] != tr.screen.cells[i] {
			t.Fatalf("cell %d mismatch: got %+v want %+v", i, replayed.screen.cells[i], tr.screen.cells[i])
		}
	}
	if replayed.connection.State != b3270.StateConnected3270 {
		t.Errorf("replayed connection = %v", replayed.connection.State)
	}
	if replayed.cursor != tr.cursor {
		t.Errorf("replayed cursor = %+v, want %+v", replayed.cursor, tr.cursor)
	}
	if replayed.formatted != tr.formatted {
		t.Errorf("replayed formatted = %v, want %v", replayed.formatted, tr.formatted)
	}
	if _, ok := replayed.oia[b3270.OiaLu]; !ok {
		t.Errorf("replayed OIA map missing lu field")
	}
}

func uint8p(v uint8) *uint8 { return &v }
