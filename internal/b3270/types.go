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

// Package b3270 is the wire-level protocol model shared by every component
// of the gateway: the packed-cell attribute format, the sixteen 3270
// colors, the graphic rendition bitflags, and the externally-tagged
// Indication/Operation sum types exchanged with the b3270 child process.
package b3270

import (
	"fmt"
	"strings"
)

// Color is one of the sixteen named 3270 colors. Ordinals are fixed and
// must never be reassigned: they are used as a packed bit-pattern, not
// just an enum tag.
type Color uint8

const (
	NeutralBlack Color = iota
	Blue
	Red
	Pink
	Green
	Turquoise
	Yellow
	NeutralWhite
	Black
	DeepBlue
	Orange
	Purple
	PaleGreen
	PaleTurquoise
	Gray
	White
)

var colorNames = [...]string{
	"neutralBlack", "blue", "red", "pink", "green", "turquoise", "yellow",
	"neutralWhite", "black", "deepBlue", "orange", "purple", "paleGreen",
	"paleTurquoise", "gray", "white",
}

// String renders the camelCase wire form.
func (c Color) String() string {
	if int(c) < len(colorNames) {
		return colorNames[c]
	}
	return fmt.Sprintf("color(%d)", uint8(c))
}

// ColorFromOrdinal maps a 0..15 ordinal to its Color, masking to 4 bits.
func ColorFromOrdinal(n uint8) Color {
	return Color(n & 0xF)
}

// Ordinal returns the fixed 0..15 wire ordinal for c.
func (c Color) Ordinal() uint8 {
	return uint8(c) & 0xF
}

func (c Color) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

func (c *Color) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	for i, name := range colorNames {
		if name == s {
			*c = Color(i)
			return nil
		}
	}
	return fmt.Errorf("b3270: invalid color %q", s)
}

// GraphicRendition is a bitfield over the ten named per-cell visual
// attributes. The zero value is the empty set, which formats as "default".
type GraphicRendition uint16

const (
	GRUnderline GraphicRendition = 1 << iota
	GRBlink
	GRHighlight
	GRSelectable
	GRReverse
	GRWide
	GROrder
	GRPrivateUse
	GRNoCopy
	GRWrap

	grAllBits = GRUnderline | GRBlink | GRHighlight | GRSelectable | GRReverse |
		GRWide | GROrder | GRPrivateUse | GRNoCopy | GRWrap
)

var grFlagNames = []struct {
	bit  GraphicRendition
	name string
}{
	{GRUnderline, "underline"},
	{GRBlink, "blink"},
	{GRHighlight, "highlight"},
	{GRSelectable, "selectable"},
	{GRReverse, "reverse"},
	{GRWide, "wide"},
	{GROrder, "order"},
	{GRPrivateUse, "private-use"},
	{GRNoCopy, "no-copy"},
	{GRWrap, "wrap"},
}

// String renders the comma-separated textual wire form, or the sentinel
// "default" for the empty set.
func (g GraphicRendition) String() string {
	if g == 0 {
		return "default"
	}
	var names []string
	for _, f := range grFlagNames {
		if g&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseGraphicRendition parses the textual wire form, including "default".
func ParseGraphicRendition(s string) (GraphicRendition, error) {
	if s == "default" {
		return 0, nil
	}
	var gr GraphicRendition
	for _, attr := range strings.Split(s, ",") {
		found := false
		for _, f := range grFlagNames {
			if f.name == attr {
				gr |= f.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("b3270: invalid GR attr name %q", attr)
		}
	}
	return gr, nil
}

// ParseGraphicRenditionBinary interprets the 16-bit LE binary wire form,
// truncating (masking off) any bits outside the defined set.
func ParseGraphicRenditionBinary(u uint16) GraphicRendition {
	return GraphicRendition(u) & grAllBits
}

// Bits returns the raw 16-bit binary wire form.
func (g GraphicRendition) Bits() uint16 {
	return uint16(g & grAllBits)
}

func (g GraphicRendition) MarshalJSON() ([]byte, error) {
	return []byte(`"` + g.String() + `"`), nil
}

func (g *GraphicRendition) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseGraphicRendition(s)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// PackedAttr is the 32-bit packed per-cell attribute: bits 0-15 graphic
// rendition, bits 16-19 foreground color, bits 20-23 background color.
// Remaining bits are reserved and always zero.
type PackedAttr uint32

const (
	attrGRMask = 0x0000FFFF
	attrFGMask = 0x000F0000
	attrBGMask = 0x00F00000
	attrFGShift = 16
	attrBGShift = 20
)

// PackAttr builds a PackedAttr from its components.
func PackAttr(fg, bg Color, gr GraphicRendition) PackedAttr {
	return PackedAttr(0).SetFG(fg).SetBG(bg).SetGR(gr)
}

func (a PackedAttr) GR() GraphicRendition {
	return GraphicRendition(a & attrGRMask)
}

func (a PackedAttr) FG() Color {
	return ColorFromOrdinal(uint8((a & attrFGMask) >> attrFGShift))
}

func (a PackedAttr) BG() Color {
	return ColorFromOrdinal(uint8((a & attrBGMask) >> attrBGShift))
}

func (a PackedAttr) SetGR(gr GraphicRendition) PackedAttr {
	return (a &^ attrGRMask) | PackedAttr(gr.Bits())
}

func (a PackedAttr) SetFG(fg Color) PackedAttr {
	return (a &^ attrFGMask) | (PackedAttr(fg.Ordinal()) << attrFGShift)
}

func (a PackedAttr) SetBG(bg Color) PackedAttr {
	return (a &^ attrBGMask) | (PackedAttr(bg.Ordinal()) << attrBGShift)
}

// Unpack decomposes a into its three components.
func (a PackedAttr) Unpack() (fg, bg Color, gr GraphicRendition) {
	return a.FG(), a.BG(), a.GR()
}

// CharCell is one screen position: a character and its packed attribute.
type CharCell struct {
	Char rune
	Attr PackedAttr
}
