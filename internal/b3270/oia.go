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

import (
	"encoding/json"
	"fmt"
)

// OiaFieldName is the closed set of OIA field discriminators.
type OiaFieldName string

const (
	OiaCompose       OiaFieldName = "compose"
	OiaInsert        OiaFieldName = "insert"
	OiaLock          OiaFieldName = "lock"
	OiaLu            OiaFieldName = "lu"
	OiaNotUndera     OiaFieldName = "not-undera"
	OiaPrinterSession OiaFieldName = "printer-session"
	OiaReverseInput  OiaFieldName = "reverse-input"
	OiaScreenTrace   OiaFieldName = "screen-trace"
	OiaScript        OiaFieldName = "script"
	OiaTiming        OiaFieldName = "timing"
	OiaTypeahead     OiaFieldName = "typeahead"
)

// ComposeType distinguishes standard vs. GE composite characters.
type ComposeType string

const (
	ComposeStd ComposeType = "std"
	ComposeGe  ComposeType = "ge"
)

// OiaField is one OIA field write. Every concrete field type implements
// FieldName so the Tracker can key its OIA map without a type switch at
// every call site.
type OiaField interface {
	FieldName() OiaFieldName
}

// OiaComposeField reports a composite character in progress. The Tracker
// keeps only the {true, type, char} and {false, _, _} shapes of it (see
// SPEC_FULL.md Open Question 3).
type OiaComposeField struct {
	Value bool         `json:"value"`
	Char  *string      `json:"char,omitempty"`
	Type  *ComposeType `json:"type_,omitempty"`
}

func (OiaComposeField) FieldName() OiaFieldName { return OiaCompose }

type OiaInsertField struct {
	Value bool `json:"value"`
}

func (OiaInsertField) FieldName() OiaFieldName { return OiaInsert }

type OiaLockField struct {
	Value *string `json:"value,omitempty"`
}

func (OiaLockField) FieldName() OiaFieldName { return OiaLock }

type OiaLuField struct {
	Value string  `json:"value"`
	Lu    *string `json:"lu,omitempty"`
}

func (OiaLuField) FieldName() OiaFieldName { return OiaLu }

type OiaNotUnderaField struct {
	Value bool `json:"value"`
}

func (OiaNotUnderaField) FieldName() OiaFieldName { return OiaNotUndera }

// OiaPrinterSessionField reports whether a printer session is active and,
// if so, which LU it is bound to. Active in the older original_source tree
// (commented out as a TODO in the newer one); SPEC_FULL.md restores it.
type OiaPrinterSessionField struct {
	Value bool    `json:"value"`
	Lu    *string `json:"lu,omitempty"`
}

func (OiaPrinterSessionField) FieldName() OiaFieldName { return OiaPrinterSession }

type OiaReverseInputField struct {
	Value bool `json:"value"`
}

func (OiaReverseInputField) FieldName() OiaFieldName { return OiaReverseInput }

type OiaScreenTraceField struct {
	Value *uint64 `json:"value,omitempty"`
}

func (OiaScreenTraceField) FieldName() OiaFieldName { return OiaScreenTrace }

type OiaScriptField struct {
	Value bool `json:"value"`
}

func (OiaScriptField) FieldName() OiaFieldName { return OiaScript }

type OiaTimingField struct {
	Value *string `json:"value,omitempty"`
}

func (OiaTimingField) FieldName() OiaFieldName { return OiaTiming }

type OiaTypeaheadField struct {
	Value bool `json:"value"`
}

func (OiaTypeaheadField) FieldName() OiaFieldName { return OiaTypeahead }

// Oia is the wire wrapper around an OiaField: the field is flattened at
// the JSON level (tagged by its own "field" discriminator) and carries a
// parallel, optional top-level "lu" — matching the Rust original's
// Oia{field, lu} struct.
type Oia struct {
	Field OiaField
	Lu    *string
}

type oiaWire struct {
	Field string          `json:"field"`
	Lu    *string         `json:"lu,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

func (o Oia) MarshalJSON() ([]byte, error) {
	inner, err := json.Marshal(o.Field)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(inner, &m); err != nil {
		return nil, err
	}
	m["field"], _ = json.Marshal(string(o.Field.FieldName()))
	if o.Lu != nil {
		m["lu"], _ = json.Marshal(*o.Lu)
	}
	return json.Marshal(m)
}

func (o *Oia) UnmarshalJSON(data []byte) error {
	var w oiaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var lu *string
	if err := json.Unmarshal(data, &struct {
		Lu **string `json:"lu"`
	}{&lu}); err != nil {
		return err
	}
	field, err := decodeOiaField(OiaFieldName(w.Field), data)
	if err != nil {
		return err
	}
	o.Field = field
	o.Lu = lu
	return nil
}

func decodeOiaField(name OiaFieldName, data []byte) (OiaField, error) {
	switch name {
	case OiaCompose:
		var f OiaComposeField
		return f, json.Unmarshal(data, &f)
	case OiaInsert:
		var f OiaInsertField
		return f, json.Unmarshal(data, &f)
	case OiaLock:
		var f OiaLockField
		return f, json.Unmarshal(data, &f)
	case OiaLu:
		var f OiaLuField
		return f, json.Unmarshal(data, &f)
	case OiaNotUndera:
		var f OiaNotUnderaField
		return f, json.Unmarshal(data, &f)
	case OiaPrinterSession:
		var f OiaPrinterSessionField
		return f, json.Unmarshal(data, &f)
	case OiaReverseInput:
		var f OiaReverseInputField
		return f, json.Unmarshal(data, &f)
	case OiaScreenTrace:
		var f OiaScreenTraceField
		return f, json.Unmarshal(data, &f)
	case OiaScript:
		var f OiaScriptField
		return f, json.Unmarshal(data, &f)
	case OiaTiming:
		var f OiaTimingField
		return f, json.Unmarshal(data, &f)
	case OiaTypeahead:
		var f OiaTypeaheadField
		return f, json.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("b3270: unknown OIA field name %q", name)
	}
}
