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

// Indication is an unsolicited message from the child describing a state
// change. Every concrete type maps one-to-one to a kebab-case top-level
// key, externally tagged (spec.md §6.1): a line on the wire is always a
// JSON object with exactly that one key.
type Indication interface {
	indicationTag() string
}

type Bell struct{}

func (Bell) indicationTag() string { return "bell" }

func (Connection) indicationTag() string { return "connection" }

func (ConnectAttempt) indicationTag() string { return "connect-attempt" }

func (Erase) indicationTag() string { return "erase" }

type Flipped struct {
	Value bool `json:"value"`
}

func (Flipped) indicationTag() string { return "flipped" }

type Font struct {
	Text string `json:"text"`
}

func (Font) indicationTag() string { return "font" }

type Formatted struct {
	State bool `json:"state"`
}

func (Formatted) indicationTag() string { return "formatted" }

func (FileTransfer) indicationTag() string { return "ft" }

type Icon struct {
	Text string `json:"text"`
}

func (Icon) indicationTag() string { return "icon" }

// Initialize is the first indication a session observes: a batch of
// InitItem entries covering the child's static identity plus current
// screen/OIA/settings state (spec.md §4.1.3).
type Initialize struct {
	Items []InitItem
}

func (Initialize) indicationTag() string { return "initialize" }

func (Oia) indicationTag() string { return "oia" }

func (Passthru) indicationTag() string { return "passthru" }

func (Popup) indicationTag() string { return "popup" }

func (RunResult) indicationTag() string { return "run-result" }

func (ScreenInd) indicationTag() string { return "screen" }

func (ScreenMode) indicationTag() string { return "screen-mode" }

func (Scroll) indicationTag() string { return "scroll" }

func (Setting) indicationTag() string { return "setting" }

func (Stats) indicationTag() string { return "stats" }

func (Thumb) indicationTag() string { return "thumb" }

func (TraceFile) indicationTag() string { return "trace-file" }

func (Tls) indicationTag() string { return "tls" }

func (UiError) indicationTag() string { return "ui-error" }

type WindowTitle struct {
	Text string `json:"text"`
}

func (WindowTitle) indicationTag() string { return "window-title" }

// RawIndication is the opaque pass-through fallback for a shape the
// Tracker does not recognize (spec.md §9 "opaque pass-through of unknown
// shapes"): the original bytes are preserved and re-broadcast unchanged.
type RawIndication struct {
	Tag string
	Raw json.RawMessage
}

func (r RawIndication) indicationTag() string { return r.Tag }

var indicationDecoders = map[string]func(json.RawMessage) (Indication, error){
	"bell": func(json.RawMessage) (Indication, error) { return Bell{}, nil },
	"connection": unmarshalInto(func(v Connection) Indication { return v }),
	"connect-attempt": unmarshalInto(func(v ConnectAttempt) Indication { return v }),
	"erase": unmarshalInto(func(v Erase) Indication { return v }),
	"flipped": unmarshalInto(func(v Flipped) Indication { return v }),
	"font": unmarshalInto(func(v Font) Indication { return v }),
	"formatted": unmarshalInto(func(v Formatted) Indication { return v }),
	"ft": unmarshalInto(func(v FileTransfer) Indication { return v }),
	"icon": unmarshalInto(func(v Icon) Indication { return v }),
	"initialize": func(raw json.RawMessage) (Indication, error) {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		init := Initialize{Items: make([]InitItem, 0, len(items))}
		for _, item := range items {
			parsed, err := decodeInitItem(item)
			if err != nil {
				return nil, err
			}
			init.Items = append(init.Items, parsed)
		}
		return init, nil
	},
	"oia": unmarshalInto(func(v Oia) Indication { return v }),
	"passthru": unmarshalInto(func(v Passthru) Indication { return v }),
	"popup": unmarshalInto(func(v Popup) Indication { return v }),
	"run-result": unmarshalInto(func(v RunResult) Indication { return v }),
	"screen": unmarshalInto(func(v ScreenInd) Indication { return v }),
	"screen-mode": unmarshalInto(func(v ScreenMode) Indication { return v }),
	"scroll": unmarshalInto(func(v Scroll) Indication { return v }),
	"setting": unmarshalInto(func(v Setting) Indication { return v }),
	"stats": unmarshalInto(func(v Stats) Indication { return v }),
	"thumb": unmarshalInto(func(v Thumb) Indication { return v }),
	"trace-file": unmarshalInto(func(v TraceFile) Indication { return v }),
	"tls": unmarshalInto(func(v Tls) Indication { return v }),
	"ui-error": unmarshalInto(func(v UiError) Indication { return v }),
	"window-title": unmarshalInto(func(v WindowTitle) Indication { return v }),
}

// unmarshalInto builds a decoder for the common case of a payload that
// unmarshals directly into T and wraps as an Indication via wrap.
func unmarshalInto[T any](wrap func(T) Indication) func(json.RawMessage) (Indication, error) {
	return func(raw json.RawMessage) (Indication, error) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
		}
		return wrap(v), nil
	}
}

// MarshalIndication serializes an Indication as its externally-tagged
// single-key wire object.
func MarshalIndication(ind Indication) ([]byte, error) {
	if raw, ok := ind.(RawIndication); ok {
		return json.Marshal(map[string]json.RawMessage{raw.Tag: raw.Raw})
	}
	if init, ok := ind.(Initialize); ok {
		items := make([]json.RawMessage, 0, len(init.Items))
		for _, item := range init.Items {
			b, err := MarshalInitItem(item)
			if err != nil {
				return nil, err
			}
			items = append(items, b)
		}
		itemsJSON, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{"initialize": itemsJSON})
	}
	payload, err := json.Marshal(ind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{ind.indicationTag(): payload})
}

// UnmarshalIndication parses one line of the child/client wire protocol: a
// JSON object with exactly one key. Unrecognized keys decode to
// RawIndication rather than failing, per the opaque-pass-through policy.
func UnmarshalIndication(data []byte) (Indication, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("b3270: malformed indication: %w", err)
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("b3270: indication object must have exactly one key, got %d", len(m))
	}
	for tag, payload := range m {
		if dec, ok := indicationDecoders[tag]; ok {
			return dec(payload)
		}
		return RawIndication{Tag: tag, Raw: payload}, nil
	}
	panic("unreachable")
}

// InitItem is one entry of an Initialize indication's payload.
type InitItem interface {
	initTag() string
}

type InitCodePages struct{ Pages []CodePage }

func (InitCodePages) initTag() string { return "code-pages" }

type InitConnection struct{ Connection }

func (InitConnection) initTag() string { return "connection" }

type InitErase struct{ Erase }

func (InitErase) initTag() string { return "erase" }

// InitFileTransfer carries an in-flight file transfer's state into a
// resync snapshot (SPEC_FULL.md §4.1 Open Question 2 resolution: folded
// into the Tracker rather than routed separately).
type InitFileTransfer struct{ FileTransfer }

func (InitFileTransfer) initTag() string { return "ft" }

type InitHello struct{ Hello }

func (InitHello) initTag() string { return "hello" }

type InitModels struct{ Models []Model }

func (InitModels) initTag() string { return "models" }

type InitOia struct{ Oia }

func (InitOia) initTag() string { return "oia" }

type InitPrefixes struct {
	Value string `json:"value"`
}

func (InitPrefixes) initTag() string { return "prefixes" }

type InitProxies struct{ Proxies []Proxy }

func (InitProxies) initTag() string { return "proxies" }

type InitScreenMode struct{ ScreenMode }

func (InitScreenMode) initTag() string { return "screen-mode" }

type InitSetting struct{ Setting }

func (InitSetting) initTag() string { return "setting" }

type InitTerminalName struct{ TerminalName }

func (InitTerminalName) initTag() string { return "terminal-name" }

type InitThumb struct{ Thumb }

func (InitThumb) initTag() string { return "thumb" }

type InitTlsHello struct{ TlsHello }

func (InitTlsHello) initTag() string { return "tls-hello" }

type InitTls struct{ Tls }

func (InitTls) initTag() string { return "tls" }

type InitTraceFile struct{ TraceFile }

func (InitTraceFile) initTag() string { return "trace-file" }

func decodeInitItem(raw json.RawMessage) (InitItem, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("b3270: initialize item must have exactly one key, got %d", len(m))
	}
	for tag, payload := range m {
		switch tag {
		case "code-pages":
			var pages []CodePage
			if err := json.Unmarshal(payload, &pages); err != nil {
				return nil, err
			}
			return InitCodePages{Pages: pages}, nil
		case "connection":
			var v Connection
			err := json.Unmarshal(payload, &v)
			return InitConnection{v}, err
		case "erase":
			var v Erase
			err := json.Unmarshal(payload, &v)
			return InitErase{v}, err
		case "ft":
			var v FileTransfer
			err := json.Unmarshal(payload, &v)
			return InitFileTransfer{v}, err
		case "hello":
			var v Hello
			err := json.Unmarshal(payload, &v)
			return InitHello{v}, err
		case "models":
			var models []Model
			if err := json.Unmarshal(payload, &models); err != nil {
				return nil, err
			}
			return InitModels{Models: models}, nil
		case "oia":
			var v Oia
			err := json.Unmarshal(payload, &v)
			return InitOia{v}, err
		case "prefixes":
			var v InitPrefixes
			err := json.Unmarshal(payload, &v)
			return v, err
		case "proxies":
			var proxies []Proxy
			if err := json.Unmarshal(payload, &proxies); err != nil {
				return nil, err
			}
			return InitProxies{Proxies: proxies}, nil
		case "screen-mode":
			var v ScreenMode
			err := json.Unmarshal(payload, &v)
			return InitScreenMode{v}, err
		case "setting":
			var v Setting
			err := json.Unmarshal(payload, &v)
			return InitSetting{v}, err
		case "terminal-name":
			var v TerminalName
			err := json.Unmarshal(payload, &v)
			return InitTerminalName{v}, err
		case "thumb":
			var v Thumb
			err := json.Unmarshal(payload, &v)
			return InitThumb{v}, err
		case "tls-hello":
			var v TlsHello
			err := json.Unmarshal(payload, &v)
			return InitTlsHello{v}, err
		case "tls":
			var v Tls
			err := json.Unmarshal(payload, &v)
			return InitTls{v}, err
		case "trace-file":
			var v TraceFile
			err := json.Unmarshal(payload, &v)
			return InitTraceFile{v}, err
		default:
			return nil, fmt.Errorf("b3270: unknown initialize item %q", tag)
		}
	}
	panic("unreachable")
}

// MarshalInitItem serializes one InitItem back to its tagged object form.
func MarshalInitItem(item InitItem) ([]byte, error) {
	var payload any
	switch v := item.(type) {
	case InitCodePages:
		payload = v.Pages
	case InitConnection:
		payload = v.Connection
	case InitErase:
		payload = v.Erase
	case InitFileTransfer:
		payload = v.FileTransfer
	case InitHello:
		payload = v.Hello
	case InitModels:
		payload = v.Models
	case InitOia:
		payload = v.Oia
	case InitPrefixes:
		payload = v
	case InitProxies:
		payload = v.Proxies
	case InitScreenMode:
		payload = v.ScreenMode
	case InitSetting:
		payload = v.Setting
	case InitTerminalName:
		payload = v.TerminalName
	case InitThumb:
		payload = v.Thumb
	case InitTlsHello:
		payload = v.TlsHello
	case InitTls:
		payload = v.Tls
	case InitTraceFile:
		payload = v.TraceFile
	default:
		return nil, fmt.Errorf("b3270: unknown init item type %T", item)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{item.initTag(): body})
}
