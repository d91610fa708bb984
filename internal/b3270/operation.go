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

// Operation is a command sent to the child (or, on the client protocol,
// from a client to the gateway): one of run/register/fail/succeed,
// externally tagged the same way as Indication (spec.md §6.1).
type Operation interface {
	operationTag() string
}

// Action is one keymap-style action within a Run operation.
type Action struct {
	Action string   `json:"action"`
	Args   []string `json:"args,omitempty"`
}

// Run requests that the child execute one or more actions. RTag
// correlates the eventual RunResult; Type is conventionally "keymap"
// for gateway-originated runs (spec.md §4.2.1).
type Run struct {
	RTag *string  `json:"r-tag,omitempty"`
	Type *string  `json:"type,omitempty"`
	Actions []Action `json:"actions"`
}

func (Run) operationTag() string { return "run" }

// Register declares a pass-through action name the caller wants to field
// itself. Unsupported by the gateway today (spec.md §4.3.2); retained so
// the wire shape round-trips even though it is logged and discarded.
type Register struct {
	Name       string  `json:"name"`
	HelpText   *string `json:"help_text,omitempty"`
	HelpParams *string `json:"help_params,omitempty"`
}

func (Register) operationTag() string { return "register" }

// Fail completes a passthru action unsuccessfully.
type Fail struct {
	PTag string   `json:"p-tag"`
	Text []string `json:"text"`
}

func (Fail) operationTag() string { return "fail" }

// Succeed completes a passthru action successfully.
type Succeed struct {
	PTag string   `json:"p-tag"`
	Text []string `json:"text,omitempty"`
}

func (Succeed) operationTag() string { return "succeed" }

// MarshalOperation serializes op as its externally-tagged single-key wire
// object.
func MarshalOperation(op Operation) ([]byte, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{op.operationTag(): payload})
}

// UnmarshalOperation parses one line of the client protocol: a JSON object
// with exactly one of run/register/fail/succeed.
func UnmarshalOperation(data []byte) (Operation, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("b3270: malformed operation: %w", err)
	}
	if len(m) != 1 {
		return nil, fmt.Errorf("b3270: operation object must have exactly one key, got %d", len(m))
	}
	for tag, payload := range m {
		switch tag {
		case "run":
			var v Run
			err := json.Unmarshal(payload, &v)
			return v, err
		case "register":
			var v Register
			err := json.Unmarshal(payload, &v)
			return v, err
		case "fail":
			var v Fail
			err := json.Unmarshal(payload, &v)
			return v, err
		case "succeed":
			var v Succeed
			err := json.Unmarshal(payload, &v)
			return v, err
		default:
			return nil, fmt.Errorf("b3270: unknown operation %q", tag)
		}
	}
	panic("unreachable")
}
