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

// Package config loads the optional YAML file layered under cmd/d3270d's
// flags: a file value is used only for a flag still at its built-in
// default (empty, zero, or ":4270"/"/ws" for -listen/-ws-path), so a flag
// set on the command line to that same default is still replaced by the
// file.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// File is the shape of the optional -config YAML document. Every field is
// a default for the matching command-line flag (internal/config/config.go
// §6.4 of SPEC_FULL.md).
type File struct {
	Child      string   `yaml:"child"`
	ChildArgs  []string `yaml:"child_args"`
	Connect    string   `yaml:"connect"`
	Listen     string   `yaml:"listen"`
	WSListen   string   `yaml:"ws_listen"`
	WSPath     string   `yaml:"ws_path"`
	FakeDelay  string   `yaml:"fake_delay"`
	LatencyLog string   `yaml:"latency_log"`
}

// Load reads path, expands ${VAR} references against the process
// environment, and parses the result as YAML. A file that cannot be read
// is an error; cmd/d3270d calls Load only when -config is non-empty and
// otherwise falls back entirely to flags.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, err
	}
	return &f, nil
}
