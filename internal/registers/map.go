// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package registers provides register spaces for the bridge: a YAML
// register map and a SQLite store that persists holding register writes.
package registers

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	modbus "github.com/edgeo-scada/modbus-bridge"
)

// ErrOverlap is returned when two blocks of the same space share an address.
var ErrOverlap = errors.New("registers: overlapping blocks")

// Map describes a device register space.
//
//	holding:
//	  - name: setpoints
//	    start: 0
//	    values: [1000, 2000]
//	    writable: true
//	input:
//	  - start: 0
//	    values: [230, 50]
type Map struct {
	Holding []Block `yaml:"holding" validate:"dive"`
	Input   []Block `yaml:"input" validate:"dive"`
}

// Block is a run of consecutive registers starting at Start.
type Block struct {
	Name     string   `yaml:"name,omitempty"`
	Start    uint16   `yaml:"start"`
	Values   []uint16 `yaml:"values" validate:"required,min=1,max=65536"`
	Writable bool     `yaml:"writable,omitempty"`
}

// End returns the last address covered by the block.
func (b Block) End() int {
	return int(b.Start) + len(b.Values) - 1
}

// LoadMap reads and validates a register map file.
func LoadMap(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read register map: %w", err)
	}
	return ParseMap(data)
}

// ParseMap decodes and validates a YAML register map.
func ParseMap(data []byte) (*Map, error) {
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse register map: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks block shapes, the 16-bit address limit and overlaps.
func (m *Map) Validate() error {
	if err := validator.New().Struct(m); err != nil {
		return fmt.Errorf("invalid register map: %w", err)
	}
	if err := checkSpace("holding", m.Holding); err != nil {
		return err
	}
	return checkSpace("input", m.Input)
}

func checkSpace(space string, blocks []Block) error {
	sorted := make([]Block, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, b := range sorted {
		if b.End() > 0xFFFF {
			return fmt.Errorf("invalid register map: %s block at %d runs past address 65535", space, b.Start)
		}
		if i > 0 && int(b.Start) <= sorted[i-1].End() {
			return fmt.Errorf("%w: %s blocks at %d and %d", ErrOverlap, space, sorted[i-1].Start, b.Start)
		}
	}
	return nil
}

// Gateway builds an in-memory register space from the map. Holding
// registers of blocks not marked writable are read-only.
func (m *Map) Gateway() *modbus.MemoryGateway {
	g := modbus.NewMemoryGateway()
	for _, b := range m.Holding {
		for i, v := range b.Values {
			addr := b.Start + uint16(i)
			g.SetHoldingRegister(addr, v)
			g.SetReadOnly(addr, !b.Writable)
		}
	}
	for _, b := range m.Input {
		for i, v := range b.Values {
			g.SetInputRegister(b.Start+uint16(i), v)
		}
	}
	return g
}

// Summary counts the registers a map defines.
type Summary struct {
	HoldingBlocks int
	Holding       int
	Writable      int
	InputBlocks   int
	Input         int
}

// Summary returns register counts for the map.
func (m *Map) Summary() Summary {
	s := Summary{
		HoldingBlocks: len(m.Holding),
		InputBlocks:   len(m.Input),
	}
	for _, b := range m.Holding {
		s.Holding += len(b.Values)
		if b.Writable {
			s.Writable += len(b.Values)
		}
	}
	for _, b := range m.Input {
		s.Input += len(b.Values)
	}
	return s
}
