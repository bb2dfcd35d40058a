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

package modbus

import "sync"

// GatewayFuncs adapts plain functions to RegisterGateway. Any function left
// nil makes every call through that path fail.
type GatewayFuncs struct {
	ReadHoldingFunc  func(addr uint16) (uint16, bool)
	ReadInputFunc    func(addr uint16) (uint16, bool)
	WriteHoldingFunc func(addr, value uint16) bool
}

// ReadHolding calls ReadHoldingFunc.
func (g GatewayFuncs) ReadHolding(addr uint16) (uint16, bool) {
	if g.ReadHoldingFunc == nil {
		return 0, false
	}
	return g.ReadHoldingFunc(addr)
}

// ReadInput calls ReadInputFunc.
func (g GatewayFuncs) ReadInput(addr uint16) (uint16, bool) {
	if g.ReadInputFunc == nil {
		return 0, false
	}
	return g.ReadInputFunc(addr)
}

// WriteHolding calls WriteHoldingFunc.
func (g GatewayFuncs) WriteHolding(addr, value uint16) bool {
	if g.WriteHoldingFunc == nil {
		return false
	}
	return g.WriteHoldingFunc(addr, value)
}

// MemoryGateway is an in-memory register space. Only addresses that have
// been defined can be read; holding registers can be marked read-only.
// It is safe for concurrent use.
type MemoryGateway struct {
	mu       sync.RWMutex
	holding  map[uint16]uint16
	input    map[uint16]uint16
	readOnly map[uint16]bool
}

// NewMemoryGateway creates an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		holding:  make(map[uint16]uint16),
		input:    make(map[uint16]uint16),
		readOnly: make(map[uint16]bool),
	}
}

// ReadHolding returns a defined holding register.
func (g *MemoryGateway) ReadHolding(addr uint16) (uint16, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.holding[addr]
	return v, ok
}

// ReadInput returns a defined input register.
func (g *MemoryGateway) ReadInput(addr uint16) (uint16, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.input[addr]
	return v, ok
}

// WriteHolding stores value if the register is defined and writable.
func (g *MemoryGateway) WriteHolding(addr, value uint16) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.holding[addr]; !ok || g.readOnly[addr] {
		return false
	}
	g.holding[addr] = value
	return true
}

// SetHoldingRegister defines a holding register and sets its value directly.
func (g *MemoryGateway) SetHoldingRegister(addr, value uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holding[addr] = value
}

// SetInputRegister defines an input register and sets its value directly.
func (g *MemoryGateway) SetInputRegister(addr, value uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.input[addr] = value
}

// SetReadOnly controls whether clients may write the holding register at addr.
func (g *MemoryGateway) SetReadOnly(addr uint16, readOnly bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if readOnly {
		g.readOnly[addr] = true
	} else {
		delete(g.readOnly, addr)
	}
}

// HoldingCount returns the number of defined holding registers.
func (g *MemoryGateway) HoldingCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.holding)
}

// InputCount returns the number of defined input registers.
func (g *MemoryGateway) InputCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.input)
}
