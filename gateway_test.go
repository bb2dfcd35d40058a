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

import "testing"

func TestMemoryGateway_ReadWrite(t *testing.T) {
	g := NewMemoryGateway()
	g.SetHoldingRegister(100, 1)
	g.SetInputRegister(100, 2)

	if !g.WriteHolding(100, 12345) {
		t.Fatal("WriteHolding failed")
	}
	if v, ok := g.ReadHolding(100); !ok || v != 12345 {
		t.Errorf("Holding[100]: expected 12345, got %d (ok=%v)", v, ok)
	}
	if v, ok := g.ReadInput(100); !ok || v != 2 {
		t.Errorf("Input[100]: expected 2, got %d (ok=%v)", v, ok)
	}
}

func TestMemoryGateway_Undefined(t *testing.T) {
	g := NewMemoryGateway()
	g.SetInputRegister(5, 1)

	if _, ok := g.ReadHolding(5); ok {
		t.Error("ReadHolding of undefined register should fail")
	}
	if g.WriteHolding(5, 1) {
		t.Error("WriteHolding of undefined register should fail")
	}
	if _, ok := g.ReadInput(6); ok {
		t.Error("ReadInput of undefined register should fail")
	}
}

func TestMemoryGateway_ReadOnly(t *testing.T) {
	g := NewMemoryGateway()
	g.SetHoldingRegister(10, 42)
	g.SetReadOnly(10, true)

	if g.WriteHolding(10, 1) {
		t.Error("WriteHolding of read-only register should fail")
	}
	if v, _ := g.ReadHolding(10); v != 42 {
		t.Errorf("Holding[10]: expected 42, got %d", v)
	}

	g.SetReadOnly(10, false)
	if !g.WriteHolding(10, 1) {
		t.Error("WriteHolding after clearing read-only failed")
	}
}

func TestMemoryGateway_Counts(t *testing.T) {
	g := NewMemoryGateway()
	for i := uint16(0); i < 3; i++ {
		g.SetHoldingRegister(i, i)
	}
	g.SetInputRegister(0, 0)

	if g.HoldingCount() != 3 {
		t.Errorf("HoldingCount: expected 3, got %d", g.HoldingCount())
	}
	if g.InputCount() != 1 {
		t.Errorf("InputCount: expected 1, got %d", g.InputCount())
	}
}

func TestGatewayFuncs_Nil(t *testing.T) {
	var g GatewayFuncs

	if _, ok := g.ReadHolding(0); ok {
		t.Error("nil ReadHoldingFunc should fail")
	}
	if _, ok := g.ReadInput(0); ok {
		t.Error("nil ReadInputFunc should fail")
	}
	if g.WriteHolding(0, 0) {
		t.Error("nil WriteHoldingFunc should fail")
	}
}
