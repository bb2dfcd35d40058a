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

// Package modbus implements a single-client, poll-driven Modbus TCP server
// that exposes a device's register space through a RegisterGateway, together
// with a small client for the same function set.
package modbus

import "time"

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Function codes served by the bridge.
const (
	FuncReadHoldingRegisters FunctionCode = 0x03
	FuncReadInputRegisters   FunctionCode = 0x04
	FuncWriteSingleRegister  FunctionCode = 0x06
)

// exceptionBit marks a function code as an exception response.
const exceptionBit = 0x80

// String returns a string representation of FunctionCode.
func (fc FunctionCode) String() string {
	switch fc &^ exceptionBit {
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	default:
		return "Unknown"
	}
}

// Protocol constants.
const (
	// MaxQuantityRegisters is the maximum number of registers that can be read.
	MaxQuantityRegisters = 125

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// MaxPDUSize is the largest PDU a Modbus TCP frame may carry.
	MaxPDUSize = 253

	// MaxADUSize is the largest complete Modbus TCP frame (header + PDU).
	MaxADUSize = MBAPHeaderSize + MaxPDUSize

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// DefaultTimeout is the default timeout for client operations.
	DefaultTimeout = 5 * time.Second

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502
)

// RegisterGateway gives the engine access to the device's register space.
// Holding and input registers are disjoint address spaces. A false result
// means the address could not be served.
type RegisterGateway interface {
	ReadHolding(addr uint16) (uint16, bool)
	ReadInput(addr uint16) (uint16, bool)
	WriteHolding(addr, value uint16) bool
}

// ConnState is the state of the engine's single client slot.
type ConnState int

const (
	// StateIdle means the engine is stopped and no listener exists.
	StateIdle ConnState = iota
	// StateListening means the listener is active and no client is attached.
	StateListening
	// StateAccumulating means a client is attached and bytes are being assembled.
	StateAccumulating
	// StateReady means a complete request is being served.
	StateReady
	// StateClosing means the current client is being torn down.
	StateClosing
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAccumulating:
		return "accumulating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Connected reports whether a client is attached in this state.
func (s ConnState) Connected() bool {
	return s == StateAccumulating || s == StateReady
}

// ClientState represents the state of a client connection.
type ClientState int

const (
	ClientDisconnected ClientState = iota
	ClientConnecting
	ClientConnected
)

// String returns the string representation of the client state.
func (s ClientState) String() string {
	switch s {
	case ClientDisconnected:
		return "disconnected"
	case ClientConnecting:
		return "connecting"
	case ClientConnected:
		return "connected"
	default:
		return "unknown"
	}
}
