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

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	h.put(buf)
	return buf
}

func (h *MBAPHeader) put(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// frameLength returns the total ADU size announced by an MBAP length field,
// or ErrInvalidLength when the field is zero or exceeds MaxADUSize.
func frameLength(length uint16) (int, error) {
	if length == 0 {
		return 0, fmt.Errorf("%w: zero", ErrInvalidLength)
	}
	total := MBAPHeaderSize + int(length) - 1
	if total > MaxADUSize {
		return 0, fmt.Errorf("%w: %d exceeds %d byte frame limit", ErrInvalidLength, length, MaxADUSize)
	}
	return total, nil
}

// TransactionIDGenerator generates unique transaction IDs.
type TransactionIDGenerator struct {
	counter uint32
}

// Next returns the next transaction ID.
func (g *TransactionIDGenerator) Next() uint16 {
	return uint16(atomic.AddUint32(&g.counter, 1))
}

// Frame represents a complete Modbus TCP frame (MBAP header + PDU).
type Frame struct {
	Header MBAPHeader
	PDU    []byte
}

// Encode encodes the frame to bytes.
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1) // PDU length + Unit ID
	buf := make([]byte, MBAPHeaderSize+len(f.PDU))
	f.Header.put(buf)
	copy(buf[MBAPHeaderSize:], f.PDU)
	return buf
}

// Decode decodes a frame from bytes.
func (f *Frame) Decode(data []byte) error {
	if err := f.Header.Decode(data); err != nil {
		return err
	}
	pduLen := int(f.Header.Length) - 1 // Length includes Unit ID
	if pduLen < 0 {
		return fmt.Errorf("%w: invalid length field", ErrInvalidFrame)
	}
	if len(data) < MBAPHeaderSize+pduLen {
		return fmt.Errorf("%w: incomplete frame", ErrInvalidFrame)
	}
	f.PDU = make([]byte, pduLen)
	copy(f.PDU, data[MBAPHeaderSize:MBAPHeaderSize+pduLen])
	return nil
}

// Request is a decoded Modbus TCP request. The payload is owned by the
// request and excludes the function code.
type Request struct {
	TransactionID uint16
	UnitID        UnitID
	FunctionCode  FunctionCode
	Payload       []byte
}

// DecodeRequest validates a complete ADU and extracts the request it carries.
// A non-zero protocol identifier yields ErrProtocolMismatch. Payload shape is
// not checked here; it depends on the function code.
func DecodeRequest(adu []byte) (*Request, error) {
	h, fc, payload, err := decodeADU(adu)
	if err != nil {
		return nil, err
	}
	return &Request{
		TransactionID: h.TransactionID,
		UnitID:        h.UnitID,
		FunctionCode:  fc,
		Payload:       payload,
	}, nil
}

// Encode serializes the request into a wire-ready ADU.
func (r *Request) Encode() []byte {
	return encodeADU(r.TransactionID, r.UnitID, r.FunctionCode, r.Payload)
}

// Response is the result of dispatching a Request. For exceptions the
// function code carries the exception bit.
type Response struct {
	TransactionID uint16
	UnitID        UnitID
	FunctionCode  FunctionCode
	Payload       []byte
	Exception     bool
}

// NewResponse builds a normal response to req.
func NewResponse(req *Request, payload []byte) *Response {
	return &Response{
		TransactionID: req.TransactionID,
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode,
		Payload:       payload,
	}
}

// NewExceptionResponse builds an exception response to req.
func NewExceptionResponse(req *Request, ec ExceptionCode) *Response {
	return &Response{
		TransactionID: req.TransactionID,
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode | exceptionBit,
		Payload:       []byte{byte(ec)},
		Exception:     true,
	}
}

// DecodeResponse validates a complete response ADU. Exception responses
// must carry exactly one exception code byte.
func DecodeResponse(adu []byte) (*Response, error) {
	h, fc, payload, err := decodeADU(adu)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		TransactionID: h.TransactionID,
		UnitID:        h.UnitID,
		FunctionCode:  fc,
		Payload:       payload,
		Exception:     fc&exceptionBit != 0,
	}
	if resp.Exception && len(payload) != 1 {
		return nil, fmt.Errorf("%w: exception payload of %d bytes", ErrInvalidResponse, len(payload))
	}
	return resp, nil
}

// ExceptionCode returns the exception carried by an exception response.
func (r *Response) ExceptionCode() ExceptionCode {
	if !r.Exception || len(r.Payload) == 0 {
		return 0
	}
	return ExceptionCode(r.Payload[0])
}

// Err returns the exception as a *ModbusError, or nil for a normal response.
func (r *Response) Err() error {
	if !r.Exception {
		return nil
	}
	return NewModbusError(r.FunctionCode&^exceptionBit, r.ExceptionCode())
}

// Registers decodes the byte count and values of an FC03/FC04 response.
func (r *Response) Registers(qty uint16) ([]uint16, error) {
	if r.Exception {
		return nil, r.Err()
	}
	return registerValues(r.Payload, qty)
}

// Encode serializes the response into a wire-ready ADU.
func (r *Response) Encode() []byte {
	return encodeADU(r.TransactionID, r.UnitID, r.FunctionCode, r.Payload)
}

// answers reports why resp cannot be the reply to req, or nil if it is.
func (r *Request) answers(resp *Response) error {
	switch {
	case resp.TransactionID != r.TransactionID:
		return fmt.Errorf("%w: transaction ID %d, sent %d", ErrInvalidResponse, resp.TransactionID, r.TransactionID)
	case resp.UnitID != r.UnitID:
		return fmt.Errorf("%w: unit ID %d, sent %d", ErrInvalidResponse, resp.UnitID, r.UnitID)
	case resp.FunctionCode&^exceptionBit != r.FunctionCode:
		return fmt.Errorf("%w: function code %02X, sent %02X", ErrInvalidResponse, uint8(resp.FunctionCode), uint8(r.FunctionCode))
	}
	return nil
}

func encodeADU(txID uint16, unitID UnitID, fc FunctionCode, payload []byte) []byte {
	buf := make([]byte, MBAPHeaderSize+1+len(payload))
	h := MBAPHeader{
		TransactionID: txID,
		ProtocolID:    ProtocolID,
		Length:        uint16(2 + len(payload)), // unit id + function code + payload
		UnitID:        unitID,
	}
	h.put(buf)
	buf[MBAPHeaderSize] = byte(fc)
	copy(buf[MBAPHeaderSize+1:], payload)
	return buf
}

// decodeADU checks the protocol identifier and that the length field
// matches the frame, then splits off a copy of the payload.
func decodeADU(adu []byte) (MBAPHeader, FunctionCode, []byte, error) {
	var h MBAPHeader
	if err := h.Decode(adu); err != nil {
		return h, 0, nil, err
	}
	if h.ProtocolID != ProtocolID {
		return h, 0, nil, fmt.Errorf("%w: got %d", ErrProtocolMismatch, h.ProtocolID)
	}
	if h.Length < 2 || len(adu) != MBAPHeaderSize+int(h.Length)-1 {
		return h, 0, nil, fmt.Errorf("%w: length field %d does not match %d byte frame", ErrInvalidFrame, h.Length, len(adu))
	}
	payload := make([]byte, len(adu)-MBAPHeaderSize-1)
	copy(payload, adu[MBAPHeaderSize+1:])
	return h, FunctionCode(adu[MBAPHeaderSize]), payload, nil
}

// readPayload encodes the start address and quantity of a register read.
func readPayload(addr, qty uint16) ([]byte, error) {
	if qty < 1 || qty > MaxQuantityRegisters {
		return nil, fmt.Errorf("%w: quantity must be 1-%d", ErrInvalidQuantity, MaxQuantityRegisters)
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return nil, fmt.Errorf("%w: address range exceeds 65535", ErrInvalidAddress)
	}
	return registerPair(addr, qty), nil
}

func registerPair(a, b uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], a)
	binary.BigEndian.PutUint16(buf[2:4], b)
	return buf
}

// registerValues decodes a byte count followed by qty big-endian registers.
func registerValues(data []byte, qty uint16) ([]uint16, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	n := int(data[0])
	if n != int(qty)*2 || len(data) != 1+n {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrInvalidResponse, n, qty)
	}
	values := make([]uint16, qty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[1+i*2:])
	}
	return values, nil
}

func buildRegisterReadPDU(fc FunctionCode, addr, qty uint16) ([]byte, error) {
	payload, err := readPayload(addr, qty)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(fc)}, payload...), nil
}

// BuildReadHoldingRegistersPDU builds a PDU for reading holding registers (FC03).
func BuildReadHoldingRegistersPDU(addr, qty uint16) ([]byte, error) {
	return buildRegisterReadPDU(FuncReadHoldingRegisters, addr, qty)
}

// BuildReadInputRegistersPDU builds a PDU for reading input registers (FC04).
func BuildReadInputRegistersPDU(addr, qty uint16) ([]byte, error) {
	return buildRegisterReadPDU(FuncReadInputRegisters, addr, qty)
}

// BuildWriteSingleRegisterPDU builds a PDU for writing a single register (FC06).
func BuildWriteSingleRegisterPDU(addr, value uint16) []byte {
	return append([]byte{byte(FuncWriteSingleRegister)}, registerPair(addr, value)...)
}

// ParseRegistersResponse parses an FC03/FC04 response PDU and returns the values.
func ParseRegistersResponse(pdu []byte, qty uint16) ([]uint16, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	return registerValues(pdu[1:], qty)
}
