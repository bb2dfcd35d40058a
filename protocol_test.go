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
	"bytes"
	"errors"
	"testing"
)

func TestMBAPHeader_Encode(t *testing.T) {
	header := MBAPHeader{
		TransactionID: 0x0001,
		ProtocolID:    0x0000,
		Length:        0x0006,
		UnitID:        0x01,
	}

	expected := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01}
	result := header.Encode()

	if !bytes.Equal(result, expected) {
		t.Errorf("Expected %x, got %x", expected, result)
	}
}

func TestMBAPHeader_Decode(t *testing.T) {
	data := []byte{0x12, 0x34, 0x00, 0x00, 0x00, 0x06, 0xFF}

	var header MBAPHeader
	if err := header.Decode(data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if header.TransactionID != 0x1234 {
		t.Errorf("TransactionID: expected 0x1234, got 0x%04X", header.TransactionID)
	}
	if header.Length != 0x0006 {
		t.Errorf("Length: expected 0x0006, got 0x%04X", header.Length)
	}
	if header.UnitID != 0xFF {
		t.Errorf("UnitID: expected 0xFF, got 0x%02X", header.UnitID)
	}
}

func TestMBAPHeader_Decode_TooShort(t *testing.T) {
	var header MBAPHeader
	if err := header.Decode([]byte{0x00, 0x01, 0x00}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestFrameLength(t *testing.T) {
	tests := []struct {
		length uint16
		total  int
		ok     bool
	}{
		{0, 0, false},
		{1, 7, true},
		{6, 12, true},
		{254, MaxADUSize, true},
		{255, 0, false},
		{0xFFFF, 0, false},
	}

	for _, tt := range tests {
		total, err := frameLength(tt.length)
		if tt.ok {
			if err != nil {
				t.Errorf("frameLength(%d): unexpected error %v", tt.length, err)
			} else if total != tt.total {
				t.Errorf("frameLength(%d): expected %d, got %d", tt.length, tt.total, total)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidLength) {
			t.Errorf("frameLength(%d): expected ErrInvalidLength, got %v", tt.length, err)
		}
	}
}

func TestFrame_EncodeDecode(t *testing.T) {
	frame := Frame{
		Header: MBAPHeader{TransactionID: 0x0001, UnitID: 0x01},
		PDU:    []byte{0x03, 0x00, 0x00, 0x00, 0x0A},
	}

	data := frame.Encode()
	if actual := int(data[4])<<8 | int(data[5]); actual != len(frame.PDU)+1 {
		t.Errorf("Length: expected %d, got %d", len(frame.PDU)+1, actual)
	}

	var decoded Frame
	if err := decoded.Decode(data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded.PDU, frame.PDU) {
		t.Errorf("PDU: expected %x, got %x", frame.PDU, decoded.PDU)
	}
}

func TestDecodeRequest(t *testing.T) {
	adu := []byte{
		0x00, 0x2A, // Transaction ID
		0x00, 0x00, // Protocol ID
		0x00, 0x06, // Length
		0x11,                         // Unit ID
		0x03, 0x00, 0x6B, 0x00, 0x03, // PDU
	}

	req, err := DecodeRequest(adu)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}

	if req.TransactionID != 0x002A {
		t.Errorf("TransactionID: expected 0x002A, got 0x%04X", req.TransactionID)
	}
	if req.UnitID != 0x11 {
		t.Errorf("UnitID: expected 0x11, got 0x%02X", req.UnitID)
	}
	if req.FunctionCode != FuncReadHoldingRegisters {
		t.Errorf("FunctionCode: expected %v, got %v", FuncReadHoldingRegisters, req.FunctionCode)
	}
	expected := []byte{0x00, 0x6B, 0x00, 0x03}
	if !bytes.Equal(req.Payload, expected) {
		t.Errorf("Payload: expected %x, got %x", expected, req.Payload)
	}

	// The payload must not alias the input buffer
	adu[8] = 0xFF
	if req.Payload[0] != 0x00 {
		t.Error("Payload shares memory with the ADU")
	}
}

func TestDecodeRequest_ProtocolMismatch(t *testing.T) {
	adu := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01}

	_, err := DecodeRequest(adu)
	if !errors.Is(err, ErrProtocolMismatch) {
		t.Errorf("Expected ErrProtocolMismatch, got %v", err)
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"short header":    {0x00, 0x01, 0x00},
		"no function":     {0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x01},
		"length too long": {0x00, 0x01, 0x00, 0x00, 0x00, 0x08, 0x01, 0x03, 0x00},
		"trailing bytes":  {0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x01, 0x03, 0x00},
	}

	for name, adu := range tests {
		if _, err := DecodeRequest(adu); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("%s: expected ErrInvalidFrame, got %v", name, err)
		}
	}
}

func TestResponse_Encode(t *testing.T) {
	req := &Request{TransactionID: 0x0102, UnitID: 0x07, FunctionCode: FuncReadInputRegisters}
	resp := NewResponse(req, []byte{0x02, 0xAB, 0xCD})

	expected := []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x05, 0x07, 0x04, 0x02, 0xAB, 0xCD}
	if got := resp.Encode(); !bytes.Equal(got, expected) {
		t.Errorf("Expected %x, got %x", expected, got)
	}
}

func TestExceptionResponse_Encode(t *testing.T) {
	req := &Request{TransactionID: 0x0005, UnitID: 0x01, FunctionCode: FuncWriteSingleRegister}
	resp := NewExceptionResponse(req, ExceptionIllegalDataAddress)

	if !resp.Exception {
		t.Error("Exception flag not set")
	}
	if resp.ExceptionCode() != ExceptionIllegalDataAddress {
		t.Errorf("ExceptionCode: expected %v, got %v", ExceptionIllegalDataAddress, resp.ExceptionCode())
	}

	expected := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x03, 0x01, 0x86, 0x02}
	if got := resp.Encode(); !bytes.Equal(got, expected) {
		t.Errorf("Expected %x, got %x", expected, got)
	}
}

func TestBuildReadHoldingRegistersPDU(t *testing.T) {
	pdu, err := BuildReadHoldingRegistersPDU(0x006B, 0x0003)
	if err != nil {
		t.Fatalf("BuildReadHoldingRegistersPDU failed: %v", err)
	}

	expected := []byte{0x03, 0x00, 0x6B, 0x00, 0x03}
	if !bytes.Equal(pdu, expected) {
		t.Errorf("Expected %x, got %x", expected, pdu)
	}
}

func TestBuildReadInputRegistersPDU_InvalidQuantity(t *testing.T) {
	if _, err := BuildReadInputRegistersPDU(0, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("qty 0: expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := BuildReadInputRegistersPDU(0, MaxQuantityRegisters+1); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("qty 126: expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := BuildReadInputRegistersPDU(0xFFFF, 2); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("wrap: expected ErrInvalidAddress, got %v", err)
	}
}

func TestBuildWriteSingleRegisterPDU(t *testing.T) {
	pdu := BuildWriteSingleRegisterPDU(0x0001, 0x0003)

	expected := []byte{0x06, 0x00, 0x01, 0x00, 0x03}
	if !bytes.Equal(pdu, expected) {
		t.Errorf("Expected %x, got %x", expected, pdu)
	}
}

func TestParseRegistersResponse(t *testing.T) {
	pdu := []byte{0x03, 0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64}

	values, err := ParseRegistersResponse(pdu, 3)
	if err != nil {
		t.Fatalf("ParseRegistersResponse failed: %v", err)
	}

	expected := []uint16{0x022B, 0x0000, 0x0064}
	for i, v := range expected {
		if values[i] != v {
			t.Errorf("Register[%d]: expected 0x%04X, got 0x%04X", i, v, values[i])
		}
	}

	if _, err := ParseRegistersResponse(pdu, 4); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("Expected ErrInvalidResponse for wrong quantity, got %v", err)
	}
}

func TestRequest_EncodeDecode(t *testing.T) {
	req := &Request{
		TransactionID: 0x0102,
		UnitID:        0x11,
		FunctionCode:  FuncWriteSingleRegister,
		Payload:       []byte{0x00, 0x01, 0x00, 0x03},
	}

	adu := req.Encode()
	expected := []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x06, 0x11, 0x06, 0x00, 0x01, 0x00, 0x03}
	if !bytes.Equal(adu, expected) {
		t.Fatalf("Expected %x, got %x", expected, adu)
	}

	got, err := DecodeRequest(adu)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if got.TransactionID != req.TransactionID || got.UnitID != req.UnitID || got.FunctionCode != req.FunctionCode {
		t.Errorf("Header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, req.Payload) {
		t.Errorf("Payload: expected %x, got %x", req.Payload, got.Payload)
	}
}

func TestDecodeResponse_Registers(t *testing.T) {
	adu := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03, 0x06, 0x02, 0x2B, 0x00, 0x00, 0x00, 0x64}

	resp, err := DecodeResponse(adu)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if resp.Exception || resp.Err() != nil {
		t.Fatalf("Unexpected exception: %v", resp.Err())
	}

	values, err := resp.Registers(3)
	if err != nil {
		t.Fatalf("Registers failed: %v", err)
	}
	expected := []uint16{0x022B, 0x0000, 0x0064}
	for i, v := range expected {
		if values[i] != v {
			t.Errorf("Register[%d]: expected 0x%04X, got 0x%04X", i, v, values[i])
		}
	}

	if _, err := resp.Registers(2); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("Expected ErrInvalidResponse for wrong quantity, got %v", err)
	}
}

func TestDecodeResponse_Exception(t *testing.T) {
	adu := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x02}

	resp, err := DecodeResponse(adu)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if !resp.Exception {
		t.Fatal("Expected exception response")
	}

	err = resp.Err()
	var mbErr *ModbusError
	if !errors.As(err, &mbErr) {
		t.Fatalf("Expected *ModbusError, got %v", err)
	}
	if mbErr.FunctionCode != FuncReadHoldingRegisters {
		t.Errorf("FunctionCode: expected %v, got %v", FuncReadHoldingRegisters, mbErr.FunctionCode)
	}
	if !IsIllegalDataAddress(err) {
		t.Errorf("Expected illegal data address, got %v", err)
	}
	if _, err := resp.Registers(1); !IsIllegalDataAddress(err) {
		t.Errorf("Registers on exception: expected illegal data address, got %v", err)
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		adu  []byte
		want error
	}{
		{"protocol", []byte{0x00, 0x01, 0x00, 0x07, 0x00, 0x03, 0x01, 0x06, 0x00}, ErrProtocolMismatch},
		{"length", []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x01, 0x03, 0x02, 0x00, 0x01}, ErrInvalidFrame},
		{"truncated exception", []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x01, 0x83}, ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse(tt.adu); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRequest_Answers(t *testing.T) {
	req := &Request{TransactionID: 9, UnitID: 1, FunctionCode: FuncReadInputRegisters}

	if err := req.answers(NewResponse(req, nil)); err != nil {
		t.Errorf("Matching response rejected: %v", err)
	}
	if err := req.answers(NewExceptionResponse(req, ExceptionIllegalFunction)); err != nil {
		t.Errorf("Matching exception rejected: %v", err)
	}

	wrongTx := NewResponse(req, nil)
	wrongTx.TransactionID = 10
	wrongUnit := NewResponse(req, nil)
	wrongUnit.UnitID = 2
	wrongFunc := NewResponse(req, nil)
	wrongFunc.FunctionCode = FuncReadHoldingRegisters

	for _, resp := range []*Response{wrongTx, wrongUnit, wrongFunc} {
		if err := req.answers(resp); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("%+v: expected ErrInvalidResponse, got %v", resp, err)
		}
	}
}

func TestTransactionIDGenerator(t *testing.T) {
	var gen TransactionIDGenerator

	first := gen.Next()
	second := gen.Next()
	if second != first+1 {
		t.Errorf("Expected consecutive IDs, got %d then %d", first, second)
	}
}

func TestFunctionCode_String(t *testing.T) {
	tests := map[FunctionCode]string{
		FuncReadHoldingRegisters: "ReadHoldingRegisters",
		FuncReadInputRegisters:   "ReadInputRegisters",
		FuncWriteSingleRegister:  "WriteSingleRegister",
		0x83:                     "ReadHoldingRegisters",
		0x10:                     "Unknown",
	}
	for fc, want := range tests {
		if got := fc.String(); got != want {
			t.Errorf("FunctionCode(0x%02X): expected %q, got %q", uint8(fc), want, got)
		}
	}
}
