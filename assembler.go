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
)

// AssemblerState is the framing state of a FrameAssembler.
type AssemblerState int

const (
	// WaitingForHeader means fewer than MBAPHeaderSize bytes are buffered.
	WaitingForHeader AssemblerState = iota
	// WaitingForPayload means the header is known but the PDU is incomplete.
	WaitingForPayload
	// FrameReady means at least one complete ADU is buffered.
	FrameReady
)

// String returns the string representation of the assembler state.
func (s AssemblerState) String() string {
	switch s {
	case WaitingForHeader:
		return "waiting-for-header"
	case WaitingForPayload:
		return "waiting-for-payload"
	case FrameReady:
		return "ready"
	default:
		return "unknown"
	}
}

// maxBuffered bounds how many unconsumed bytes a peer may queue up.
const maxBuffered = 4 * MaxADUSize

// FrameAssembler turns an arbitrarily chunked byte stream into complete
// Modbus TCP ADUs. Frame boundaries are taken from the MBAP length field, so
// split and coalesced segments are both handled and bytes belonging to the
// next frame are never consumed early.
//
// A FrameAssembler is not safe for concurrent use.
type FrameAssembler struct {
	buf   []byte
	state AssemblerState
	need  int // total size of the frame at the head of buf, 0 if unknown
}

// NewFrameAssembler creates an empty assembler.
func NewFrameAssembler() *FrameAssembler {
	return &FrameAssembler{
		buf: make([]byte, 0, MaxADUSize),
	}
}

// Feed appends newly received bytes.
func (a *FrameAssembler) Feed(p []byte) error {
	if len(a.buf)+len(p) > maxBuffered {
		return fmt.Errorf("%w: %d bytes buffered, %d more received", ErrBufferOverflow, len(a.buf), len(p))
	}
	a.buf = append(a.buf, p...)
	return nil
}

// Free returns how many more bytes can be fed before the buffer overflows.
func (a *FrameAssembler) Free() int {
	return maxBuffered - len(a.buf)
}

// Next returns the next complete ADU, or nil if more bytes are needed.
// The returned slice is a copy and remains valid after further calls.
// An invalid length field yields ErrInvalidLength; the stream cannot be
// resynchronized after that and the caller should drop the connection.
func (a *FrameAssembler) Next() ([]byte, error) {
	if a.need == 0 {
		if len(a.buf) < MBAPHeaderSize {
			a.state = WaitingForHeader
			return nil, nil
		}
		total, err := frameLength(binary.BigEndian.Uint16(a.buf[4:6]))
		if err != nil {
			return nil, err
		}
		a.need = total
	}

	if len(a.buf) < a.need {
		a.state = WaitingForPayload
		return nil, nil
	}

	a.state = FrameReady
	adu := make([]byte, a.need)
	copy(adu, a.buf[:a.need])

	// Shift the remainder to the front so the backing array is reused.
	n := copy(a.buf, a.buf[a.need:])
	a.buf = a.buf[:n]
	a.need = 0
	return adu, nil
}

// State returns the state observed by the most recent call to Next.
func (a *FrameAssembler) State() AssemblerState {
	return a.state
}

// Buffered returns the number of bytes not yet returned by Next.
func (a *FrameAssembler) Buffered() int {
	return len(a.buf)
}

// Pending reports whether a partial frame is buffered.
func (a *FrameAssembler) Pending() bool {
	return len(a.buf) > 0
}

// Reset discards all buffered bytes.
func (a *FrameAssembler) Reset() {
	a.buf = a.buf[:0]
	a.need = 0
	a.state = WaitingForHeader
}
