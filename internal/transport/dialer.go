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

// Package transport provides the TCP plumbing under the modbus client and
// engine: a request/response Dialer and a non-blocking Listener.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	headerSize = 7
	// maxLength is the largest MBAP length field: unit id plus a 253 byte PDU.
	maxLength = 254

	keepAlivePeriod = 30 * time.Second
)

// ErrNotConnected is returned by Send before Connect or after Close.
var ErrNotConnected = errors.New("not connected")

// Dialer is the client side of a Modbus TCP connection. It sends one
// request at a time and reads back exactly one MBAP framed response.
type Dialer struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewDialer creates a dialer for addr.
func NewDialer(addr string, timeout time.Duration) *Dialer {
	return &Dialer{
		addr:    addr,
		timeout: timeout,
	}
}

// Connect establishes the TCP connection. It is a no-op when connected.
func (d *Dialer) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   d.timeout,
		KeepAlive: keepAlivePeriod,
	}

	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return fmt.Errorf("tcp connect: %w", err)
	}
	configure(conn)

	d.conn = conn
	return nil
}

// Close closes the TCP connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}

	err := d.conn.Close()
	d.conn = nil
	return err
}

// IsConnected returns true if the dialer holds a connection.
func (d *Dialer) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Send writes a request ADU and returns the response ADU. The whole exchange
// runs under the dialer lock; any I/O or framing failure closes the
// connection.
func (d *Dialer) Send(ctx context.Context, adu []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil, ErrNotConnected
	}

	// Set deadline from context or use default timeout
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(d.timeout)
	}
	if err := d.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := d.conn.Write(adu); err != nil {
		d.closeLocked()
		return nil, fmt.Errorf("write: %w", err)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(d.conn, header); err != nil {
		d.closeLocked()
		return nil, fmt.Errorf("read header: %w", err)
	}

	if protocolID := binary.BigEndian.Uint16(header[2:4]); protocolID != 0 {
		d.closeLocked()
		return nil, fmt.Errorf("invalid protocol ID: %d", protocolID)
	}

	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 1 || length > maxLength {
		d.closeLocked()
		return nil, fmt.Errorf("invalid length: %d", length)
	}

	// The unit id is already part of the header
	resp := make([]byte, headerSize+length-1)
	copy(resp, header)
	if _, err := io.ReadFull(d.conn, resp[headerSize:]); err != nil {
		d.closeLocked()
		return nil, fmt.Errorf("read pdu: %w", err)
	}
	return resp, nil
}

// closeLocked closes the connection. Must be called with mu held.
func (d *Dialer) closeLocked() {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

// configure applies the socket options used on both sides of the link.
func configure(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(keepAlivePeriod)
		tcpConn.SetNoDelay(true)
	}
}
