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
	"context"
	"net"
	"time"

	"github.com/edgeo-scada/modbus-bridge/internal/transport"
)

// DefaultWriteTimeout bounds how long a response write may block Poll.
const DefaultWriteTimeout = transport.DefaultWriteTimeout

// TCPTransport is the Transport used to serve real TCP clients. Accept is
// non-blocking and each accepted socket is drained by its own reader
// goroutine, so Poll never waits on the network except for a bounded write.
type TCPTransport struct {
	listener *transport.Listener
}

// TCPOption configures a TCPTransport.
type TCPOption func(*TCPTransport)

// WithWriteTimeout bounds each response write. A client that stops reading
// for longer is disconnected by the engine. Zero selects DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) TCPOption {
	return func(t *TCPTransport) {
		t.listener.SetWriteTimeout(d)
	}
}

// NewTCPTransport creates a transport that will listen on addr.
func NewTCPTransport(addr string, opts ...TCPOption) *TCPTransport {
	t := &TCPTransport{
		listener: transport.NewListener(addr),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Listen binds the listening socket.
func (t *TCPTransport) Listen(ctx context.Context) error {
	return t.listener.Listen(ctx)
}

// Accept returns a pending client, or (nil, nil) when none is waiting.
func (t *TCPTransport) Accept() (ClientConn, error) {
	conn, err := t.listener.Accept()
	if err != nil || conn == nil {
		return nil, err
	}
	return conn, nil
}

// Addr returns the bound address, or nil before Listen.
func (t *TCPTransport) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops listening. An accepted client stays open.
func (t *TCPTransport) Close() error {
	return t.listener.Close()
}
