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
)

// Transport is the listening side used by an Engine. Implementations must
// never block in Accept.
type Transport interface {
	// Listen starts listening for connections.
	Listen(ctx context.Context) error
	// Accept returns a pending client, or (nil, nil) when none is waiting.
	Accept() (ClientConn, error)
	// Addr returns the listening address, or nil before Listen.
	Addr() net.Addr
	// Close stops listening. Clients already accepted are not affected.
	Close() error
}

// ClientConn is a single accepted connection as seen by an Engine.
type ClientConn interface {
	// Available returns how many bytes can be read without blocking.
	Available() int
	// Read reads up to len(p) already received bytes. It never blocks and
	// returns an error once the peer is gone and nothing is left to read.
	Read(p []byte) (int, error)
	// Write sends p to the client. It may block for a bounded time only.
	Write(p []byte) (int, error)
	// Connected reports whether the peer is still known to be there.
	Connected() bool
	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
	// Close closes the connection. Calling it twice is harmless.
	Close() error
}
