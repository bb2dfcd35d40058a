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

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// acceptWait is how long Accept lets the kernel hand over a pending
// connection before reporting that none is waiting.
const acceptWait = time.Millisecond

// ErrNotListening is returned by Accept before Listen or after Close.
var ErrNotListening = errors.New("not listening")

// Listener accepts TCP connections without blocking the caller.
type Listener struct {
	addr         string
	writeTimeout time.Duration

	mu sync.Mutex
	ln *net.TCPListener
}

// NewListener creates a listener for addr. Nothing is bound until Listen.
func NewListener(addr string) *Listener {
	return &Listener{addr: addr}
}

// SetWriteTimeout sets the write timeout of connections accepted from now
// on. Zero or less selects DefaultWriteTimeout.
func (l *Listener) SetWriteTimeout(d time.Duration) {
	l.mu.Lock()
	l.writeTimeout = d
	l.mu.Unlock()
}

// Listen binds the listening socket.
func (l *Listener) Listen(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return nil
	}

	lc := net.ListenConfig{KeepAlive: keepAlivePeriod}
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("tcp listen: unexpected listener %T", ln)
	}
	l.ln = tcpLn
	return nil
}

// Accept returns a pending connection, or (nil, nil) when none is waiting.
func (l *Listener) Accept() (*Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil, ErrNotListening
	}

	if err := l.ln.SetDeadline(time.Now().Add(acceptWait)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}

	configure(conn)
	c := NewConn(conn, 0)
	c.SetWriteTimeout(l.writeTimeout)
	return c, nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close stops listening. Connections already accepted stay open.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	return err
}
