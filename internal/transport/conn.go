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
	"net"
	"sync"
	"time"
)

const (
	// DefaultReadBuffer bounds the bytes a Conn holds for its reader.
	DefaultReadBuffer = 4096

	// DefaultWriteTimeout bounds a single Write. A response is at most one
	// ADU, so only a peer that stopped reading can hold a write this long.
	DefaultWriteTimeout = 500 * time.Millisecond

	chunkSize = 512
)

// Conn wraps a net.Conn so that received bytes can be inspected and read
// without blocking. A background goroutine moves bytes from the socket into
// a bounded buffer; when the buffer is full it stops reading and the peer
// is held back by TCP flow control.
type Conn struct {
	conn         net.Conn
	remote       string
	limit        int
	writeTimeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	readErr error
	closed  bool
}

// NewConn starts pumping conn. limit bounds the internal buffer; zero
// selects DefaultReadBuffer.
func NewConn(conn net.Conn, limit int) *Conn {
	if limit <= 0 {
		limit = DefaultReadBuffer
	}
	c := &Conn{
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		limit:        limit,
		writeTimeout: DefaultWriteTimeout,
	}
	c.cond = sync.NewCond(&c.mu)
	go c.pump()
	return c
}

func (c *Conn) pump() {
	chunk := make([]byte, chunkSize)
	for {
		c.mu.Lock()
		for len(c.buf) >= c.limit && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		room := c.limit - len(c.buf)
		c.mu.Unlock()

		if room > len(chunk) {
			room = len(chunk)
		}
		n, err := c.conn.Read(chunk[:room])

		c.mu.Lock()
		c.buf = append(c.buf, chunk[:n]...)
		if err != nil {
			c.readErr = err
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

// Available returns the number of received bytes not yet read.
func (c *Conn) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Read copies buffered bytes into p. It returns (0, nil) when nothing has
// arrived yet, and the socket error (io.EOF for an orderly close) once the
// peer is gone and the buffer is drained.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		if c.closed {
			return 0, net.ErrClosed
		}
		return 0, c.readErr
	}
	n := copy(p, c.buf)
	rest := copy(c.buf, c.buf[n:])
	c.buf = c.buf[:rest]
	c.cond.Signal()
	return n, nil
}

// SetWriteTimeout changes the deadline applied to each Write. Zero or less
// restores DefaultWriteTimeout. Call it before the first Write.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	c.writeTimeout = d
}

// Write writes p to the socket, bounded by the write timeout.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return 0, err
	}
	return c.conn.Write(p)
}

// Connected reports whether the peer is still there as far as the reader
// goroutine knows.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.readErr == nil
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Close closes the socket and stops the reader goroutine.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	return c.conn.Close()
}

