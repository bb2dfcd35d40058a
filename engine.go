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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgeo-scada/modbus-bridge/internal/transport"
)

// DefaultPollInterval is the interval Run uses when none is given.
const DefaultPollInterval = 10 * time.Millisecond

// Engine is a single-client Modbus TCP server driven by Poll. It owns no
// goroutines; every step of accepting, reading, dispatching and replying
// happens inside Poll on the caller's goroutine.
//
// Poll, Start and Stop must be called from one goroutine. State, Enabled,
// Addr, ClientAddr and Status may be called from any goroutine.
type Engine struct {
	transport  Transport
	opts       *engineOptions
	dispatcher *Dispatcher
	metrics    *EngineMetrics
	assembler  *FrameAssembler
	readBuf    []byte

	client ClientConn
	lastRx time.Time

	mu          sync.Mutex
	state       ConnState
	session     string
	remote      string
	connectedAt time.Time
}

// EngineStatus is a point-in-time snapshot of an Engine.
type EngineStatus struct {
	State       ConnState
	Addr        string
	Client      string
	Session     string
	ConnectedAt time.Time
}

// NewEngine creates an engine serving gateway over transport. The engine is
// idle until Start is called.
func NewEngine(gateway RegisterGateway, transport Transport, opts ...EngineOption) *Engine {
	options := defaultEngineOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.metrics == nil {
		options.metrics = NewEngineMetrics()
	}

	return &Engine{
		transport:  transport,
		opts:       options,
		dispatcher: NewDispatcher(gateway, options.logger, options.metrics),
		metrics:    options.metrics,
		assembler:  NewFrameAssembler(),
		readBuf:    make([]byte, maxBuffered),
		state:      StateIdle,
	}
}

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *EngineMetrics {
	return e.metrics
}

// Start begins listening for a client.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return ErrAlreadyStarted
	}
	if err := e.transport.Listen(ctx); err != nil {
		return fmt.Errorf("modbus: listen: %w", err)
	}
	e.state = StateListening

	attrs := []any{}
	if addr := e.transport.Addr(); addr != nil {
		attrs = append(attrs, slog.String("addr", addr.String()))
	}
	e.opts.logger.Info("engine started", attrs...)
	return nil
}

// Stop disconnects the current client, if any, and stops listening.
// Calling Stop on an idle engine is a no-op.
func (e *Engine) Stop() error {
	if e.State() == StateIdle {
		return nil
	}

	if e.client != nil {
		e.drop(nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.transport.Close()
	e.state = StateIdle
	e.opts.logger.Info("engine stopped")
	return err
}

// Enabled reports whether the engine has been started and not stopped.
func (e *Engine) Enabled() bool {
	return e.State() != StateIdle
}

// State returns the current connection state.
func (e *Engine) State() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Addr returns the listening address, or nil when the engine is idle.
func (e *Engine) Addr() net.Addr {
	if !e.Enabled() {
		return nil
	}
	return e.transport.Addr()
}

// ClientAddr returns the remote address of the connected client, or an
// empty string when no client is attached.
func (e *Engine) ClientAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := EngineStatus{
		State:       e.state,
		Client:      e.remote,
		Session:     e.session,
		ConnectedAt: e.connectedAt,
	}
	if e.state != StateIdle {
		if addr := e.transport.Addr(); addr != nil {
			st.Addr = addr.String()
		}
	}
	return st
}

// Poll performs one non-blocking service step: accept a client if none is
// attached, read what it has sent, and answer every complete request in
// arrival order. Client failures are handled here by dropping the client
// and a failed accept is logged and retried on the next poll. Poll only
// returns an error for a stopped engine, a cancelled context or a listener
// that has been closed underneath it.
func (e *Engine) Poll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.Enabled() {
		return ErrNotStarted
	}

	if e.client == nil {
		c, err := e.transport.Accept()
		if err != nil {
			if listenerClosed(err) {
				return fmt.Errorf("modbus: accept: %w", err)
			}
			e.metrics.AcceptErrors.Add(1)
			e.opts.logger.Error("accept error", slog.String("error", err.Error()))
			return nil
		}
		if c == nil {
			return nil
		}
		e.attach(c)
	}

	e.service()
	return nil
}

// Run calls Poll every interval until ctx is done, then stops the engine.
// The engine must already be started.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	defer e.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// listenerClosed reports whether an accept error means the listener is gone
// rather than a single connection failing.
func listenerClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, transport.ErrNotListening)
}

func (e *Engine) attach(c ClientConn) {
	now := timeNow()
	session := uuid.NewString()

	e.client = c
	e.lastRx = now
	e.assembler.Reset()

	e.mu.Lock()
	e.state = StateAccumulating
	e.session = session
	e.remote = c.RemoteAddr()
	e.connectedAt = now
	e.mu.Unlock()

	e.metrics.ConnectionsAccepted.Add(1)
	e.metrics.ActiveConns.Add(1)

	e.opts.logger.Info("client connected",
		slog.String("remote", c.RemoteAddr()),
		slog.String("session", session))

	if e.opts.onConnect != nil {
		e.opts.onConnect(session, c.RemoteAddr())
	}
}

func (e *Engine) service() {
	c := e.client
	defer func() {
		// Recover from panic to keep the engine polling
		if r := recover(); r != nil {
			e.opts.logger.Error("panic while serving client",
				slog.String("remote", c.RemoteAddr()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			if e.client != nil {
				e.drop(fmt.Errorf("modbus: panic: %v", r))
			}
		}
	}()

	if !c.Connected() && c.Available() == 0 {
		e.drop(nil)
		return
	}

	now := timeNow()
	if err := e.fill(c, now); err != nil {
		e.drop(err)
		return
	}
	if err := e.serve(c); err != nil {
		e.drop(err)
		return
	}

	if e.opts.frameTimeout > 0 && e.assembler.Pending() && now.Sub(e.lastRx) > e.opts.frameTimeout {
		e.drop(fmt.Errorf("%w: %d bytes pending", ErrFrameTimeout, e.assembler.Buffered()))
		return
	}
	if e.opts.idleTimeout > 0 && now.Sub(e.lastRx) > e.opts.idleTimeout {
		e.drop(ErrIdleTimeout)
	}
}

// fill moves at most one buffer's worth of received bytes into the
// assembler. Anything beyond that stays with the client for the next poll.
func (e *Engine) fill(c ClientConn, now time.Time) error {
	avail := c.Available()
	if avail == 0 {
		return nil
	}
	n := e.assembler.Free()
	if avail < n {
		n = avail
	}
	if n == 0 {
		return fmt.Errorf("%w: %d bytes waiting", ErrBufferOverflow, avail)
	}

	got, err := c.Read(e.readBuf[:n])
	if got > 0 {
		e.metrics.BytesIn.Add(int64(got))
		e.lastRx = now
		if ferr := e.assembler.Feed(e.readBuf[:got]); ferr != nil {
			return ferr
		}
	}
	if err != nil {
		return fmt.Errorf("modbus: read: %w", err)
	}
	return nil
}

// serve answers every complete ADU currently buffered, oldest first.
func (e *Engine) serve(c ClientConn) error {
	for {
		adu, err := e.assembler.Next()
		if err != nil {
			return err
		}
		if adu == nil {
			return nil
		}
		e.metrics.FramesReceived.Add(1)
		e.setState(StateReady)

		req, err := DecodeRequest(adu)
		if err != nil {
			return err
		}

		out := e.dispatcher.Dispatch(req).Encode()
		if _, err := c.Write(out); err != nil {
			return fmt.Errorf("modbus: write: %w", err)
		}
		e.metrics.BytesOut.Add(int64(len(out)))
		e.setState(StateAccumulating)
	}
}

// drop closes the current client without sending anything and returns the
// engine to listening.
func (e *Engine) drop(err error) {
	c := e.client
	e.setState(StateClosing)

	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	attrs := []any{
		slog.String("remote", c.RemoteAddr()),
		slog.String("session", session),
	}
	switch {
	case err == nil:
		e.opts.logger.Info("client disconnected", attrs...)
	case isFramingError(err):
		e.metrics.ProtocolErrors.Add(1)
		e.opts.logger.Warn("dropping client",
			append(attrs, slog.String("error", err.Error()))...)
	case isTimeoutError(err):
		e.metrics.Timeouts.Add(1)
		e.opts.logger.Info("dropping client",
			append(attrs, slog.String("error", err.Error()))...)
	default:
		e.opts.logger.Debug("dropping client",
			append(attrs, slog.String("error", err.Error()))...)
	}

	c.Close()
	e.assembler.Reset()
	e.client = nil
	e.metrics.ConnectionsClosed.Add(1)
	e.metrics.ActiveConns.Add(-1)

	e.mu.Lock()
	e.state = StateListening
	e.session = ""
	e.remote = ""
	e.connectedAt = time.Time{}
	e.mu.Unlock()

	if e.opts.onDisconnect != nil {
		e.opts.onDisconnect(session, c.RemoteAddr(), err)
	}
}

func (e *Engine) setState(s ConnState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// timeNow is a variable for testing
var timeNow = time.Now
