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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgeo-scada/modbus-bridge/internal/transport"
)

// Client is a Modbus TCP client limited to the register functions the
// engine serves.
type Client struct {
	addr   string
	unitID UnitID
	opts   *clientOptions

	dialer  *transport.Dialer
	txIDGen TransactionIDGenerator

	mu      sync.Mutex
	state   ClientState
	closed  bool
	metrics *Metrics
	logger  *slog.Logger
}

// NewClient creates a new Modbus TCP client.
func NewClient(addr string, opts ...ClientOption) (*Client, error) {
	if addr == "" {
		return nil, errors.New("modbus: address cannot be empty")
	}

	options := defaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Client{
		addr:    addr,
		unitID:  options.unitID,
		opts:    options,
		dialer:  transport.NewDialer(addr, options.timeout),
		state:   ClientDisconnected,
		metrics: NewMetrics(),
		logger:  options.logger,
	}, nil
}

// Connect establishes a connection to the Modbus server.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.state == ClientConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = ClientConnecting
	c.mu.Unlock()

	c.logger.Debug("connecting", slog.String("addr", c.addr))

	if err := c.dialer.Connect(ctx); err != nil {
		c.mu.Lock()
		c.state = ClientDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.state = ClientConnected
	c.metrics.ActiveConns.Add(1)
	c.mu.Unlock()

	c.logger.Info("connected", slog.String("addr", c.addr))
	return nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.state == ClientConnected {
		c.metrics.ActiveConns.Add(-1)
	}
	c.state = ClientDisconnected
	c.mu.Unlock()

	c.logger.Debug("closing connection", slog.String("addr", c.addr))
	return c.dialer.Close()
}

// State returns the current connection state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.State() == ClientConnected
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// SetUnitID sets the default unit ID for subsequent requests.
func (c *Client) SetUnitID(id UnitID) {
	c.mu.Lock()
	c.unitID = id
	c.mu.Unlock()
}

// UnitID returns the current default unit ID.
func (c *Client) UnitID() UnitID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unitID
}

// Address returns the server address.
func (c *Client) Address() string {
	return c.addr
}

// roundTrip sends one request carrying payload under the current unit ID
// and returns its validated reply. Exception replies come back as a
// *ModbusError.
func (c *Client) roundTrip(ctx context.Context, fc FunctionCode, payload []byte) (*Response, error) {
	c.mu.Lock()
	unitID := c.unitID
	connected := c.state == ClientConnected
	c.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}

	req := &Request{
		TransactionID: c.txIDGen.Next(),
		UnitID:        unitID,
		FunctionCode:  fc,
		Payload:       payload,
	}
	log := c.logger.With(
		slog.Uint64("tx_id", uint64(req.TransactionID)),
		slog.String("func", fc.String()))

	fm := c.metrics.ForFunction(fc)
	c.metrics.RequestsTotal.Add(1)
	fm.Requests.Add(1)
	start := timeNow()

	resp, err := c.exchange(ctx, req)
	if err == nil && resp.Exception {
		fm.Exceptions.Add(1)
		err = resp.Err()
	}
	if err != nil {
		c.metrics.RequestsErrors.Add(1)
		log.Debug("request failed", slog.String("error", err.Error()))
		return nil, err
	}

	duration := timeNow().Sub(start)
	c.metrics.RequestsSuccess.Add(1)
	c.metrics.Latency.Observe(duration)
	fm.Latency.Observe(duration)
	log.Debug("request done", slog.Duration("duration", duration))
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, req *Request) (*Response, error) {
	raw, err := c.dialer.Send(ctx, req.Encode())
	if err != nil {
		if !c.dialer.IsConnected() {
			c.markDisconnected(err)
		}
		return nil, err
	}
	resp, err := DecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	if err := req.answers(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) markDisconnected(err error) {
	c.mu.Lock()
	if c.state == ClientConnected {
		c.metrics.ActiveConns.Add(-1)
	}
	c.state = ClientDisconnected
	c.mu.Unlock()

	c.logger.Warn("disconnected", slog.String("error", err.Error()))
}

func (c *Client) readRegisters(ctx context.Context, fc FunctionCode, addr, qty uint16) ([]uint16, error) {
	payload, err := readPayload(addr, qty)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, fc, payload)
	if err != nil {
		return nil, err
	}
	return resp.Registers(qty)
}

// ReadHoldingRegisters reads holding registers from the server (FC03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.readRegisters(ctx, FuncReadHoldingRegisters, addr, qty)
}

// ReadInputRegisters reads input registers from the server (FC04).
func (c *Client) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.readRegisters(ctx, FuncReadInputRegisters, addr, qty)
}

// WriteSingleRegister writes a single holding register (FC06). The server
// must echo the request payload.
func (c *Client) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	payload := registerPair(addr, value)
	resp, err := c.roundTrip(ctx, FuncWriteSingleRegister, payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(resp.Payload, payload) {
		return fmt.Errorf("%w: write echo %x, sent %x", ErrInvalidResponse, resp.Payload, payload)
	}
	return nil
}
