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
	"log/slog"
	"time"
)

// Dispatcher executes decoded requests against a RegisterGateway.
type Dispatcher struct {
	gateway RegisterGateway
	logger  *slog.Logger
	metrics *EngineMetrics
}

// NewDispatcher creates a dispatcher. A nil gateway fails every register
// access; nil logger and metrics fall back to slog.Default and a fresh
// EngineMetrics.
func NewDispatcher(gateway RegisterGateway, logger *slog.Logger, metrics *EngineMetrics) *Dispatcher {
	if gateway == nil {
		gateway = GatewayFuncs{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewEngineMetrics()
	}
	return &Dispatcher{
		gateway: gateway,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch executes req and returns the response to send. It always returns
// a response; application-level failures become exception responses.
func (d *Dispatcher) Dispatch(req *Request) *Response {
	start := timeNow()

	d.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(req.TransactionID)),
		slog.Uint64("unit_id", uint64(req.UnitID)),
		slog.String("func", req.FunctionCode.String()))

	var resp *Response
	switch req.FunctionCode {
	case FuncReadHoldingRegisters:
		resp = d.readRegisters(req, d.gateway.ReadHolding)
	case FuncReadInputRegisters:
		resp = d.readRegisters(req, d.gateway.ReadInput)
	case FuncWriteSingleRegister:
		resp = d.writeSingleRegister(req)
	default:
		resp = NewExceptionResponse(req, ExceptionIllegalFunction)
	}

	d.record(req, resp, timeNow().Sub(start))
	return resp
}

func (d *Dispatcher) readRegisters(req *Request, read func(uint16) (uint16, bool)) *Response {
	if len(req.Payload) < 4 {
		return NewExceptionResponse(req, ExceptionIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(req.Payload[0:2])
	qty := binary.BigEndian.Uint16(req.Payload[2:4])

	if qty < 1 || qty > MaxQuantityRegisters {
		return NewExceptionResponse(req, ExceptionIllegalDataValue)
	}

	// Check for address overflow
	if uint32(addr)+uint32(qty) > 65536 {
		return NewExceptionResponse(req, ExceptionIllegalDataAddress)
	}

	payload := make([]byte, 1+qty*2)
	payload[0] = byte(qty * 2)
	for i := uint16(0); i < qty; i++ {
		v, ok := read(addr + i)
		if !ok {
			d.logger.Debug("register read failed",
				slog.String("func", req.FunctionCode.String()),
				slog.Uint64("addr", uint64(addr+i)))
			return NewExceptionResponse(req, ExceptionIllegalDataAddress)
		}
		binary.BigEndian.PutUint16(payload[1+i*2:], v)
	}
	return NewResponse(req, payload)
}

func (d *Dispatcher) writeSingleRegister(req *Request) *Response {
	if len(req.Payload) < 4 {
		return NewExceptionResponse(req, ExceptionIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(req.Payload[0:2])
	value := binary.BigEndian.Uint16(req.Payload[2:4])

	if !d.gateway.WriteHolding(addr, value) {
		d.logger.Debug("register write failed",
			slog.Uint64("addr", uint64(addr)),
			slog.Uint64("value", uint64(value)))
		return NewExceptionResponse(req, ExceptionIllegalDataAddress)
	}

	// Echo request as response (copy to avoid sharing slice)
	echo := make([]byte, 4)
	copy(echo, req.Payload[:4])
	return NewResponse(req, echo)
}

func (d *Dispatcher) record(req *Request, resp *Response, elapsed time.Duration) {
	fm := d.metrics.ForFunction(req.FunctionCode)
	fm.Requests.Add(1)
	fm.Latency.Observe(elapsed)
	d.metrics.Latency.Observe(elapsed)

	if resp.Exception {
		fm.Exceptions.Add(1)
		d.metrics.RequestsExceptions.Add(1)
		d.metrics.ForException(resp.ExceptionCode()).Add(1)
		return
	}
	d.metrics.RequestsSuccess.Add(1)
}
