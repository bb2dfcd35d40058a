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
	"log/slog"
	"time"
)

// DefaultFrameTimeout is how long a partial frame may sit in the buffer
// without new bytes before the client is dropped.
const DefaultFrameTimeout = 5 * time.Second

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger       *slog.Logger
	frameTimeout time.Duration
	idleTimeout  time.Duration
	metrics      *EngineMetrics

	// Callbacks
	onConnect    func(session, remote string)
	onDisconnect func(session, remote string, err error)
}

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		logger:       slog.Default(),
		frameTimeout: DefaultFrameTimeout,
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithFrameTimeout sets how long an incomplete frame may wait for more bytes.
// Zero disables the check.
func WithFrameTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.frameTimeout = d
	}
}

// WithIdleTimeout disconnects a client that has sent nothing for d.
// Zero (the default) disables the check.
func WithIdleTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.idleTimeout = d
	}
}

// WithMetrics makes the engine record into m instead of a private instance.
func WithMetrics(m *EngineMetrics) EngineOption {
	return func(o *engineOptions) {
		o.metrics = m
	}
}

// WithOnConnect sets a callback invoked when a client is accepted.
func WithOnConnect(fn func(session, remote string)) EngineOption {
	return func(o *engineOptions) {
		o.onConnect = fn
	}
}

// WithOnDisconnect sets a callback invoked when a client is dropped.
// err is nil when the peer closed the connection or the engine was stopped.
func WithOnDisconnect(fn func(session, remote string, err error)) EngineOption {
	return func(o *engineOptions) {
		o.onDisconnect = fn
	}
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	unitID  UnitID
	timeout time.Duration
	logger  *slog.Logger
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		unitID:  1,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
}

// WithUnitID sets the default unit ID for requests.
func WithUnitID(id UnitID) ClientOption {
	return func(o *clientOptions) {
		o.unitID = id
	}
}

// WithTimeout sets the timeout for operations.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}
