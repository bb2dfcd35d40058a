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

// Package metrics exports engine metrics in the Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	modbus "github.com/edgeo-scada/modbus-bridge"
)

const namespace = "modbus_bridge"

// StateFunc reports the current engine state.
type StateFunc func() modbus.ConnState

// Collector is a prometheus.Collector reading an EngineMetrics snapshot on
// every scrape.
type Collector struct {
	metrics *modbus.EngineMetrics
	state   StateFunc

	connectionsAccepted *prometheus.Desc
	connectionsClosed   *prometheus.Desc
	activeConns         *prometheus.Desc
	acceptErrors        *prometheus.Desc
	protocolErrors      *prometheus.Desc
	timeouts            *prometheus.Desc
	frames              *prometheus.Desc
	requests            *prometheus.Desc
	exceptions          *prometheus.Desc
	bytes               *prometheus.Desc
	latency             *prometheus.Desc
	connState           *prometheus.Desc
}

// NewCollector creates a collector for m. state may be nil.
func NewCollector(m *modbus.EngineMetrics, state StateFunc) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		metrics:             m,
		state:               state,
		connectionsAccepted: desc("connections_accepted_total", "Client connections accepted."),
		connectionsClosed:   desc("connections_closed_total", "Client connections closed."),
		activeConns:         desc("active_connections", "Currently attached clients (0 or 1)."),
		acceptErrors:        desc("accept_errors_total", "Failed accepts on the Modbus listener."),
		protocolErrors:      desc("protocol_errors_total", "Clients dropped for framing or protocol violations."),
		timeouts:            desc("timeouts_total", "Clients dropped by the frame or idle timeout."),
		frames:              desc("frames_received_total", "Complete request frames received."),
		requests:            desc("requests_total", "Requests dispatched, by function.", "function"),
		exceptions:          desc("exceptions_total", "Exception responses sent, by exception code.", "code"),
		bytes:               desc("bytes_total", "Bytes transferred, by direction.", "direction"),
		latency:             desc("request_duration_seconds", "Request dispatch latency."),
		connState:           desc("connection_state", "Current connection state (1 for the active state).", "state"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectionsAccepted
	ch <- c.connectionsClosed
	ch <- c.activeConns
	ch <- c.acceptErrors
	ch <- c.protocolErrors
	ch <- c.timeouts
	ch <- c.frames
	ch <- c.requests
	ch <- c.exceptions
	ch <- c.bytes
	ch <- c.latency
	ch <- c.connState
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.metrics
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.connectionsAccepted, m.ConnectionsAccepted.Value())
	counter(c.connectionsClosed, m.ConnectionsClosed.Value())
	ch <- prometheus.MustNewConstMetric(c.activeConns, prometheus.GaugeValue, float64(m.ActiveConns.Value()))
	counter(c.acceptErrors, m.AcceptErrors.Value())
	counter(c.protocolErrors, m.ProtocolErrors.Value())
	counter(c.timeouts, m.Timeouts.Value())
	counter(c.frames, m.FramesReceived.Value())
	counter(c.bytes, m.BytesIn.Value(), "in")
	counter(c.bytes, m.BytesOut.Value(), "out")

	m.EachFunction(func(fc modbus.FunctionCode, fm *modbus.FunctionMetrics) {
		counter(c.requests, fm.Requests.Value(), fc.String())
	})
	m.EachException(func(ec modbus.ExceptionCode, n int64) {
		counter(c.exceptions, n, ec.String())
	})

	stats := m.Latency.Stats()
	buckets := make(map[float64]uint64, len(stats.Bounds))
	var cumulative uint64
	for i, bound := range stats.Bounds {
		cumulative += uint64(stats.Counts[i])
		buckets[bound/1000] = cumulative
	}
	ch <- prometheus.MustNewConstHistogram(c.latency, uint64(stats.Count), stats.Sum/1000, buckets)

	if c.state != nil {
		current := c.state()
		for _, s := range []modbus.ConnState{
			modbus.StateIdle, modbus.StateListening, modbus.StateAccumulating, modbus.StateReady, modbus.StateClosing,
		} {
			v := 0.0
			if s == current {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.connState, prometheus.GaugeValue, v, s.String())
		}
	}
}

// NewRegistry returns a registry holding the collector and the standard Go
// and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
