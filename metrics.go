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
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter.
type Counter struct {
	value int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// latencyBounds are the histogram bucket upper bounds in milliseconds.
var latencyBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

// LatencyHistogram tracks latency distribution.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64 // count per bucket
	sum     float64 // sum of all observations
	count   int64   // total count
	min     float64 // minimum observed value
	max     float64 // maximum observed value
}

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(latencyBounds)),
		min:     -1,
		max:     -1,
	}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++

	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range latencyBounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	// Greater than all bounds
	h.buckets[len(h.buckets)-1]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Bounds:  latencyBounds,
		Buckets: make(map[string]int64),
		Counts:  make([]int64, len(h.buckets)),
	}

	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}

	labels := []string{"1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "1s", "5s+"}
	for i, count := range h.buckets {
		stats.Counts[i] = count
		if i < len(labels) {
			stats.Buckets[labels[i]] = count
		}
	}

	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Bounds  []float64 // upper bounds in ms, parallel to Counts
	Counts  []int64   // non-cumulative count per bucket
	Buckets map[string]int64
}

// FunctionMetrics holds metrics for a specific function code.
type FunctionMetrics struct {
	Requests   Counter
	Exceptions Counter
	Latency    *LatencyHistogram
}

// functionSet lazily creates per-function metrics.
type functionSet struct {
	m sync.Map // FunctionCode -> *FunctionMetrics
}

func (s *functionSet) get(fc FunctionCode) *FunctionMetrics {
	if val, ok := s.m.Load(fc); ok {
		return val.(*FunctionMetrics)
	}
	fm := &FunctionMetrics{
		Latency: NewLatencyHistogram(),
	}
	actual, _ := s.m.LoadOrStore(fc, fm)
	return actual.(*FunctionMetrics)
}

func (s *functionSet) each(fn func(FunctionCode, *FunctionMetrics)) {
	var codes []FunctionCode
	s.m.Range(func(key, _ interface{}) bool {
		codes = append(codes, key.(FunctionCode))
		return true
	})
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, fc := range codes {
		fn(fc, s.get(fc))
	}
}

// EngineMetrics holds server-side metrics of an Engine.
type EngineMetrics struct {
	ConnectionsAccepted Counter
	ConnectionsClosed   Counter
	ActiveConns         Counter
	AcceptErrors        Counter
	ProtocolErrors      Counter // connections dropped for framing or protocol violations
	Timeouts            Counter // connections dropped by frame or idle timeout
	FramesReceived      Counter
	RequestsSuccess     Counter
	RequestsExceptions  Counter
	BytesIn             Counter
	BytesOut            Counter
	Latency             *LatencyHistogram

	exceptions sync.Map // ExceptionCode -> *Counter
	funcs      functionSet
}

// NewEngineMetrics creates a new EngineMetrics instance.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForFunction returns metrics for a specific function code.
func (m *EngineMetrics) ForFunction(fc FunctionCode) *FunctionMetrics {
	return m.funcs.get(fc)
}

// EachFunction calls fn for every function code seen so far, in code order.
func (m *EngineMetrics) EachFunction(fn func(FunctionCode, *FunctionMetrics)) {
	m.funcs.each(fn)
}

// ForException returns the counter for a specific exception code.
func (m *EngineMetrics) ForException(ec ExceptionCode) *Counter {
	if val, ok := m.exceptions.Load(ec); ok {
		return val.(*Counter)
	}
	actual, _ := m.exceptions.LoadOrStore(ec, &Counter{})
	return actual.(*Counter)
}

// EachException calls fn for every exception code sent so far, in code order.
func (m *EngineMetrics) EachException(fn func(ExceptionCode, int64)) {
	var codes []ExceptionCode
	m.exceptions.Range(func(key, _ interface{}) bool {
		codes = append(codes, key.(ExceptionCode))
		return true
	})
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, ec := range codes {
		fn(ec, m.ForException(ec).Value())
	}
}

// Collect returns all metrics as a map (compatible with expvar/JSON).
func (m *EngineMetrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"connections_accepted": m.ConnectionsAccepted.Value(),
		"connections_closed":   m.ConnectionsClosed.Value(),
		"active_conns":         m.ActiveConns.Value(),
		"accept_errors":        m.AcceptErrors.Value(),
		"protocol_errors":      m.ProtocolErrors.Value(),
		"timeouts":             m.Timeouts.Value(),
		"frames_received":      m.FramesReceived.Value(),
		"requests_success":     m.RequestsSuccess.Value(),
		"requests_exceptions":  m.RequestsExceptions.Value(),
		"bytes_in":             m.BytesIn.Value(),
		"bytes_out":            m.BytesOut.Value(),
		"latency":              m.Latency.Stats(),
	}

	excStats := make(map[string]interface{})
	m.EachException(func(ec ExceptionCode, n int64) {
		excStats[ec.String()] = n
	})
	if len(excStats) > 0 {
		result["exceptions"] = excStats
	}

	funcStats := make(map[string]interface{})
	m.EachFunction(func(fc FunctionCode, fm *FunctionMetrics) {
		funcStats[fc.String()] = map[string]interface{}{
			"requests":   fm.Requests.Value(),
			"exceptions": fm.Exceptions.Value(),
			"latency":    fm.Latency.Stats(),
		}
	})
	if len(funcStats) > 0 {
		result["functions"] = funcStats
	}

	return result
}

// Metrics holds client metrics.
type Metrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	ActiveConns     Counter
	Latency         *LatencyHistogram

	funcs functionSet
}

// NewMetrics creates a new client Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForFunction returns metrics for a specific function code.
func (m *Metrics) ForFunction(fc FunctionCode) *FunctionMetrics {
	return m.funcs.get(fc)
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	m.RequestsTotal.Reset()
	m.RequestsSuccess.Reset()
	m.RequestsErrors.Reset()
	m.Latency.Reset()

	m.funcs.each(func(_ FunctionCode, fm *FunctionMetrics) {
		fm.Requests.Reset()
		fm.Exceptions.Reset()
		fm.Latency.Reset()
	})
}
