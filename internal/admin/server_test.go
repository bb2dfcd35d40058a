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

package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	modbus "github.com/edgeo-scada/modbus-bridge"
	"github.com/edgeo-scada/modbus-bridge/internal/metrics"
)

type fakeSource struct {
	status  modbus.EngineStatus
	metrics *modbus.EngineMetrics
}

func (f *fakeSource) Status() modbus.EngineStatus     { return f.status }
func (f *fakeSource) Metrics() *modbus.EngineMetrics { return f.metrics }

func newTestServer(src *fakeSource) *Server {
	reg := metrics.NewRegistry(metrics.NewCollector(src.metrics, func() modbus.ConnState { return src.status.State }))
	return NewServer("127.0.0.1:0", src, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	src := &fakeSource{status: modbus.EngineStatus{State: modbus.StateListening}, metrics: modbus.NewEngineMetrics()}
	h := newTestServer(src).Handler()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("running engine: expected 200, got %d", rec.Code)
	}

	src.status.State = modbus.StateIdle
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped engine: expected 503, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	connected := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	src := &fakeSource{
		status: modbus.EngineStatus{
			State:       modbus.StateAccumulating,
			Addr:        "127.0.0.1:502",
			Client:      "10.0.0.7:40000",
			Session:     "abc",
			ConnectedAt: connected,
		},
		metrics: modbus.NewEngineMetrics(),
	}
	src.metrics.FramesReceived.Add(9)

	rec := get(t, newTestServer(src).Handler(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.State != modbus.StateAccumulating.String() {
		t.Errorf("state: expected %s, got %s", modbus.StateAccumulating, body.State)
	}
	if body.Client != "10.0.0.7:40000" || body.Session != "abc" {
		t.Errorf("unexpected client/session: %+v", body)
	}
	if body.ConnectedAt == nil || !body.ConnectedAt.Equal(connected) {
		t.Errorf("connected_at: expected %v, got %v", connected, body.ConnectedAt)
	}
	if v, ok := body.Metrics["frames_received"].(float64); !ok || v != 9 {
		t.Errorf("frames_received: expected 9, got %v", body.Metrics["frames_received"])
	}
}

func TestStatus_NoClient(t *testing.T) {
	src := &fakeSource{status: modbus.EngineStatus{State: modbus.StateListening}, metrics: modbus.NewEngineMetrics()}

	rec := get(t, newTestServer(src).Handler(), "/status")
	if strings.Contains(rec.Body.String(), "connected_at") {
		t.Errorf("connected_at should be omitted without a client: %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	src := &fakeSource{status: modbus.EngineStatus{State: modbus.StateListening}, metrics: modbus.NewEngineMetrics()}
	src.metrics.ConnectionsAccepted.Add(2)

	rec := get(t, newTestServer(src).Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "modbus_bridge_connections_accepted_total 2") {
		t.Errorf("metrics output missing accepted counter:\n%s", body)
	}
	if !strings.Contains(body, `modbus_bridge_connection_state{state="listening"} 1`) {
		t.Errorf("metrics output missing state gauge:\n%s", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	src := &fakeSource{status: modbus.EngineStatus{State: modbus.StateListening}, metrics: modbus.NewEngineMetrics()}

	rec := httptest.NewRecorder()
	newTestServer(src).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	src := &fakeSource{status: modbus.EngineStatus{State: modbus.StateListening}, metrics: modbus.NewEngineMetrics()}
	s := newTestServer(src)

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
