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

// Package admin serves the HTTP admin endpoint of the bridge: health,
// engine status and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	modbus "github.com/edgeo-scada/modbus-bridge"
)

// Source is the engine view the admin endpoint reports on.
type Source interface {
	Status() modbus.EngineStatus
	Metrics() *modbus.EngineMetrics
}

// Server is the admin HTTP server.
type Server struct {
	addr     string
	source   Source
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	srv      *http.Server
	listener net.Listener
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State       string                 `json:"state"`
	Addr        string                 `json:"addr,omitempty"`
	Client      string                 `json:"client,omitempty"`
	Session     string                 `json:"session,omitempty"`
	ConnectedAt *time.Time             `json:"connected_at,omitempty"`
	Metrics     map[string]interface{} `json:"metrics"`
}

// NewServer creates an admin server for source. gatherer backs /metrics;
// nil uses the default Prometheus registry.
func NewServer(addr string, source Source, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		source:   source,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Handler returns the router with every admin route registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("admin endpoint listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin endpoint failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.source.Status()
	if st.State == modbus.StateIdle {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.source.Status()
	resp := StatusResponse{
		State:   st.State.String(),
		Addr:    st.Addr,
		Client:  st.Client,
		Session: st.Session,
		Metrics: s.source.Metrics().Collect(),
	}
	if !st.ConnectedAt.IsZero() {
		at := st.ConnectedAt
		resp.ConnectedAt = &at
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
