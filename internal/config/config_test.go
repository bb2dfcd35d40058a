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

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":502" {
		t.Errorf("Listen: expected :502, got %s", cfg.Listen)
	}
	if cfg.PollInterval != 10*time.Millisecond {
		t.Errorf("PollInterval: expected 10ms, got %v", cfg.PollInterval)
	}
	if cfg.FrameTimeout != 5*time.Second {
		t.Errorf("FrameTimeout: expected 5s, got %v", cfg.FrameTimeout)
	}
	if cfg.IdleTimeout != 0 {
		t.Errorf("IdleTimeout: expected 0, got %v", cfg.IdleTimeout)
	}
	if cfg.WriteTimeout != 500*time.Millisecond {
		t.Errorf("WriteTimeout: expected 500ms, got %v", cfg.WriteTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log: expected info/text, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
listen: "0.0.0.0:1502"
poll_interval: 5ms
frame_timeout: 2s
idle_timeout: 1m
registers:
  file: /etc/bridge/map.yaml
  store: /var/lib/bridge/holding.db
admin:
  listen: "127.0.0.1:9102"
log:
  level: debug
  format: json
`)

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != "0.0.0.0:1502" {
		t.Errorf("Listen: expected 0.0.0.0:1502, got %s", cfg.Listen)
	}
	if cfg.PollInterval != 5*time.Millisecond || cfg.FrameTimeout != 2*time.Second || cfg.IdleTimeout != time.Minute {
		t.Errorf("Durations: got poll=%v frame=%v idle=%v", cfg.PollInterval, cfg.FrameTimeout, cfg.IdleTimeout)
	}
	if cfg.Registers.File != "/etc/bridge/map.yaml" || cfg.Registers.Store != "/var/lib/bridge/holding.db" {
		t.Errorf("Registers: got %+v", cfg.Registers)
	}
	if cfg.Admin.Listen != "127.0.0.1:9102" {
		t.Errorf("Admin.Listen: expected 127.0.0.1:9102, got %s", cfg.Admin.Listen)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("Log level: expected debug, got %v", cfg.Log.SlogLevel())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MODBUS_BRIDGE_LISTEN", ":1502")
	t.Setenv("MODBUS_BRIDGE_LOG_LEVEL", "warn")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != ":1502" {
		t.Errorf("Listen: expected :1502, got %s", cfg.Listen)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level: expected warn, got %s", cfg.Log.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"log level":     "log:\n  level: verbose\n",
		"log format":    "log:\n  format: xml\n",
		"listen":        "listen: not-an-address\n",
		"poll interval": "poll_interval: 0s\n",
		"admin listen":  "admin:\n  listen: nowhere\n",
	}

	for name, content := range tests {
		if _, err := Load(New(), writeFile(t, content)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("remote", "10.0.0.1:502"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(out, `"remote":"10.0.0.1:502"`) {
		t.Errorf("Expected JSON attribute in output, got %q", out)
	}
}
