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

// Package config loads and validates the bridge process configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. MODBUS_BRIDGE_LISTEN or MODBUS_BRIDGE_LOG_LEVEL.
const EnvPrefix = "MODBUS_BRIDGE"

// Config is the complete process configuration.
type Config struct {
	Listen       string          `mapstructure:"listen" validate:"required,hostname_port"`
	PollInterval time.Duration   `mapstructure:"poll_interval" validate:"gt=0"`
	FrameTimeout time.Duration   `mapstructure:"frame_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration   `mapstructure:"idle_timeout" validate:"gte=0"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout" validate:"gte=0"`
	Registers    RegistersConfig `mapstructure:"registers"`
	Admin        AdminConfig     `mapstructure:"admin"`
	Log          LogConfig       `mapstructure:"log"`
}

// RegistersConfig selects where register values come from.
type RegistersConfig struct {
	// File is a YAML register map. Empty serves an empty register space.
	File string `mapstructure:"file"`
	// Store is a SQLite database persisting holding register writes.
	Store string `mapstructure:"store"`
}

// AdminConfig configures the HTTP admin endpoint.
type AdminConfig struct {
	// Listen is the admin HTTP address; empty disables the endpoint.
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// New returns a viper instance with defaults and environment overrides set.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":502")
	v.SetDefault("poll_interval", 10*time.Millisecond)
	v.SetDefault("frame_timeout", 5*time.Second)
	v.SetDefault("idle_timeout", time.Duration(0))
	v.SetDefault("write_timeout", 500*time.Millisecond)
	v.SetDefault("registers.file", "")
	v.SetDefault("registers.store", "")
	v.SetDefault("admin.listen", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads path (if not empty) into v, then decodes and validates the
// result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel returns the slog level for l.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
