// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package onboard

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/onboard/services/onboard/agent"
	"github.com/AleutianAI/onboard/services/onboard/eval"
	"github.com/AleutianAI/onboard/services/onboard/telemetry"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "ONBOARD_CONFIG"

// ErrInvalidAppConfig indicates the config file failed validation.
var ErrInvalidAppConfig = errors.New("invalid onboard config")

var appConfigValidate = validator.New()

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address (default: ":8080").
	Addr string `yaml:"addr" json:"addr" validate:"required"`

	// Debug enables gin debug mode and request logging.
	Debug bool `yaml:"debug" json:"debug"`

	// ShutdownTimeout bounds graceful shutdown (default: 10s).
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`

	// RateLimit caps session creations and answer submissions per second
	// across all clients. Zero disables throttling.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`

	// RateBurst is the limiter burst (default: ceil(RateLimit)).
	RateBurst int `yaml:"rate_burst" json:"rate_burst" validate:"gte=0"`
}

// RoutingConfig selects the routing registry.
type RoutingConfig struct {
	// Path is an external registry file. Empty uses the embedded registry
	// or ONBOARD_ROUTING_PATH.
	Path string `yaml:"path" json:"path"`

	// Watch reloads Path when it changes. Ignored without Path.
	Watch bool `yaml:"watch" json:"watch"`
}

// EvalConfig configures the offline evaluation command.
type EvalConfig struct {
	// DBPath is the Badger directory for run history. Empty keeps history
	// in memory for the lifetime of the command.
	DBPath string `yaml:"db_path" json:"db_path"`

	// Concurrency bounds parallel transcript replays (0 = GOMAXPROCS).
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"gte=0"`

	// Gate holds the regression thresholds.
	Gate eval.GateConfig `yaml:"gate" json:"gate"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=text json"`
}

// AppConfig is the onboard.yaml document.
type AppConfig struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Agent     agent.Config     `yaml:"agent" json:"agent"`
	Routing   RoutingConfig    `yaml:"routing" json:"routing"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Eval      EvalConfig       `yaml:"eval" json:"eval"`
	Log       LogConfig        `yaml:"log" json:"log"`
}

// DefaultAppConfig returns the defaults every config file is layered onto.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Agent:     agent.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Eval: EvalConfig{
			Gate: eval.DefaultGateConfig(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: telemetry.LogFormatText,
		},
	}
}

// Validate checks struct constraints, including the nested agent config.
func (c AppConfig) Validate() error {
	if err := appConfigValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAppConfig, err)
	}
	return nil
}

// LoadConfig reads path over the defaults and validates the result.
//
// Description:
//
//	Keys missing from the file keep their default values. An empty path
//	falls back to $ONBOARD_CONFIG, and then to the defaults alone.
//
// Inputs:
//
//	path - YAML config file, or "".
//
// Outputs:
//
//	AppConfig - The merged configuration.
//	error - Read, parse or validation failure.
func LoadConfig(path string) (AppConfig, error) {
	cfg := DefaultAppConfig()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidAppConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
