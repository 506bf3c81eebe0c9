// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import "time"

// Config is the feedback service configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

type ServerConfig struct {
	// Listen is the HTTP address, e.g. ":8095". FEEDBACK_LISTEN overrides it.
	Listen string `yaml:"listen" toml:"listen" validate:"required,hostname_port"`

	ServiceName string `yaml:"service_name" toml:"service_name" validate:"required"`

	// Timeouts in seconds. 0 disables the read/write timeout.
	ReadTimeoutSec     int `yaml:"read_timeout_sec" toml:"read_timeout_sec" validate:"gte=0"`
	WriteTimeoutSec    int `yaml:"write_timeout_sec" toml:"write_timeout_sec" validate:"gte=0"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec" validate:"gt=0"`

	// RateLimit caps mutations per second per scope. 0 disables it.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst" validate:"gte=0"`

	// Audit selects where mutation audit events go: "none", "log" (the
	// service log) or "memory" (served on GET /v1/audit).
	Audit         string `yaml:"audit" toml:"audit" validate:"oneof=none log memory"`
	AuditCapacity int    `yaml:"audit_capacity" toml:"audit_capacity" validate:"gte=0"`
}

type StorageConfig struct {
	// Backend is "memory" (no persistence) or "badger".
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=memory badger"`

	// Path is the badger directory; required for the badger backend.
	Path string `yaml:"path,omitempty" toml:"path,omitempty" validate:"required_if=Backend badger"`

	SyncWrites     bool    `yaml:"sync_writes" toml:"sync_writes"`
	GCIntervalSec  int     `yaml:"gc_interval_sec" toml:"gc_interval_sec" validate:"gte=0"`
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" toml:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty" toml:"dir,omitempty"`
	JSON  bool   `yaml:"json" toml:"json"`
}

type TelemetryConfig struct {
	// Exporter selects the span exporter: "none", "stdout", or "otlp".
	Exporter string `yaml:"exporter" toml:"exporter" validate:"oneof=none stdout otlp"`

	// MetricExporter selects where otel instruments go: "none", "stdout",
	// or "prometheus" (the service's /metrics endpoint).
	MetricExporter string `yaml:"metric_exporter" toml:"metric_exporter" validate:"oneof=none stdout prometheus"`

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty" toml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`

	// SampleRatio is the fraction of traces kept, 0 to 1.
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio" validate:"gte=0,lte=1"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ReadTimeout returns the read timeout as a duration.
func (s ServerConfig) ReadTimeout() time.Duration { return seconds(s.ReadTimeoutSec) }

// WriteTimeout returns the write timeout as a duration.
func (s ServerConfig) WriteTimeout() time.Duration { return seconds(s.WriteTimeoutSec) }

// ShutdownTimeout returns the shutdown timeout as a duration.
func (s ServerConfig) ShutdownTimeout() time.Duration { return seconds(s.ShutdownTimeoutSec) }

// GCInterval returns the value log GC interval as a duration.
func (s StorageConfig) GCInterval() time.Duration { return seconds(s.GCIntervalSec) }

// DefaultConfig returns a configuration for a local in-memory service.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:             ":8095",
			ServiceName:        "feedback-service",
			ReadTimeoutSec:     15,
			ShutdownTimeoutSec: 10,
			RateLimit:          50,
			RateBurst:          100,
			Audit:              "none",
			AuditCapacity:      1024,
		},
		Storage: StorageConfig{
			Backend:        "memory",
			SyncWrites:     true,
			GCIntervalSec:  300,
			GCDiscardRatio: 0.5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Exporter:       "none",
			MetricExporter: "prometheus",
			SampleRatio:    1,
		},
	}
}
