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

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout())
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Storage.GCInterval())
}

func TestLoad_EmptyPath(t *testing.T) {
	t.Setenv(EnvListen, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv(EnvListen, "")
	path := writeFile(t, "feedback.yaml", `
server:
  listen: "127.0.0.1:9000"
storage:
  backend: badger
  path: /var/lib/feedback
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/feedback", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, "feedback-service", cfg.Server.ServiceName)
	assert.Equal(t, 0.5, cfg.Storage.GCDiscardRatio)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv(EnvListen, "")
	path := writeFile(t, "feedback.toml", `
[server]
listen = ":8100"
shutdown_timeout_sec = 3

[telemetry]
exporter = "otlp"
endpoint = "localhost:4317"
sample_ratio = 0.25
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8100", cfg.Server.Listen)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, "otlp", cfg.Telemetry.Exporter)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv(EnvListen, ":9999")
	path := writeFile(t, "feedback.yml", "server:\n  listen: \":8100\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Listen)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(EnvListen, "")

	tests := []struct {
		name    string
		file    string
		content string
		wantIs  error
	}{
		{"unsupported extension", "feedback.json", `{}`, ErrUnsupportedFormat},
		{"badger without path", "a.yaml", "storage:\n  backend: badger\n", ErrInvalidConfig},
		{"unknown backend", "a.yaml", "storage:\n  backend: redis\n", ErrInvalidConfig},
		{"otlp without endpoint", "a.toml", "[telemetry]\nexporter = \"otlp\"\n", ErrInvalidConfig},
		{"bad level", "a.yaml", "logging:\n  level: loud\n", ErrInvalidConfig},
		{"bad ratio", "a.yaml", "telemetry:\n  sample_ratio: 2\n", ErrInvalidConfig},
		{"zero shutdown timeout", "a.yaml", "server:\n  shutdown_timeout_sec: 0\n", ErrInvalidConfig},
		{"bad listen", "a.yaml", "server:\n  listen: nope\n", ErrInvalidConfig},
		{"unknown audit sink", "a.yaml", "server:\n  audit: kafka\n", ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.ErrorIs(t, err, tt.wantIs)
		})
	}

	t.Run("parse error", func(t *testing.T) {
		_, err := Load(writeFile(t, "a.yaml", "server: [unclosed"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestWriteDefault(t *testing.T) {
	t.Setenv(EnvListen, "")
	path := filepath.Join(t.TempDir(), "nested", "feedback.yaml")

	require.NoError(t, WriteDefault(path))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \":1234\"\n"), 0644))
	require.NoError(t, WriteDefault(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ":1234", "existing file is not overwritten")
}

func TestLoad_MetricExporter(t *testing.T) {
	t.Setenv(EnvListen, "")

	cfg, err := Load(writeFile(t, "a.yaml", "telemetry:\n  metric_exporter: stdout\n"))
	require.NoError(t, err)
	assert.Equal(t, "stdout", cfg.Telemetry.MetricExporter)

	_, err = Load(writeFile(t, "b.yaml", "telemetry:\n  metric_exporter: statsd\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
