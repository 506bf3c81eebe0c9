// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/config"
	"github.com/AleutianAI/AleutianFeedback/pkg/extensions"
)

// startServe runs runServe on a loopback listener and returns its base URL
// and a stop func that waits for shutdown.
func startServe(t *testing.T, cfg config.Config) (string, func() error) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() {
		done <- runServe(ctx, cfg, listener, logger, io.Discard)
	}()

	base := "http://" + listener.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	return base, func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(15 * time.Second):
			return context.DeadlineExceeded
		}
	}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestRunServe_PersistsAcrossRestarts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "badger"
	cfg.Storage.Path = t.TempDir()
	cfg.Telemetry.MetricExporter = "none"

	base, stop := startServe(t, cfg)
	resp := post(t, base+"/v1/scopes/signup/feedback",
		`{"entries":[{"type":"error","path":"user.email","messages":["required"]}]}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, stop())

	base, stop = startServe(t, cfg)
	defer func() { assert.NoError(t, stop()) }()

	resp, err := http.Get(base + "/v1/scopes/signup/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"version":1`)
	assert.Contains(t, string(body), `"invalid":true`)
}

func TestRunServe_OtelMetricsOnPrometheusEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "badger"
	cfg.Storage.Path = t.TempDir()
	cfg.Telemetry.MetricExporter = "prometheus"

	base, stop := startServe(t, cfg)
	defer func() { assert.NoError(t, stop()) }()

	resp := post(t, base+"/v1/scopes/signup/feedback",
		`{"entries":[{"type":"warning","path":"a","messages":["w"]}]}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	metrics := buf.String()
	assert.Contains(t, metrics, "aleutian_feedback_http_requests_total")
	assert.Contains(t, metrics, "feedback_snapshot_op_total")
	assert.Contains(t, metrics, "go_goroutines")
}

func TestServeCmd_BadConfig(t *testing.T) {
	path := writeTemp(t, "feedback.yaml", "storage:\n  backend: redis\n")
	code, _, stderr := runCLI(t, "serve", "--config", path)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, config.ErrInvalidConfig.Error())
}

func TestServiceLogger_FlagsOverrideConfig(t *testing.T) {
	var out bytes.Buffer
	g := &globalFlags{logLevel: "error"}

	logger, err := serviceLogger(g, config.LoggingConfig{Level: "debug"}, &out)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Error("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
	assert.Contains(t, out.String(), "service=feedbackd")
}

func TestServiceExtensions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		audit string
		want  extensions.AuditLogger
	}{
		{"none", &extensions.NopAuditLogger{}},
		{"log", &extensions.SlogAuditLogger{}},
		{"memory", &extensions.MemoryAuditLogger{}},
	}

	for _, tt := range tests {
		t.Run(tt.audit, func(t *testing.T) {
			opts := serviceExtensions(config.ServerConfig{Audit: tt.audit, AuditCapacity: 8}, logger)
			assert.IsType(t, tt.want, opts.Audit())
		})
	}
}

func TestRunServe_MemoryAudit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Audit = "memory"
	cfg.Telemetry.MetricExporter = "none"

	base, stop := startServe(t, cfg)
	resp := post(t, base+"/v1/scopes/signup/feedback",
		`{"entries":[{"type":"error","path":"user.email","messages":["required"]}]}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(base + "/v1/audit?scope=signup")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"event_type":"ledger.update"`)
	assert.Contains(t, string(body), `"count":1`)

	require.NoError(t, stop())
}
