// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedbackd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFeedback/pkg/extensions"
)

// Options configures a Service.
type Options struct {
	// Addr is the listen address, e.g. ":8095".
	Addr string

	// ServiceName names the otelgin spans.
	ServiceName string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Store persists snapshots. nil keeps ledgers in memory only.
	Store SnapshotStore

	// Metrics is the Prometheus registry served on /metrics. nil creates a
	// private one with the Go and process collectors.
	Metrics *prometheus.Registry

	// RateLimit caps mutations per second per scope; 0 disables limiting.
	RateLimit float64
	RateBurst int

	// Extensions injects optional hooks such as an audit logger.
	Extensions extensions.ServiceOptions

	Logger *slog.Logger
}

// DefaultOptions returns options for a local in-memory service.
func DefaultOptions() Options {
	return Options{
		Addr:            ":8095",
		ServiceName:     "feedback-service",
		ReadTimeout:     15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Service is the feedback HTTP server.
type Service struct {
	opts     Options
	registry *Registry
	metrics  *Metrics
	audit    extensions.AuditLogger
	router   *gin.Engine
	logger   *slog.Logger
}

// New wires the registry, metrics and routes. It does not listen.
//
// Unless opts.Metrics is set, each Service has its own Prometheus registry,
// so several can coexist in one process.
func New(opts Options) (*Service, error) {
	if opts.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.ServiceName == "" {
		opts.ServiceName = defaults.ServiceName
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaults.ShutdownTimeout
	}

	promReg := opts.Metrics
	if promReg == nil {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := NewMetrics(promReg)

	registryOpts := []RegistryOption{
		WithRegistryLogger(logger),
		WithMetrics(metrics),
	}
	if opts.Store != nil {
		registryOpts = append(registryOpts, WithStore(opts.Store))
	}
	registry := NewRegistry(registryOpts...)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(metrics.Middleware())

	audit := opts.Extensions.Audit()
	handlers := NewHandlers(registry, metrics, logger)
	handlers.audit = audit
	if opts.RateLimit > 0 {
		handlers.limiter = NewScopeLimiter(opts.RateLimit, opts.RateBurst)
	}
	SetupRoutes(router, handlers, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	return &Service{
		opts:     opts,
		registry: registry,
		metrics:  metrics,
		audit:    audit,
		router:   router,
		logger:   logger,
	}, nil
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Service) Router() http.Handler {
	return s.router
}

// Registry returns the scope registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Run listens on opts.Addr until ctx is cancelled, then shuts down
// gracefully and closes the registry.
func (s *Service) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("feedback service listening", slog.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		// Close watchers first so Shutdown does not wait on hijacked conns.
		_ = s.registry.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := s.audit.Flush(shutdownCtx); err != nil {
			s.logger.Warn("audit flush failed", slog.String("error", err.Error()))
		}
		s.logger.Info("feedback service stopped")
		return nil
	})

	return g.Wait()
}
