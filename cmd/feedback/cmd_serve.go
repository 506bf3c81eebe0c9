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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/config"
	"github.com/AleutianAI/AleutianFeedback/pkg/extensions"
	"github.com/AleutianAI/AleutianFeedback/pkg/logging"
	"github.com/AleutianAI/AleutianFeedback/services/feedbackd"
	"github.com/AleutianAI/AleutianFeedback/services/feedbackd/storage"
	fbadger "github.com/AleutianAI/AleutianFeedback/services/feedbackd/storage/badger"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the feedback HTTP service",
		Long: `Serves the feedback ledger API. Without --config the service listens on
:8095 and keeps ledgers in memory. ` + config.EnvListen + ` overrides the listen address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, err := serviceLogger(g, cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listener, err := net.Listen("tcp", cfg.Server.Listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
			}
			return runServe(ctx, cfg, listener, logger.Slog(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	return cmd
}

// serviceLogger builds the service logger from the config file, letting
// the persistent flags override it.
func serviceLogger(g *globalFlags, cfg config.LoggingConfig, out io.Writer) (*logging.Logger, error) {
	levelName := cfg.Level
	if g.logLevel != "" {
		levelName = g.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	dir := cfg.Dir
	if g.logDir != "" {
		dir = g.logDir
	}

	return logging.New(logging.Config{
		Level:   level,
		LogDir:  dir,
		Service: "feedbackd",
		JSON:    cfg.JSON || g.jsonLogs,
		Output:  out,
	}), nil
}

// runServe wires telemetry, storage and the service, then serves on
// listener until ctx is cancelled.
func runServe(ctx context.Context, cfg config.Config, listener net.Listener, logger *slog.Logger, out io.Writer) error {
	if logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdownTelemetry, err := initTelemetry(ctx, cfg.Telemetry, cfg.Server.ServiceName, promReg, out)
	if err != nil {
		listener.Close()
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	var store feedbackd.SnapshotStore
	if cfg.Storage.Backend == "badger" {
		db, err := fbadger.OpenDB(fbadger.Config{
			Path:           cfg.Storage.Path,
			SyncWrites:     cfg.Storage.SyncWrites,
			Logger:         logger,
			GCInterval:     cfg.Storage.GCInterval(),
			GCDiscardRatio: cfg.Storage.GCDiscardRatio,
		})
		if err != nil {
			listener.Close()
			return fmt.Errorf("open snapshot database: %w", err)
		}
		defer db.Close()

		snapshots, err := storage.NewSnapshotStore(db, logger)
		if err != nil {
			listener.Close()
			return err
		}
		store = snapshots
		logger.Info("snapshot persistence enabled", slog.String("path", cfg.Storage.Path))
	}

	svc, err := feedbackd.New(feedbackd.Options{
		Addr:            cfg.Server.Listen,
		ServiceName:     cfg.Server.ServiceName,
		ReadTimeout:     cfg.Server.ReadTimeout(),
		WriteTimeout:    cfg.Server.WriteTimeout(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout(),
		Store:           store,
		Metrics:         promReg,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		Extensions:      serviceExtensions(cfg.Server, logger),
		Logger:          logger,
	})
	if err != nil {
		listener.Close()
		return err
	}

	return svc.Serve(ctx, listener)
}

func serviceExtensions(cfg config.ServerConfig, logger *slog.Logger) extensions.ServiceOptions {
	opts := extensions.DefaultOptions()
	switch cfg.Audit {
	case "log":
		opts = opts.WithAudit(extensions.NewSlogAuditLogger(logger))
	case "memory":
		opts = opts.WithAudit(extensions.NewMemoryAuditLogger(cfg.AuditCapacity))
	}
	return opts
}
