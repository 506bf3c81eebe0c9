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
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
	"github.com/AleutianAI/AleutianFeedback/pkg/validation"
	"github.com/AleutianAI/AleutianFeedback/services/feedbackd/storage"
	fbadger "github.com/AleutianAI/AleutianFeedback/services/feedbackd/storage/badger"
)

type snapshotsOptions struct {
	dbPath string
	json   bool
}

func newSnapshotsCmd(g *globalFlags) *cobra.Command {
	opts := &snapshotsOptions{}

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect persisted ledger snapshots",
		Long: `Reads the snapshot database of a stopped feedback service. list and show
open the database read-only; drop needs write access.`,
	}
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "snapshot database directory (storage.path)")
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print JSON")
	_ = cmd.MarkPersistentFlagRequired("db")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored scopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := openSnapshots(opts.dbPath, true, g.logger.Slog())
			if err != nil {
				return err
			}
			defer closeDB()

			summaries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			printSummaries(cmd.OutOrStdout(), summaries)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show SCOPE",
		Short: "Print a scope's stored entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := validation.SanitizeScope(args[0])
			if err != nil {
				return err
			}
			store, closeDB, err := openSnapshots(opts.dbPath, true, g.logger.Slog())
			if err != nil {
				return err
			}
			defer closeDB()

			snap, err := store.Load(cmd.Context(), scope)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), snapshotJSON{
					Scope:   snap.Scope,
					Version: snap.Version,
					SavedAt: snap.SavedAt,
					Entries: snap.Entries,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  version %d, saved %s\n",
				snap.Scope, snap.Version, snap.SavedAt.Local().Format(time.RFC3339))
			printEntries(out, snap.Entries)
			return nil
		},
	}

	drop := &cobra.Command{
		Use:   "drop SCOPE",
		Short: "Delete a scope's snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := validation.SanitizeScope(args[0])
			if err != nil {
				return err
			}
			store, closeDB, err := openSnapshots(opts.dbPath, false, g.logger.Slog())
			if err != nil {
				return err
			}
			defer closeDB()

			if _, err := store.Load(cmd.Context(), scope); err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), scope); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", scope)
			return nil
		},
	}

	cmd.AddCommand(list, show, drop)
	return cmd
}

// snapshotJSON is the --json shape of "snapshots show".
type snapshotJSON struct {
	Scope   string           `json:"scope"`
	Version uint64           `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Entries []feedback.Entry `json:"entries"`
}

func openSnapshots(path string, readOnly bool, logger *slog.Logger) (*storage.SnapshotStore, func(), error) {
	db, err := fbadger.OpenDB(fbadger.Config{
		Path:     path,
		ReadOnly: readOnly,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot database: %w", err)
	}

	store, err := storage.NewSnapshotStore(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}
