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
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
	"github.com/AleutianAI/AleutianFeedback/services/feedbackd"
)

type inspectOptions struct {
	query feedbackd.QueryParams
	json  bool
	all   bool
	watch bool
}

func newInspectCmd(g *globalFlags) *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Query a feedback file",
		Long: `Loads a YAML or JSON list of feedback entries into a ledger and prints
the entries selected by the query flags. Entries without messages are
hidden unless --all is given.`,
		Example: `  feedback inspect form.yaml --type error --path 'user.*'
  feedback inspect form.json --regex '^items\.\d+' --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			render := func() error {
				return runInspect(cmd.OutOrStdout(), path, opts)
			}
			if !opts.watch {
				return render()
			}
			return watchFile(cmd.Context(), path, g.logger.Slog(), func() {
				if err := render(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", errorColor.Sprint("Error:"), err)
				}
			})
		},
	}

	addQueryFlags(cmd, &opts.query)
	cmd.Flags().BoolVar(&opts.json, "json", false, "print entries as JSON")
	cmd.Flags().BoolVar(&opts.all, "all", false, "print every stored entry, ignoring the query")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-run whenever the file changes")
	return cmd
}

func addQueryFlags(cmd *cobra.Command, q *feedbackd.QueryParams) {
	flags := cmd.Flags()
	flags.StringVar(&q.Type, "type", "", "entry type (error, warning, success, ...)")
	flags.StringVar(&q.Code, "code", "", "entry code")
	flags.StringVar(&q.Path, "path", "", "path pattern, e.g. 'user.*' or '*(name,address.*)'")
	flags.StringVar(&q.Regex, "regex", "", "path regular expression")
	flags.StringVar(&q.Trigger, "trigger", "", "trigger type")
	cmd.MarkFlagsMutuallyExclusive("path", "regex")
}

func runInspect(w io.Writer, path string, opts inspectOptions) error {
	entries, err := loadEntries(path)
	if err != nil {
		return err
	}
	ledger := feedback.New(entries)

	var selected []feedback.Entry
	if opts.all {
		selected = ledger.Entries()
	} else {
		q, err := opts.query.Query()
		if err != nil {
			return err
		}
		if selected, err = ledger.Find(q); err != nil {
			return err
		}
	}

	if opts.json {
		return writeJSON(w, selected)
	}
	printEntries(w, selected)
	return nil
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var (
		field  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status FILE",
		Short: "Report whether a feedback file is valid",
		Long: `Prints the valid/invalid verdict and counts for a feedback file.
With --field, the verdict covers only errors at or below that field.
Exits 1 when the verdict is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), args[0], field, asJSON)
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "limit the verdict to a field and its descendants")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func runStatus(w io.Writer, path, field string, asJSON bool) error {
	entries, err := loadEntries(path)
	if err != nil {
		return err
	}

	scope := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	status, err := feedbackd.BuildStatus(scope, feedback.New(entries), field)
	if err != nil {
		return err
	}

	if asJSON {
		if err := writeJSON(w, status); err != nil {
			return err
		}
	} else {
		printStatus(w, status)
	}

	valid := status.Valid
	if status.FieldValid != nil {
		valid = *status.FieldValid
	}
	if !valid {
		return errInvalid
	}
	return nil
}
