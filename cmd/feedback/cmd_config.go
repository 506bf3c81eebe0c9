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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/config"
)

const defaultConfigPath = "feedback.yaml"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check service config files",
	}

	initCmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the default config (YAML)",
		Long: `Writes the default service configuration to PATH (default ` + defaultConfigPath + `).
An existing file is left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config at %s\n", path)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  listen %s, storage %s, audit %s\n",
				successColor.Sprint("OK"), cfg.Server.Listen, cfg.Storage.Backend, cfg.Server.Audit)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
