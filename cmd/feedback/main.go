// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command feedback runs the feedback ledger service and inspects feedback
// files and persisted snapshots.
//
// Exit codes: 0 success, 1 the inspected feedback is invalid, 2 any other
// failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianFeedback/pkg/logging"
)

const (
	exitOK      = 0
	exitInvalid = 1
	exitFailure = 2
)

// ExitError carries a process exit code through cobra. A nil Err means the
// command already reported the outcome and nothing more is printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// errInvalid reports invalid feedback after it has been printed.
var errInvalid = &ExitError{Code: exitInvalid}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	logLevel string
	logDir   string
	jsonLogs bool
	color    string

	logger *logging.Logger
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and maps the outcome to an exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	g := &globalFlags{}
	root := newRootCmd(g)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if g.logger != nil {
		_ = g.logger.Close()
	}
	return exitCode(err, stderr)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "%s %v\n", errorColor.Sprint("Error:"), exitErr.Err)
		}
		return exitErr.Code
	}

	fmt.Fprintf(stderr, "%s %v\n", errorColor.Sprint("Error:"), err)
	return exitFailure
}

func newRootCmd(g *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "feedback",
		Short:         "Form feedback ledger service and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyColorMode(g.color, cmd.OutOrStdout()); err != nil {
				return err
			}
			level, err := logging.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			g.logger = logging.New(logging.Config{
				Level:   level,
				LogDir:  g.logDir,
				Service: "feedback",
				JSON:    g.jsonLogs,
				Output:  cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (default info, or the config file's)")
	flags.StringVar(&g.logDir, "log-dir", "", "also write JSON logs to this directory")
	flags.BoolVar(&g.jsonLogs, "json-logs", false, "write console logs as JSON")
	flags.StringVar(&g.color, "color", "auto", "colorize output: auto, always, never")

	root.AddCommand(
		newServeCmd(g),
		newInspectCmd(g),
		newStatusCmd(g),
		newSnapshotsCmd(g),
		newConfigCmd(),
	)
	return root
}

// applyColorMode sets fatih/color's global switch. In auto mode color is
// used only when out is a terminal.
func applyColorMode(mode string, out io.Writer) error {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	case "auto", "":
		color.NoColor = !isTerminal(out)
	default:
		return fmt.Errorf("unknown color mode %q", mode)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
