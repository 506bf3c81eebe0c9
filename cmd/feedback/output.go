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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
	"github.com/AleutianAI/AleutianFeedback/services/feedbackd"
	"github.com/AleutianAI/AleutianFeedback/services/feedbackd/storage"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
	dimColor     = color.New(color.Faint)

	// Type labels use one attribute each so every escape sequence has the
	// same width and tabwriter columns stay aligned.
	typeColors = map[feedback.Type]*color.Color{
		feedback.TypeError:   color.New(color.FgRed),
		feedback.TypeWarning: color.New(color.FgYellow),
		feedback.TypeSuccess: color.New(color.FgGreen),
	}
	otherTypeColor = color.New(color.FgCyan)
)

func typeColor(t feedback.Type) *color.Color {
	if c, ok := typeColors[t]; ok {
		return c
	}
	return otherTypeColor
}

// printEntries writes one line per entry:
//
//	ERROR    user.email        [required] email is required (onBlur)
func printEntries(w io.Writer, entries []feedback.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("no feedback"))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		label := strings.ToUpper(string(e.Type))
		if label == "" {
			label = "-"
		}

		var detail strings.Builder
		if e.Code != "" {
			fmt.Fprintf(&detail, "[%s] ", e.Code)
		}
		switch {
		case e.Messages == nil:
			detail.WriteString(dimColor.Sprint("(no messages)"))
		case len(e.Messages) == 0:
			detail.WriteString(dimColor.Sprint("(cleared)"))
		default:
			detail.WriteString(strings.Join(e.Messages, "; "))
		}
		if e.TriggerType != "" {
			fmt.Fprintf(&detail, " (%s)", e.TriggerType)
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\n", typeColor(e.Type).Sprint(label), e.Path, detail.String())
	}
	tw.Flush()
}

// printStatus writes the verdict line followed by the counts.
func printStatus(w io.Writer, s feedbackd.StatusResponse) {
	if s.Valid {
		fmt.Fprintf(w, "%s  ", successColor.Sprint("VALID"))
	} else {
		fmt.Fprintf(w, "%s  ", errorColor.Sprint("INVALID"))
	}
	fmt.Fprintf(w, "%d errors, %d warnings, %d successes (%d entries)\n",
		len(s.Errors), len(s.Warnings), len(s.Successes), s.Len)

	if s.FieldValid != nil {
		verdict := successColor.Sprint("valid")
		if !*s.FieldValid {
			verdict = errorColor.Sprint("invalid")
		}
		fmt.Fprintf(w, "field %s: %s\n", s.Field, verdict)
		if len(s.FieldErrors) > 0 {
			printEntries(w, s.FieldErrors)
		}
		return
	}

	if len(s.Errors) > 0 {
		printEntries(w, s.Errors)
	}
}

// printSummaries writes the snapshot table for "snapshots list".
func printSummaries(w io.Writer, summaries []storage.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("no snapshots"))
		return
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Scope,
			strconv.FormatUint(s.Version, 10),
			strconv.Itoa(s.Entries),
			strconv.Itoa(s.Bytes),
			s.SavedAt.Local().Format(time.RFC3339),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SCOPE", "VERSION", "ENTRIES", "BYTES", "SAVED").
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
