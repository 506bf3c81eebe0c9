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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
	"github.com/AleutianAI/AleutianFeedback/services/feedbackd"
)

const signupYAML = `
- type: error
  code: required
  path: user.email
  messages: [email is required]
  triggerType: onBlur
- type: error
  path: user.address.zip
  messages: too short
- type: warning
  path: user.password
  messages: [weak]
  score: 2
- type: error
  path: user.nickname
  messages: []
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// runCLI runs the CLI and returns the exit code, stdout and stderr.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// inspect
// =============================================================================

func TestInspect_Text(t *testing.T) {
	path := writeTemp(t, "signup.yaml", signupYAML)

	code, out, _ := runCLI(t, "inspect", path, "--type", "error")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "user.email")
	assert.Contains(t, out, "[required] email is required (onBlur)")
	assert.Contains(t, out, "user.address.zip")
	assert.NotContains(t, out, "user.password")
	assert.NotContains(t, out, "user.nickname", "cleared entries are hidden")
}

func TestInspect_JSON(t *testing.T) {
	path := writeTemp(t, "signup.yaml", signupYAML)

	code, out, _ := runCLI(t, "inspect", path, "--path", "user.*", "--type", "warning", "--json")
	require.Equal(t, exitOK, code)

	var entries []feedback.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "user.password", entries[0].Path)
	assert.Equal(t, 2.0, entries[0].Extra["score"])
}

func TestInspect_All(t *testing.T) {
	path := writeTemp(t, "signup.yaml", signupYAML)

	code, out, _ := runCLI(t, "inspect", path, "--all")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "user.nickname")
	assert.Contains(t, out, "(cleared)")
}

func TestInspect_NoMatches(t *testing.T) {
	path := writeTemp(t, "signup.yaml", signupYAML)

	code, out, _ := runCLI(t, "inspect", path, "--code", "nope")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "no feedback")
}

func TestInspect_Errors(t *testing.T) {
	path := writeTemp(t, "signup.yaml", signupYAML)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"malformed pattern", []string{"inspect", path, "--path", "*(a"}, "malformed"},
		{"bad regex", []string{"inspect", path, "--regex", "("}, "invalid regex"},
		{"path and regex", []string{"inspect", path, "--path", "a", "--regex", "a"}, "none of the others can be"},
		{"missing file", []string{"inspect", filepath.Join(t.TempDir(), "nope.yaml")}, "no such file"},
		{"no file argument", []string{"inspect"}, "accepts 1 arg"},
		{"bad color mode", []string{"inspect", path, "--color", "sometimes"}, "unknown color mode"},
		{"bad log level", []string{"inspect", path, "--log-level", "loud"}, "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, exitFailure, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

// =============================================================================
// status
// =============================================================================

func TestStatus(t *testing.T) {
	invalid := writeTemp(t, "signup.yaml", signupYAML)
	valid := writeTemp(t, "clean.json", `{"entries":[{"type":"success","path":"user.username","messages":["available"]}]}`)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  []string
	}{
		{
			name:     "invalid file",
			args:     []string{"status", invalid},
			wantCode: exitInvalid,
			wantOut:  []string{"INVALID", "2 errors, 1 warnings, 0 successes (4 entries)", "user.email"},
		},
		{
			name:     "valid file",
			args:     []string{"status", valid},
			wantCode: exitOK,
			wantOut:  []string{"VALID", "0 errors, 0 warnings, 1 successes (1 entries)"},
		},
		{
			name:     "valid field in invalid file",
			args:     []string{"status", invalid, "--field", "user.password"},
			wantCode: exitOK,
			wantOut:  []string{"INVALID", "field user.password: valid"},
		},
		{
			name:     "invalid subtree",
			args:     []string{"status", invalid, "--field", "user.address"},
			wantCode: exitInvalid,
			wantOut:  []string{"field user.address: invalid", "user.address.zip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, stderr := runCLI(t, tt.args...)
			assert.Equal(t, tt.wantCode, code)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
			assert.Empty(t, stderr, "an invalid verdict is not an error message")
		})
	}
}

func TestStatus_JSON(t *testing.T) {
	path := writeTemp(t, "signup.yaml", signupYAML)

	code, out, _ := runCLI(t, "status", path, "--json")
	assert.Equal(t, exitInvalid, code)

	var status feedbackd.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "signup", status.Scope)
	assert.True(t, status.Invalid)
	assert.Len(t, status.Errors, 2)
	assert.Equal(t, 4, status.Len)
}

func TestStatus_MalformedField(t *testing.T) {
	path := writeTemp(t, "signup.yaml", signupYAML)
	code, _, stderr := runCLI(t, "status", path, "--field", "a..b")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "malformed")
}

// =============================================================================
// exit codes
// =============================================================================

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitOK, exitCode(nil, &stderr))
	assert.Equal(t, exitInvalid, exitCode(errInvalid, &stderr))
	assert.Empty(t, stderr.String())

	assert.Equal(t, exitFailure, exitCode(os.ErrNotExist, &stderr))
	assert.Contains(t, stderr.String(), "Error:")

	stderr.Reset()
	assert.Equal(t, 3, exitCode(&ExitError{Code: 3, Err: os.ErrPermission}, &stderr))
	assert.Contains(t, stderr.String(), "permission denied")
}
