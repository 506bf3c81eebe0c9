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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "form.yaml")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)), func() {
			calls.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond,
		"initial render")

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("[]"), 0644))
	time.Sleep(3 * watchDebounce)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, os.WriteFile(path, []byte("- type: error\n  messages: [x]\n"), 0644))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond,
		"one render per debounced change")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchFile did not stop")
	}
}

func TestWatchFile_MissingDirectory(t *testing.T) {
	err := watchFile(context.Background(), filepath.Join(t.TempDir(), "nope", "form.yaml"),
		slog.New(slog.NewTextHandler(io.Discard, nil)), func() {})
	assert.Error(t, err)
}

func TestLoadEntries_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    int
		wantErr bool
	}{
		{"yaml list", "a.yaml", "- type: error\n  messages: [x]\n", 1, false},
		{"yaml object", "a.yml", "entries:\n  - type: warning\n", 1, false},
		{"json list", "a.json", `[{"type":"error"},{"type":"success"}]`, 2, false},
		{"json in yaml file", "a.yaml", `{"entries":[{"type":"error"}]}`, 1, false},
		{"empty document", "a.yaml", "", 0, false},
		{"object without entries", "a.yaml", "foo: bar\n", 0, true},
		{"entries not a list", "a.yaml", "entries:\n  type: error\n", 0, true},
		{"scalar entry", "a.yaml", "- just a string\n", 0, true},
		{"bad messages", "a.json", `[{"type":"error","messages":[1]}]`, 0, true},
		{"scalar document", "a.yaml", "42\n", 0, true},
		{"bad json", "a.json", `[`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := loadEntries(writeTemp(t, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, entries, tt.want)
		})
	}
}
