// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestDropCleared(t *testing.T) {
	l := New([]Entry{
		errEntry("a", "", "x"),
		{Type: TypeError, Path: "b", Messages: []string{}},
		{Type: TypeWarning, Path: "c"},
		{Type: TypeSuccess, Path: "d", Messages: []string{"ok"}},
	})

	require.NoError(t, l.Reduce(DropCleared))
	assert.Equal(t, []string{"a", "d"}, paths(l.Entries()))
}

func TestDedupe(t *testing.T) {
	l := New([]Entry{
		errEntry("a", "c", "first"),
		errEntry("b", "c", "other"),
		errEntry("a", "c", "second"),
		{Type: TypeWarning, Code: "c", Path: "a", Messages: []string{"different type"}},
	})

	require.NoError(t, l.Reduce(Dedupe))

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "b", "a"}, paths(entries))
	assert.Equal(t, []string{"second"}, entries[0].Messages, "last wins at first position")
	assert.Equal(t, TypeWarning, entries[2].Type)
}

func TestCompact(t *testing.T) {
	tests := []struct {
		name    string
		initial []Entry
		want    []string
	}{
		{
			name:    "empty",
			initial: nil,
			want:    []string{},
		},
		{
			name:    "drops cleared",
			initial: []Entry{{Type: TypeError, Path: "a", Messages: []string{}}, errEntry("b", "", "x")},
			want:    []string{"b"},
		},
		{
			name:    "later clear removes earlier entry",
			initial: []Entry{errEntry("a", "", "x"), errEntry("b", "", "y"), {Type: TypeError, Path: "a", Messages: []string{}}},
			want:    []string{"b"},
		},
		{
			name:    "later message revives cleared key",
			initial: []Entry{{Type: TypeError, Path: "a", Messages: []string{}}, errEntry("a", "", "back")},
			want:    []string{"a"},
		},
		{
			name:    "duplicates collapse",
			initial: []Entry{errEntry("a", "", "1"), errEntry("a", "", "2"), errEntry("a", "", "3")},
			want:    []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.initial)
			require.NoError(t, l.Reduce(Compact))
			assert.Equal(t, tt.want, paths(l.Entries()))
			for _, e := range l.Entries() {
				assert.True(t, e.HasMessages())
			}
		})
	}
}

func TestCompact_PreservesVisibleFeedback(t *testing.T) {
	l := New([]Entry{
		errEntry("a", "c1", "x"),
		{Type: TypeError, Path: "b", Messages: []string{}},
		{Type: TypeWarning, Path: "a", Messages: []string{"w"}},
	})
	before, err := l.Find(Query{})
	require.NoError(t, err)

	require.NoError(t, l.Reduce(Compact))

	after, err := l.Find(Query{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRewrite(t *testing.T) {
	l := New([]Entry{
		errEntry("a", "", "lower"),
		{Type: TypeWarning, Path: "b", Messages: []string{"drop me"}},
	})

	err := l.Reduce(Rewrite(func(e Entry) (Entry, bool) {
		if e.Type == TypeWarning {
			return e, false
		}
		for i, m := range e.Messages {
			e.Messages[i] = strings.ToUpper(m)
		}
		return e, true
	}))
	require.NoError(t, err)

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"LOWER"}, entries[0].Messages)
}
