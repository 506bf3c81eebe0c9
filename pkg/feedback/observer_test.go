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
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_OneNotificationPerMutation(t *testing.T) {
	l := New(nil)

	var changes []Change
	l.Subscribe(func(c Change) { changes = append(changes, c) })

	l.Update(errEntry("a", "", "x"), errEntry("b", "", "y"), errEntry("c", "", "z"))
	require.NoError(t, l.Clear(Query{Path: Exact("b")}))
	require.NoError(t, l.Reduce(DropCleared))

	require.Len(t, changes, 3)
	assert.Equal(t, Change{Op: OpUpdate, Version: 1, Len: 3}, changes[0])
	assert.Equal(t, Change{Op: OpClear, Version: 2, Len: 2}, changes[1])
	assert.Equal(t, Change{Op: OpReduce, Version: 3, Len: 2}, changes[2])
}

func TestSubscribe_ClearWithoutMatchesStillNotifies(t *testing.T) {
	l := New(nil)
	calls := 0
	l.Subscribe(func(Change) { calls++ })

	require.NoError(t, l.Clear(ByType(TypeError)))
	assert.Equal(t, 1, calls)
}

func TestSubscribe_ObserverSeesCompletedState(t *testing.T) {
	l := New(nil)

	var invalid bool
	var seen int
	l.Subscribe(func(Change) {
		// Reading from inside an observer must not deadlock.
		invalid = l.Invalid()
		seen = l.Len()
	})

	l.Update(errEntry("a", "", "x"), Entry{Type: TypeWarning, Path: "a", Messages: []string{"w"}})

	assert.True(t, invalid)
	assert.Equal(t, 2, seen)
}

func TestSubscribe_NilObserver(t *testing.T) {
	l := New(nil)
	assert.Equal(t, "", l.Subscribe(nil))
	assert.Equal(t, 0, l.ObserverCount())
}

func TestUnsubscribe(t *testing.T) {
	l := New(nil)
	calls := 0
	id := l.Subscribe(func(Change) { calls++ })
	require.NotEmpty(t, id)
	assert.Equal(t, 1, l.ObserverCount())

	assert.True(t, l.Unsubscribe(id))
	assert.False(t, l.Unsubscribe(id))
	assert.Equal(t, 0, l.ObserverCount())

	l.Update(errEntry("a", "", "x"))
	assert.Equal(t, 0, calls)
}

func TestSubscribe_OrderAndUniqueIDs(t *testing.T) {
	l := New(nil)
	var order []int
	id1 := l.Subscribe(func(Change) { order = append(order, 1) })
	id2 := l.Subscribe(func(Change) { order = append(order, 2) })

	assert.NotEqual(t, id1, id2)

	l.Update(errEntry("a", "", "x"))
	assert.Equal(t, []int{1, 2}, order)
}

func TestSubscribe_PanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	l := New(nil, WithLogger(logger))

	l.Subscribe(func(Change) { panic("observer failure") })
	calls := 0
	l.Subscribe(func(Change) { calls++ })

	assert.NotPanics(t, func() {
		l.Update(errEntry("a", "", "x"))
	})
	assert.Equal(t, 1, calls, "later observers still run")
	assert.Equal(t, 1, l.Len(), "mutation is kept")
	assert.Contains(t, buf.String(), "feedback observer panicked")
	assert.Contains(t, buf.String(), "observer failure")
}

func TestSubscribe_FailedMutationDoesNotNotify(t *testing.T) {
	l := New([]Entry{errEntry("a", "", "x")})
	calls := 0
	l.Subscribe(func(Change) { calls++ })

	assert.ErrorIs(t, l.Reduce(nil), ErrNilReducer)
	assert.Error(t, l.Clear(Query{Path: Pattern("*(")}))
	assert.Equal(t, 0, calls)
}
