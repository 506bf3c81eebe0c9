// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback provides the feedback ledger: an ordered, observable
// collection of validation messages keyed by form field path.
//
// Producers (validators, field lifecycle hooks) write entries with Update.
// Consumers read them with Find and the derived views (Errors, Warnings,
// Successes, Valid, Invalid) to decide what to render and whether a form
// can be submitted. Clear drops stale entries before revalidation, and
// Reduce rewrites the whole collection through a fold.
//
// # Basic Usage
//
//	ledger := feedback.New(nil)
//	ledger.Update(feedback.Entry{
//	    Type:     feedback.TypeError,
//	    Code:     "required",
//	    Path:     "user.email",
//	    Messages: []string{"email is required"},
//	})
//
//	errs, err := ledger.Find(feedback.Query{
//	    Type: feedback.TypeError,
//	    Path: feedback.Pattern("user.*"),
//	})
//
//	if ledger.Invalid() {
//	    // block submission
//	}
//
// # Observation
//
// Every completed Update, Clear or Reduce bumps Version and notifies
// observers registered with Subscribe exactly once. Observers never see a
// partially applied mutation.
//
// # Thread Safety
//
// Ledger is safe for concurrent use. Observers run after the internal lock
// is released, so they may read the ledger; Reducers run under the lock and
// must not call back into it.
package feedback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNilReducer is returned by Reduce when no reducer is given.
var ErrNilReducer = errors.New("feedback: reducer must not be nil")

// Reducer folds one entry into the accumulated collection.
//
// Reduce calls it once per stored entry in order, starting from an empty
// accumulator; the final accumulator replaces the ledger's entries. index
// is the entry's position in the ledger before the fold.
type Reducer func(acc []Entry, entry Entry, index int) []Entry

// Option configures a Ledger.
type Option func(*Ledger)

// WithMatcher sets the path-pattern matcher used for Pattern queries.
func WithMatcher(m Matcher) Option {
	return func(l *Ledger) {
		if m != nil {
			l.matcher = m
		}
	}
}

// WithLogger sets the logger used for observer failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithVersion sets the starting version, used when restoring a ledger from
// a snapshot so that versions keep increasing across restarts.
func WithVersion(version uint64) Option {
	return func(l *Ledger) {
		l.version = version
	}
}

// Ledger is the feedback collection for one form or scope.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	version uint64

	matcher Matcher
	logger  *slog.Logger

	obsMu     sync.RWMutex
	observers []subscription
}

// New creates a ledger holding initial, in order.
//
// The initial entries are stored as given (no path normalization, no
// merging). A nil slice yields an empty ledger.
func New(initial []Entry, opts ...Option) *Ledger {
	l := &Ledger{
		entries: make([]Entry, 0, len(initial)),
		matcher: DefaultMatcher,
		logger:  slog.Default(),
	}
	for _, e := range initial {
		l.entries = append(l.entries, e.Clone())
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// =============================================================================
// Queries
// =============================================================================

// Find returns copies of the entries selected by q, in ledger order.
//
// Description:
//
//	An entry is selected when it satisfies every criterion q supplies and
//	has at least one message. Entries whose Messages are empty or nil are
//	never returned, even for the zero Query.
//
// Outputs:
//
//	[]Entry - The selected entries (never nil).
//	error - Non-nil if the Matcher rejects q's path pattern.
func (l *Ledger) Find(q Query) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Entry, 0)
	for _, e := range l.entries {
		ok, err := q.match(l.matcher, e)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", q, err)
		}
		if !ok || !e.HasMessages() {
			continue
		}
		result = append(result, e.Clone())
	}
	return result, nil
}

// Errors returns the entries tagged TypeError that carry messages.
func (l *Ledger) Errors() []Entry {
	return l.mustFind(ByType(TypeError))
}

// Warnings returns the entries tagged TypeWarning that carry messages.
func (l *Ledger) Warnings() []Entry {
	return l.mustFind(ByType(TypeWarning))
}

// Successes returns the entries tagged TypeSuccess that carry messages.
func (l *Ledger) Successes() []Entry {
	return l.mustFind(ByType(TypeSuccess))
}

// Valid reports whether Errors is empty.
func (l *Ledger) Valid() bool {
	return len(l.Errors()) == 0
}

// Invalid reports whether Errors is non-empty.
func (l *Ledger) Invalid() bool {
	return !l.Valid()
}

// mustFind runs a query without a path criterion, which cannot fail.
func (l *Ledger) mustFind(q Query) []Entry {
	result, err := l.Find(q)
	if err != nil {
		return []Entry{}
	}
	return result
}

// Entries returns a copy of every stored entry, including logically
// cleared ones.
func (l *Ledger) Entries() []Entry {
	entries, _ := l.Snapshot()
	return entries
}

// Snapshot returns a copy of every stored entry together with the version
// it belongs to.
func (l *Ledger) Snapshot() ([]Entry, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		entries[i] = e.Clone()
	}
	return entries, l.version
}

// Len returns the number of stored entries, including logically cleared ones.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Version returns the number of completed mutations (plus the starting
// version given by WithVersion).
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// =============================================================================
// Mutations
// =============================================================================

// Update upserts entries, one at a time in argument order.
//
// Description:
//
//	Each entry's empty path is replaced by RootPath. The entry's type,
//	code, path and trigger type then form a match target: omitted fields
//	are wildcards and the path is compared by equality. Every stored entry
//	matching the target (with or without messages) has the incoming fields
//	merged into it; if none matches, the entry is appended. Later entries
//	in the same call see the effect of earlier ones.
//
//	The whole call is one mutation: observers are notified once, after
//	every entry has been applied. Calling Update with no entries does
//	nothing.
func (l *Ledger) Update(entries ...Entry) {
	if len(entries) == 0 {
		return
	}

	_ = l.mutate(OpUpdate, func() error {
		for _, e := range entries {
			l.upsert(e)
		}
		return nil
	})
}

// upsert applies one entry. Caller holds l.mu.
func (l *Ledger) upsert(incoming Entry) {
	target := incoming.normalized()
	q := targetQuery(target)

	matched := false
	for i := range l.entries {
		// Exact path queries never consult the matcher.
		if ok, _ := q.match(l.matcher, l.entries[i]); ok {
			l.entries[i] = l.entries[i].Merge(target)
			matched = true
		}
	}

	if !matched {
		l.entries = append(l.entries, target)
	}
}

// Clear removes every entry selected by q, including entries without
// messages. The zero Query removes everything.
//
// The ledger's entries are replaced in one step; on error nothing changes
// and no observer is notified.
func (l *Ledger) Clear(q Query) error {
	return l.mutate(OpClear, func() error {
		kept := make([]Entry, 0, len(l.entries))
		for _, e := range l.entries {
			ok, err := q.match(l.matcher, e)
			if err != nil {
				return fmt.Errorf("clear %s: %w", q, err)
			}
			if !ok {
				kept = append(kept, e)
			}
		}
		l.entries = kept
		return nil
	})
}

// Reduce replaces the entries with the result of folding fn over them.
//
// Inputs:
//
//	fn - The fold step. Receives copies of the stored entries.
//
// Outputs:
//
//	error - ErrNilReducer if fn is nil.
func (l *Ledger) Reduce(fn Reducer) error {
	if fn == nil {
		return ErrNilReducer
	}

	return l.mutate(OpReduce, func() error {
		acc := make([]Entry, 0, len(l.entries))
		for i, e := range l.entries {
			acc = fn(acc, e.Clone(), i)
		}
		if acc == nil {
			acc = make([]Entry, 0)
		}
		l.entries = acc
		return nil
	})
}

// mutate runs apply under the write lock, bumps the version and notifies
// observers once the lock is released.
func (l *Ledger) mutate(op Op, apply func() error) error {
	change, err := func() (Change, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		if err := apply(); err != nil {
			return Change{}, err
		}
		l.version++
		return Change{Op: op, Version: l.version, Len: len(l.entries)}, nil
	}()
	if err != nil {
		return err
	}

	l.notify(change)
	return nil
}
