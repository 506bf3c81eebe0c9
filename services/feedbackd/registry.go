// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedbackd serves feedback ledgers over HTTP.
//
// A Registry owns one ledger per scope (typically one per form instance),
// restores it from the snapshot store on first use and persists it after
// every mutation. Handlers expose the ledger operations as a JSON API and a
// websocket stream of status updates.
package feedbackd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
	"github.com/AleutianAI/AleutianFeedback/pkg/validation"
	"github.com/AleutianAI/AleutianFeedback/services/feedbackd/storage"
)

var (
	// ErrInvalidScope is returned for scope names outside [A-Za-z0-9_.:-]{1,128}.
	ErrInvalidScope = validation.ErrInvalidScope

	// ErrRegistryClosed is returned by Get after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// ValidScope reports whether name is an acceptable scope name.
func ValidScope(name string) bool {
	return validation.ValidateScope(name) == nil
}

// SnapshotStore is the persistence the registry needs.
// *storage.SnapshotStore implements it.
type SnapshotStore interface {
	Save(ctx context.Context, snap storage.Snapshot) (bool, error)
	Load(ctx context.Context, scope string) (*storage.Snapshot, error)
	Delete(ctx context.Context, scope string) error
	Scopes(ctx context.Context) ([]string, error)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore enables snapshot persistence.
func WithStore(store SnapshotStore) RegistryOption {
	return func(r *Registry) {
		r.store = store
	}
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records scope and mutation metrics.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithSaveTimeout bounds each snapshot write and each restore. Default: 5s.
func WithSaveTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// scopeState is a loaded ledger and its registry-owned subscription.
type scopeState struct {
	ledger  *feedback.Ledger
	subID   string
	dropped chan struct{}

	// persistMu serializes snapshot writes with retire.
	persistMu sync.Mutex
	retired   bool
}

// closedSignal is returned by Dropped for a ledger the registry no longer
// owns.
var closedSignal = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Registry holds one ledger per scope.
//
// Thread Safety: Safe for concurrent use. Loads hold lifecycle for reading
// and Drop holds it for writing, so a snapshot read by a load can never
// outlive the Drop that deleted it.
type Registry struct {
	mu      sync.RWMutex
	scopes  map[string]*scopeState
	closed  bool
	closing chan struct{}

	lifecycle sync.RWMutex
	loads     singleflight.Group

	store        SnapshotStore
	metrics      *Metrics
	logger       *slog.Logger
	storeTimeout time.Duration
}

// NewRegistry creates an empty registry. Without WithStore, ledgers live
// only in memory.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		scopes:       make(map[string]*scopeState),
		closing:      make(chan struct{}),
		logger:       slog.Default(),
		storeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the ledger for scope, creating it on first use.
//
// Description:
//
//	A new scope is restored from the snapshot store when one exists,
//	keeping its version so versions grow across restarts. Concurrent first
//	calls for the same scope share one load, which is not cancelled when
//	one of the callers gives up.
//
// Outputs:
//
//	*feedback.Ledger - The scope's ledger.
//	error - ErrInvalidScope, ErrRegistryClosed, ctx's error, or a wrapped
//	store failure.
func (r *Registry) Get(ctx context.Context, scope string) (*feedback.Ledger, error) {
	state, err := r.state(ctx, scope)
	if err != nil {
		return nil, err
	}
	return state.ledger, nil
}

// Dropped returns a channel closed once ledger stops being scope's ledger
// because the scope was dropped. A ledger the registry does not currently
// own for scope gets an already closed channel.
func (r *Registry) Dropped(scope string, ledger *feedback.Ledger) <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.scopes[scope]
	if !ok || state.ledger != ledger {
		return closedSignal
	}
	return state.dropped
}

// Closing returns a channel closed when the registry closes.
func (r *Registry) Closing() <-chan struct{} {
	return r.closing
}

func (r *Registry) state(ctx context.Context, scope string) (*scopeState, error) {
	if err := validation.ValidateScope(scope); err != nil {
		return nil, err
	}

	r.mu.RLock()
	state, ok := r.scopes[scope]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return state, nil
	}

	ch := r.loads.DoChan(scope, func() (interface{}, error) {
		return r.load(scope)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*scopeState), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load restores scope and registers it. It runs once per flight, detached
// from any caller's context.
func (r *Registry) load(scope string) (*scopeState, error) {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()

	// Double-check after winning the flight.
	r.mu.RLock()
	existing, ok := r.scopes[scope]
	r.mu.RUnlock()
	if ok {
		return existing, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()

	ledger, err := r.restore(ctx, scope)
	if err != nil {
		return nil, err
	}

	state := &scopeState{ledger: ledger, dropped: make(chan struct{})}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	state.subID = ledger.Subscribe(r.observe(scope, state))
	r.scopes[scope] = state
	if r.metrics != nil {
		r.metrics.ActiveScopes.Set(float64(len(r.scopes)))
	}
	return state, nil
}

// restore builds a scope's ledger from its snapshot, or empty.
func (r *Registry) restore(ctx context.Context, scope string) (*feedback.Ledger, error) {
	logger := r.logger.With("scope", scope)
	opts := []feedback.Option{feedback.WithLogger(logger)}

	if r.store == nil {
		return feedback.New(nil, opts...), nil
	}

	snap, err := r.store.Load(ctx, scope)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		logger.Debug("new scope")
		return feedback.New(nil, opts...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore scope %s: %w", scope, err)
	}

	logger.Info("scope restored",
		slog.Int("entries", len(snap.Entries)),
		slog.Uint64("version", snap.Version),
	)
	opts = append(opts, feedback.WithVersion(snap.Version))
	return feedback.New(snap.Entries, opts...), nil
}

// observe returns the registry's per-scope observer: it counts the
// mutation and persists the ledger's current snapshot unless the scope
// has been dropped.
func (r *Registry) observe(scope string, state *scopeState) feedback.Observer {
	return func(change feedback.Change) {
		if r.metrics != nil {
			r.metrics.MutationsTotal.WithLabelValues(string(change.Op)).Inc()
		}
		if r.store == nil {
			return
		}

		state.persistMu.Lock()
		defer state.persistMu.Unlock()
		if state.retired {
			return
		}

		entries, version := state.ledger.Snapshot()
		ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
		defer cancel()

		if _, err := r.store.Save(ctx, storage.Snapshot{Scope: scope, Version: version, Entries: entries}); err != nil {
			if r.metrics != nil {
				r.metrics.SnapshotFailures.Inc()
			}
			r.logger.Error("snapshot save failed",
				slog.String("scope", scope),
				slog.Uint64("version", version),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Scopes returns every known scope, loaded or persisted, sorted.
func (r *Registry) Scopes(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	r.mu.RLock()
	for scope := range r.scopes {
		seen[scope] = struct{}{}
	}
	r.mu.RUnlock()

	if r.store != nil {
		stored, err := r.store.Scopes(ctx)
		if err != nil {
			return nil, fmt.Errorf("list scopes: %w", err)
		}
		for _, scope := range stored {
			seen[scope] = struct{}{}
		}
	}

	scopes := make([]string, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Drop forgets scope and deletes its snapshot. Holders of the old ledger
// may keep using it, but its mutations are no longer persisted.
//
// Drop waits for an in-flight snapshot write of the scope to finish before
// deleting, and first loads of any scope wait for Drop.
func (r *Registry) Drop(ctx context.Context, scope string) error {
	if err := validation.ValidateScope(scope); err != nil {
		return err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	state, ok := r.scopes[scope]
	if ok {
		delete(r.scopes, scope)
		if r.metrics != nil {
			r.metrics.ActiveScopes.Set(float64(len(r.scopes)))
		}
	}
	r.mu.Unlock()

	if ok {
		state.retire()
		state.detach()
		close(state.dropped)
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, scope); err != nil {
			return fmt.Errorf("drop scope %s: %w", scope, err)
		}
	}

	r.logger.Info("scope dropped", slog.String("scope", scope))
	return nil
}

// Close detaches every scope and signals Closing. Get fails afterwards;
// snapshots are kept.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.closing)
	states := r.scopes
	r.scopes = make(map[string]*scopeState)
	r.mu.Unlock()

	for _, state := range states {
		state.detach()
	}
	if r.metrics != nil {
		r.metrics.ActiveScopes.Set(0)
	}
	return nil
}

// retire waits for an in-flight snapshot write and stops further ones.
func (s *scopeState) retire() {
	s.persistMu.Lock()
	s.retired = true
	s.persistMu.Unlock()
}

func (s *scopeState) detach() {
	s.ledger.Unsubscribe(s.subID)
}
