// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists feedback ledger snapshots in BadgerDB.
//
// Each scope has one key, "feedback/snapshot/<scope>", holding the
// msgpack-encoded Snapshot of its ledger. Saves are version-monotonic: a
// snapshot older than the stored one is dropped, so observers that fire out
// of order under concurrent writers can never roll a scope back.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
	fbadger "github.com/AleutianAI/AleutianFeedback/services/feedbackd/storage/badger"
)

// KeyPrefix prefixes every snapshot key.
const KeyPrefix = "feedback/snapshot/"

// maxConflictRetries bounds Save retries on transaction conflicts.
const maxConflictRetries = 3

var (
	// ErrSnapshotNotFound is returned by Load when a scope has no snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrEmptyScope is returned for operations given an empty scope name.
	ErrEmptyScope = errors.New("scope must not be empty")
)

// Snapshot is the persisted state of one scope's ledger.
//
// Entries without messages may come back with nil Messages even if they
// were saved with an empty slice; both mean "no messages".
type Snapshot struct {
	Scope   string           `msgpack:"scope"`
	Version uint64           `msgpack:"version"`
	Entries []feedback.Entry `msgpack:"entries"`
	SavedAt time.Time        `msgpack:"saved_at"`
}

// Summary describes a stored snapshot without its entries.
type Summary struct {
	Scope   string    `json:"scope"`
	Version uint64    `json:"version"`
	Entries int       `json:"entries"`
	Bytes   int       `json:"bytes"`
	SavedAt time.Time `json:"saved_at"`
}

// SnapshotStore reads and writes snapshots.
//
// Thread Safety: Safe for concurrent use.
type SnapshotStore struct {
	db     *fbadger.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSnapshotStore creates a store over db. A nil logger uses slog.Default.
func NewSnapshotStore(db *fbadger.DB, logger *slog.Logger) (*SnapshotStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{
		db:     db,
		logger: logger.With("component", "snapshot_store"),
		now:    time.Now,
	}, nil
}

// Key returns the badger key for scope.
func Key(scope string) []byte {
	return []byte(KeyPrefix + scope)
}

// Save writes snap unless the stored snapshot for the same scope has an
// equal or higher version.
//
// Description:
//
//	SavedAt is set to the current time when zero. The read of the stored
//	version and the write happen in one transaction; conflicting concurrent
//	saves are retried.
//
// Outputs:
//
//	bool - True if snap was written, false if it was stale.
//	error - Non-nil on encoding or database failure.
func (s *SnapshotStore) Save(ctx context.Context, snap Snapshot) (saved bool, err error) {
	if snap.Scope == "" {
		return false, ErrEmptyScope
	}

	ctx, span := startStoreSpan(ctx, "SnapshotStore.Save", snap.Scope)
	defer span.End()
	start := time.Now()
	defer func() {
		setStoreSpanResult(span, err)
		recordStoreOp(ctx, "save", time.Since(start), err)
	}()

	if snap.SavedAt.IsZero() {
		snap.SavedAt = s.now().UTC()
	}
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return false, fmt.Errorf("encode snapshot %s: %w", snap.Scope, err)
	}

	for attempt := 0; ; attempt++ {
		saved, err = s.saveOnce(ctx, snap, data)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("save snapshot %s: %w", snap.Scope, err)
	}

	if saved {
		recordSnapshotBytes(ctx, len(data))
	} else {
		recordStaleSnapshot(ctx)
		s.logger.Debug("stale snapshot dropped",
			slog.String("scope", snap.Scope),
			slog.Uint64("version", snap.Version),
		)
	}
	span.SetAttributes(storeAttrSaved.Bool(saved))
	return saved, nil
}

func (s *SnapshotStore) saveOnce(ctx context.Context, snap Snapshot, data []byte) (bool, error) {
	saved := false
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := Key(snap.Scope)

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var stored Snapshot
			if err := item.Value(func(val []byte) error {
				return decodeHeader(val, &stored)
			}); err != nil {
				return err
			}
			if stored.Version >= snap.Version {
				return nil
			}
		}

		saved = true
		return txn.Set(key, data)
	})
	if err != nil {
		return false, err
	}
	return saved, nil
}

// Load returns the stored snapshot for scope.
//
// Outputs:
//
//	*Snapshot - The decoded snapshot.
//	error - ErrSnapshotNotFound if scope has none.
func (s *SnapshotStore) Load(ctx context.Context, scope string) (snap *Snapshot, err error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}

	ctx, span := startStoreSpan(ctx, "SnapshotStore.Load", scope)
	defer span.End()
	start := time.Now()
	defer func() {
		// A missing snapshot is an expected outcome, not a failure.
		result := err
		if errors.Is(err, ErrSnapshotNotFound) {
			result = nil
		}
		setStoreSpanResult(span, result)
		recordStoreOp(ctx, "load", time.Since(start), result)
	}()

	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(Key(scope))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSnapshotNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snap = &Snapshot{}
			return msgpack.Unmarshal(val, snap)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", scope, err)
	}
	return snap, nil
}

// Delete removes the snapshot for scope. Deleting a missing scope succeeds.
func (s *SnapshotStore) Delete(ctx context.Context, scope string) (err error) {
	if scope == "" {
		return ErrEmptyScope
	}

	ctx, span := startStoreSpan(ctx, "SnapshotStore.Delete", scope)
	defer span.End()
	start := time.Now()
	defer func() {
		setStoreSpanResult(span, err)
		recordStoreOp(ctx, "delete", time.Since(start), err)
	}()

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(Key(scope))
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", scope, err)
	}
	return nil
}

// Scopes returns every scope with a stored snapshot, sorted.
func (s *SnapshotStore) Scopes(ctx context.Context) (scopes []string, err error) {
	ctx, span := startStoreSpan(ctx, "SnapshotStore.Scopes", "")
	defer span.End()
	start := time.Now()
	defer func() {
		setStoreSpanResult(span, err)
		recordStoreOp(ctx, "scopes", time.Since(start), err)
	}()

	keys, err := s.db.KeysWithPrefix(ctx, []byte(KeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	scopes = make([]string, 0, len(keys))
	for _, k := range keys {
		scopes = append(scopes, strings.TrimPrefix(string(k), KeyPrefix))
	}
	return scopes, nil
}

// List returns a Summary of every stored snapshot, sorted by scope.
func (s *SnapshotStore) List(ctx context.Context) (summaries []Summary, err error) {
	ctx, span := startStoreSpan(ctx, "SnapshotStore.List", "")
	defer span.End()
	start := time.Now()
	defer func() {
		setStoreSpanResult(span, err)
		recordStoreOp(ctx, "list", time.Since(start), err)
	}()

	err = s.db.ScanPrefix(ctx, []byte(KeyPrefix), func(key, value []byte) error {
		var snap Snapshot
		if err := msgpack.Unmarshal(value, &snap); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		summaries = append(summaries, Summary{
			Scope:   snap.Scope,
			Version: snap.Version,
			Entries: len(snap.Entries),
			Bytes:   len(value),
			SavedAt: snap.SavedAt,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return summaries, nil
}

// decodeHeader decodes only the scope and version of an encoded snapshot.
func decodeHeader(data []byte, snap *Snapshot) error {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)

	dec.Reset(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		field, err := dec.DecodeString()
		if err != nil {
			return err
		}
		switch field {
		case "scope":
			if snap.Scope, err = dec.DecodeString(); err != nil {
				return err
			}
		case "version":
			if snap.Version, err = dec.DecodeUint64(); err != nil {
				return err
			}
		default:
			if err := dec.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}
