// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Audit event types.
const (
	EventLedgerUpdate  = "ledger.update"
	EventLedgerClear   = "ledger.clear"
	EventLedgerCompact = "ledger.compact"
	EventScopeDrop     = "scope.drop"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AnonymousActor is recorded when a request does not identify its caller.
const AnonymousActor = "anonymous"

// ErrMissingEventType is returned by Log for an event without EventType.
var ErrMissingEventType = errors.New("audit event type is required")

// AuditEvent records one mutation of a scope.
//
// Example:
//
//	event := extensions.AuditEvent{
//	    EventType: extensions.EventLedgerUpdate,
//	    Actor:     "form-frontend",
//	    Scope:     "signup",
//	    Version:   7,
//	    Entries:   4,
//	    Outcome:   extensions.OutcomeSuccess,
//	}
type AuditEvent struct {
	// EventType is one of the Event* constants.
	EventType string `json:"event_type"`

	// Timestamp is set to time.Now().UTC() by Log when zero.
	Timestamp time.Time `json:"timestamp"`

	// Actor identifies the caller; AnonymousActor when unknown.
	Actor string `json:"actor"`

	Scope string `json:"scope"`

	// Version and Entries describe the ledger after the mutation.
	Version uint64 `json:"version"`
	Entries int    `json:"entries"`

	Outcome string `json:"outcome"`

	// Metadata holds event-specific details, e.g. "error" for failures
	// or "query" for clears.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects events in Query. Zero fields match everything;
// set fields are combined with AND.
type AuditFilter struct {
	Scope      string
	EventTypes []string
	Since      time.Time

	// Limit caps the result size. 0 means no limit.
	Limit int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if f.Scope != "" && e.Scope != f.Scope {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// AuditLogger records ledger mutations.
type AuditLogger interface {
	// Log records an event. Implementations set Timestamp when zero and
	// reject events without EventType.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events. Call it before shutdown.
	Flush(ctx context.Context) error
}

func prepare(event *AuditEvent) error {
	if event.EventType == "" {
		return ErrMissingEventType
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Actor == "" {
		event.Actor = AnonymousActor
	}
	return nil
}

// =============================================================================
// No-op
// =============================================================================

// NopAuditLogger discards all events. It is the default.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query always returns an empty slice.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// =============================================================================
// Memory
// =============================================================================

// DefaultAuditCapacity is the MemoryAuditLogger size used for capacity <= 0.
const DefaultAuditCapacity = 1024

// MemoryAuditLogger keeps the most recent events in a ring buffer.
//
// Thread Safety: Safe for concurrent use.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
	next   int
	full   bool
}

// NewMemoryAuditLogger creates a logger that keeps the last capacity events.
func NewMemoryAuditLogger(capacity int) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &MemoryAuditLogger{events: make([]AuditEvent, capacity)}
}

// Log stores the event, overwriting the oldest one when full.
func (l *MemoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if err := prepare(&event); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events[l.next] = event
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Query returns matching events, newest first.
func (l *MemoryAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.events)
	}

	out := []AuditEvent{}
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.events)) % len(l.events)
		e := l.events[idx]
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Flush is a no-op; events are kept in memory only.
func (l *MemoryAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// =============================================================================
// Slog
// =============================================================================

// SlogAuditLogger writes each event as one structured log record under
// the "audit" group. It stores nothing, so Query returns no events.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger on top of logger. A nil
// logger uses slog.Default.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log writes the event at Info, or at Warn for failures.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if err := prepare(&event); err != nil {
		return err
	}

	level := slog.LevelInfo
	if event.Outcome == OutcomeFailure {
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("actor", event.Actor),
		slog.String("scope", event.Scope),
		slog.Uint64("version", event.Version),
		slog.Int("entries", event.Entries),
		slog.String("outcome", event.Outcome),
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}

	l.logger.Log(ctx, level, "audit", slog.Group("audit", attrs...))
	return nil
}

// Query returns an empty slice; events go to the log only.
func (l *SlogAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op; slog handlers write synchronously.
func (l *SlogAuditLogger) Flush(ctx context.Context) error {
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
