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
	"github.com/google/uuid"
)

// Op names the mutation that produced a Change.
type Op string

const (
	OpUpdate Op = "update"
	OpClear  Op = "clear"
	OpReduce Op = "reduce"
)

// Change describes one completed mutation.
type Change struct {
	// Op is the mutating operation.
	Op Op `json:"op"`

	// Version is the ledger version after the mutation.
	Version uint64 `json:"version"`

	// Len is the number of stored entries after the mutation.
	Len int `json:"len"`
}

// Observer is called once per completed mutation.
//
// Under concurrent writers observers may be called out of version order;
// compare Change.Version against the last one seen to drop stale calls.
type Observer func(Change)

type subscription struct {
	id       string
	observer Observer
}

// Subscribe registers an observer and returns its subscription ID.
// A nil observer is ignored and yields an empty ID.
func (l *Ledger) Subscribe(observer Observer) string {
	if observer == nil {
		return ""
	}

	l.obsMu.Lock()
	defer l.obsMu.Unlock()

	id := uuid.NewString()
	l.observers = append(l.observers, subscription{id: id, observer: observer})
	return id
}

// Unsubscribe removes a subscription.
//
// Outputs:
//
//	bool - True if the subscription was found and removed.
func (l *Ledger) Unsubscribe(id string) bool {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()

	for i, sub := range l.observers {
		if sub.id == id {
			l.observers = append(l.observers[:i:i], l.observers[i+1:]...)
			return true
		}
	}
	return false
}

// ObserverCount returns the number of active subscriptions.
func (l *Ledger) ObserverCount() int {
	l.obsMu.RLock()
	defer l.obsMu.RUnlock()
	return len(l.observers)
}

// notify calls every observer in subscription order.
func (l *Ledger) notify(change Change) {
	l.obsMu.RLock()
	subs := make([]subscription, len(l.observers))
	copy(subs, l.observers)
	l.obsMu.RUnlock()

	for _, sub := range subs {
		l.safeInvoke(sub, change)
	}
}

// safeInvoke calls an observer, recovering and logging a panic so one
// failing observer does not starve the rest.
func (l *Ledger) safeInvoke(sub subscription, change Change) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("feedback observer panicked",
				"subscription_id", sub.id,
				"op", change.Op,
				"version", change.Version,
				"panic", r,
			)
		}
	}()
	sub.observer(change)
}
