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

// DropCleared keeps only entries that carry messages.
func DropCleared(acc []Entry, entry Entry, _ int) []Entry {
	if entry.HasMessages() {
		acc = append(acc, entry)
	}
	return acc
}

// Dedupe keeps one entry per (type, code, path, triggerType) key: the last
// one seen, at the position of the first.
func Dedupe(acc []Entry, entry Entry, _ int) []Entry {
	key := entry.Key()
	for i := range acc {
		if acc[i].Key() == key {
			acc[i] = entry
			return acc
		}
	}
	return append(acc, entry)
}

// Compact is Dedupe followed by DropCleared in a single pass: a later
// cleared entry removes an earlier one with the same key.
func Compact(acc []Entry, entry Entry, index int) []Entry {
	if entry.HasMessages() {
		return Dedupe(acc, entry, index)
	}

	key := entry.Key()
	for i := range acc {
		if acc[i].Key() == key {
			return append(acc[:i], acc[i+1:]...)
		}
	}
	return acc
}

// Rewrite returns a Reducer that applies fn to every entry, dropping the
// entry when fn returns false.
func Rewrite(fn func(Entry) (Entry, bool)) Reducer {
	return func(acc []Entry, entry Entry, _ int) []Entry {
		if out, keep := fn(entry); keep {
			acc = append(acc, out)
		}
		return acc
	}
}
