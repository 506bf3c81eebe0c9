// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package formpath

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of compiled patterns Default keeps.
const DefaultCacheSize = 1024

// Default is the shared matcher used by Match.
var Default = NewMatcher(DefaultCacheSize)

// Matcher compiles and caches path patterns.
//
// The cache is dropped wholesale when it reaches its size limit; form
// queries reuse a small set of patterns so eviction order does not matter.
//
// Thread Safety: Matcher is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	cache map[string]*Pattern
	limit int

	// group collapses concurrent compiles of the same pattern.
	group singleflight.Group
}

// NewMatcher creates a matcher caching up to limit compiled patterns.
// A non-positive limit disables caching.
func NewMatcher(limit int) *Matcher {
	return &Matcher{
		cache: make(map[string]*Pattern),
		limit: limit,
	}
}

// Compile returns the compiled form of pattern, using the cache when possible.
func (m *Matcher) Compile(pattern string) (*Pattern, error) {
	m.mu.RLock()
	cached, ok := m.cache[pattern]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	result, err, _ := m.group.Do(pattern, func() (any, error) {
		p, err := Compile(pattern)
		if err != nil {
			return nil, err
		}
		m.store(pattern, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	p, ok := result.(*Pattern)
	if !ok {
		return Compile(pattern)
	}
	return p, nil
}

// Match reports whether path satisfies pattern.
//
// Inputs:
//
//	pattern - A path pattern (see package docs).
//	path - A concrete field path.
//
// Outputs:
//
//	bool - True if the path matches.
//	error - Wraps ErrMalformedPattern when the pattern is invalid.
func (m *Matcher) Match(pattern, path string) (bool, error) {
	p, err := m.Compile(pattern)
	if err != nil {
		return false, err
	}
	return p.Match(path), nil
}

// Len returns the number of cached patterns.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func (m *Matcher) store(pattern string, p *Pattern) {
	if m.limit <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.cache) >= m.limit {
		m.cache = make(map[string]*Pattern, m.limit)
	}
	m.cache[pattern] = p
}

// Match reports whether path satisfies pattern using the Default matcher.
func Match(pattern, path string) (bool, error) {
	return Default.Match(pattern, path)
}
