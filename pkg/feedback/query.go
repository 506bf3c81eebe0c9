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
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianFeedback/pkg/formpath"
)

// Matcher decides whether a concrete path satisfies a path pattern.
//
// *formpath.Matcher implements Matcher and is the ledger default. Errors
// (typically malformed patterns) are returned to the caller unchanged.
type Matcher interface {
	Match(pattern, path string) (bool, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(pattern, path string) (bool, error)

// Match calls f(pattern, path).
func (f MatcherFunc) Match(pattern, path string) (bool, error) {
	return f(pattern, path)
}

// DefaultMatcher is the Matcher ledgers use unless WithMatcher is given.
var DefaultMatcher Matcher = formpath.Default

type pathKind uint8

const (
	pathAny pathKind = iota
	pathPattern
	pathRegexp
	pathExact
)

// PathQuery selects entries by path. It is one of:
//
//   - the zero value: any path
//   - Pattern: evaluated by the ledger's Matcher
//   - Regexp: tested directly against the stored path
//   - Exact: string equality
type PathQuery struct {
	kind    pathKind
	pattern string
	re      *regexp.Regexp
}

// Pattern returns a query evaluated by the ledger's Matcher.
// An empty pattern selects any path.
func Pattern(pattern string) PathQuery {
	if pattern == "" {
		return PathQuery{}
	}
	return PathQuery{kind: pathPattern, pattern: pattern}
}

// Regexp returns a query testing stored paths with re.
// A nil re selects any path.
func Regexp(re *regexp.Regexp) PathQuery {
	if re == nil {
		return PathQuery{}
	}
	return PathQuery{kind: pathRegexp, re: re}
}

// Exact returns a query matching only path itself.
// An empty path selects any path.
func Exact(path string) PathQuery {
	if path == "" {
		return PathQuery{}
	}
	return PathQuery{kind: pathExact, pattern: path}
}

// IsZero reports whether the query selects any path.
func (q PathQuery) IsZero() bool {
	return q.kind == pathAny
}

// String describes the query for logs and errors.
func (q PathQuery) String() string {
	switch q.kind {
	case pathPattern:
		return q.pattern
	case pathRegexp:
		return "/" + q.re.String() + "/"
	case pathExact:
		return "=" + q.pattern
	default:
		return "*"
	}
}

func (q PathQuery) match(m Matcher, path string) (bool, error) {
	switch q.kind {
	case pathPattern:
		return m.Match(q.pattern, path)
	case pathRegexp:
		return q.re.MatchString(path), nil
	case pathExact:
		return q.pattern == path, nil
	default:
		return true, nil
	}
}

// Query selects entries. Zero-valued fields are wildcards, so the zero
// Query selects every entry.
type Query struct {
	Type        Type
	Code        string
	Path        PathQuery
	TriggerType string
}

// ByType returns a query selecting entries tagged t.
func ByType(t Type) Query {
	return Query{Type: t}
}

// IsZero reports whether q selects every entry.
func (q Query) IsZero() bool {
	return q.Type == "" && q.Code == "" && q.Path.IsZero() && q.TriggerType == ""
}

// String describes the query for logs and errors.
func (q Query) String() string {
	if q.IsZero() {
		return "{}"
	}

	var parts []string
	if q.Type != "" {
		parts = append(parts, "type="+string(q.Type))
	}
	if q.Code != "" {
		parts = append(parts, "code="+q.Code)
	}
	if !q.Path.IsZero() {
		parts = append(parts, "path="+q.Path.String())
	}
	if q.TriggerType != "" {
		parts = append(parts, "triggerType="+q.TriggerType)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// match applies every supplied criterion to e. It does not look at
// e.Messages; Find adds that filter on top.
func (q Query) match(m Matcher, e Entry) (bool, error) {
	if q.Type != "" && q.Type != e.Type {
		return false, nil
	}
	if q.Code != "" && q.Code != e.Code {
		return false, nil
	}
	if !q.Path.IsZero() {
		ok, err := q.Path.match(m, e.Path)
		if err != nil || !ok {
			return false, err
		}
	}
	if q.TriggerType != "" && q.TriggerType != e.TriggerType {
		return false, nil
	}
	return true, nil
}

// targetQuery builds the upsert match target for a normalized entry.
func targetQuery(e Entry) Query {
	return Query{
		Type:        e.Type,
		Code:        e.Code,
		Path:        Exact(e.Path),
		TriggerType: e.TriggerType,
	}
}
