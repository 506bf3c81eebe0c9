// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package formpath matches dotted form field paths against path patterns.
//
// A path addresses a field inside a hierarchical form, with segments
// separated by dots ("user.address.city", "items.0.price"). A pattern
// uses the same shape plus a small set of wildcards:
//
//	user.name          literal, matches only "user.name"
//	user.*             one or more segments below user (trailing wildcard)
//	items.*.price      exactly one segment in the middle
//	**.price           zero or more segments (recursive descent)
//	addr*.city         '*' inside a segment matches any non-dot run
//	*(name,address.*)  alternation; each alternative is itself a pattern
//
// Patterns are compiled once to an anchored regular expression and cached
// by Matcher. Malformed patterns return an error wrapping ErrMalformedPattern.
//
// # Thread Safety
//
// Pattern and Matcher are safe for concurrent use.
package formpath

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedPattern is returned for patterns that cannot be compiled.
var ErrMalformedPattern = errors.New("malformed path pattern")

const (
	// oneSegment matches exactly one path segment.
	oneSegment = `[^.]+`

	// tailSegments matches one or more trailing path segments.
	tailSegments = `[^.]+(?:\.[^.]+)*`

	// inSegment replaces a '*' embedded in a literal segment.
	inSegment = `[^.]*`
)

// Pattern is a compiled path pattern.
type Pattern struct {
	source string
	re     *regexp.Regexp
}

// Compile parses a path pattern.
//
// Inputs:
//
//	pattern - The pattern source. Must be non-empty.
//
// Outputs:
//
//	*Pattern - The compiled pattern.
//	error - Wraps ErrMalformedPattern when the pattern is invalid.
func Compile(pattern string) (*Pattern, error) {
	body, err := compileBody(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}

	re, err := regexp.Compile("^" + body + "$")
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w: %v", pattern, ErrMalformedPattern, err)
	}

	return &Pattern{source: pattern, re: re}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether path satisfies the pattern.
func (p *Pattern) Match(path string) bool {
	return p.re.MatchString(path)
}

// String returns the pattern source.
func (p *Pattern) String() string {
	return p.source
}

// Subtree returns a pattern matching address itself and every path below it.
//
// This is the query a field uses to ask "does anything at or under me have
// errors", e.g. Subtree("user.address") == "*(user.address,user.address.*)".
func Subtree(address string) string {
	if address == "" {
		return "**"
	}
	return "*(" + address + "," + address + ".*)"
}

// compileBody translates a pattern to an unanchored regular expression.
func compileBody(pattern string) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		return "", fmt.Errorf("%w: empty pattern", ErrMalformedPattern)
	}

	tokens, err := splitTopLevel(pattern, '.')
	if err != nil {
		return "", err
	}

	var b strings.Builder
	wrote := false
	globstar := false

	for i, tok := range tokens {
		if tok == "" {
			return "", fmt.Errorf("%w: empty segment", ErrMalformedPattern)
		}
		if tok == "**" {
			globstar = true
			continue
		}

		body, err := compileToken(tok, i == len(tokens)-1)
		if err != nil {
			return "", err
		}

		switch {
		case globstar && wrote:
			b.WriteString(`(?:\.[^.]+)*\.`)
		case globstar:
			b.WriteString(`(?:[^.]+\.)*`)
		case wrote:
			b.WriteString(`\.`)
		}
		b.WriteString(body)
		wrote = true
		globstar = false
	}

	if globstar {
		if !wrote {
			return `.*`, nil
		}
		b.WriteString(`(?:\.[^.]+)*`)
	}

	return b.String(), nil
}

// compileToken translates one top-level segment. last is true for the final
// segment of the pattern (or of the enclosing alternative).
func compileToken(tok string, last bool) (string, error) {
	switch {
	case tok == "*":
		if last {
			return tailSegments, nil
		}
		return oneSegment, nil

	case strings.HasPrefix(tok, "*("):
		return compileGroup(tok)

	case strings.ContainsAny(tok, "(),"):
		return "", fmt.Errorf("%w: unexpected group syntax in segment %q", ErrMalformedPattern, tok)

	case strings.Contains(tok, "*"):
		parts := strings.Split(tok, "*")
		for i, part := range parts {
			parts[i] = regexp.QuoteMeta(part)
		}
		return strings.Join(parts, inSegment), nil

	default:
		return regexp.QuoteMeta(tok), nil
	}
}

// compileGroup translates a "*(alt1,alt2,...)" token.
func compileGroup(tok string) (string, error) {
	if closing := matchingParen(tok, 1); closing != len(tok)-1 {
		return "", fmt.Errorf("%w: trailing characters after group %q", ErrMalformedPattern, tok)
	}

	alts, err := splitTopLevel(tok[2:len(tok)-1], ',')
	if err != nil {
		return "", err
	}

	bodies := make([]string, 0, len(alts))
	for _, alt := range alts {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			return "", fmt.Errorf("%w: empty alternative in %q", ErrMalformedPattern, tok)
		}
		body, err := compileBody(alt)
		if err != nil {
			return "", err
		}
		bodies = append(bodies, body)
	}

	return "(?:" + strings.Join(bodies, "|") + ")", nil
}

// splitTopLevel splits s on sep, ignoring separators nested in parentheses.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	depth := 0
	start := 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced parentheses", ErrMalformedPattern)
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced parentheses", ErrMalformedPattern)
	}

	return append(parts, s[start:]), nil
}

// matchingParen returns the index of the parenthesis closing the one at open,
// or -1 if there is none.
func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
