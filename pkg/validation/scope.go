// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-supplied names before they reach storage
// keys, URLs or log lines.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxScopeLen is the longest accepted scope name.
const MaxScopeLen = 128

// ErrInvalidScope is wrapped by every scope validation failure.
var ErrInvalidScope = errors.New("invalid scope name")

// scopePattern matches scope names: letters, digits and "_.:-".
// Colons allow namespaced scopes such as "account:42".
var scopePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// ValidateScope checks a scope name. Scope names become badger keys and
// URL path segments, so anything outside the pattern is rejected rather
// than escaped.
//
// Example:
//
//	if err := validation.ValidateScope(scope); err != nil {
//	    return nil, err
//	}
func ValidateScope(scope string) error {
	switch {
	case scope == "":
		return fmt.Errorf("%w: empty", ErrInvalidScope)
	case len(scope) > MaxScopeLen:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidScope, MaxScopeLen)
	case !scopePattern.MatchString(scope):
		return fmt.Errorf("%w: %q (allowed: letters, digits, '_', '.', ':', '-')", ErrInvalidScope, scope)
	}
	return nil
}

// SanitizeScope trims surrounding whitespace and validates the result.
// Use it for scope names typed by a person, e.g. CLI arguments.
func SanitizeScope(scope string) (string, error) {
	trimmed := strings.TrimSpace(scope)
	if err := ValidateScope(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
