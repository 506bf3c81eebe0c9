// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateScope(t *testing.T) {
	tests := []struct {
		name    string
		scope   string
		wantErr bool
	}{
		{"simple", "signup", false},
		{"namespaced", "account:42", false},
		{"dotted", "checkout.v2", false},
		{"dashes and underscores", "user_profile-edit", false},
		{"max length", strings.Repeat("a", MaxScopeLen), false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxScopeLen+1), true},
		{"space", "sign up", true},
		{"slash", "a/b", true},
		{"path traversal", "../etc", true},
		{"newline", "signup\n", true},
		{"unicode", "sïgnup", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScope(tt.scope)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateScope(%q) error = %v, wantErr %v", tt.scope, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidScope) {
				t.Errorf("ValidateScope(%q) error %v does not wrap ErrInvalidScope", tt.scope, err)
			}
		})
	}
}

func TestSanitizeScope(t *testing.T) {
	tests := []struct {
		name    string
		scope   string
		want    string
		wantErr bool
	}{
		{"passthrough", "signup", "signup", false},
		{"trimmed", "  signup\n", "signup", false},
		{"inner space rejected", "sign up", "", true},
		{"blank rejected", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeScope(tt.scope)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeScope(%q) error = %v, wantErr %v", tt.scope, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeScope(%q) = %q, want %q", tt.scope, got, tt.want)
			}
		})
	}
}
