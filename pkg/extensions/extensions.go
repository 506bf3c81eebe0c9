// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable hooks of the feedback service.
//
// The service runs with no external dependencies by default. Deployments
// that need more, such as an audit trail of ledger mutations, provide an
// implementation of the interface here and inject it through
// ServiceOptions.
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use. Every
// HTTP request may call them from its own goroutine.
package extensions

// ServiceOptions groups the extension points of the feedback service.
//
// A nil field means the no-op default.
//
// Example:
//
//	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(logger))
type ServiceOptions struct {
	// AuditLogger records ledger mutations.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: &NopAuditLogger{},
	}
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Audit returns the configured AuditLogger, or a NopAuditLogger when unset.
func (opts ServiceOptions) Audit() AuditLogger {
	if opts.AuditLogger == nil {
		return &NopAuditLogger{}
	}
	return opts.AuditLogger
}
