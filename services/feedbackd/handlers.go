// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedbackd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianFeedback/pkg/extensions"
	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
	"github.com/AleutianAI/AleutianFeedback/pkg/formpath"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// QueryParams are the URL parameters selecting entries for find and clear.
type QueryParams struct {
	Type    string `form:"type" validate:"omitempty,max=64"`
	Code    string `form:"code" validate:"omitempty,max=128"`
	Path    string `form:"path" validate:"omitempty,max=1024,excluded_with=Regex"`
	Regex   string `form:"regex" validate:"omitempty,max=1024"`
	Trigger string `form:"trigger" validate:"omitempty,max=128"`
}

// Query converts the parameters to a ledger query, compiling the path
// pattern or regular expression up front so malformed input is rejected
// even when the ledger is empty.
func (p QueryParams) Query() (feedback.Query, error) {
	q := feedback.Query{
		Type:        feedback.Type(p.Type),
		Code:        p.Code,
		TriggerType: p.Trigger,
	}

	switch {
	case p.Path != "":
		if _, err := formpath.Default.Compile(p.Path); err != nil {
			return feedback.Query{}, err
		}
		q.Path = feedback.Pattern(p.Path)
	case p.Regex != "":
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return feedback.Query{}, fmt.Errorf("%w: %v", errBadRegex, err)
		}
		q.Path = feedback.Regexp(re)
	}
	return q, nil
}

var errBadRegex = errors.New("invalid regex")

// UpdateRequest is the body of POST /v1/scopes/:scope/feedback.
type UpdateRequest struct {
	Entries []feedback.Entry `json:"entries" validate:"required,min=1,max=1000,dive"`
}

// FindResponse is the body returned by GET /v1/scopes/:scope/feedback.
type FindResponse struct {
	Scope   string           `json:"scope"`
	Version uint64           `json:"version"`
	Count   int              `json:"count"`
	Entries []feedback.Entry `json:"entries"`
}

// StatusResponse summarizes a scope's derived views.
type StatusResponse struct {
	Scope     string           `json:"scope"`
	Version   uint64           `json:"version"`
	Len       int              `json:"len"`
	Valid     bool             `json:"valid"`
	Invalid   bool             `json:"invalid"`
	Errors    []feedback.Entry `json:"errors"`
	Warnings  []feedback.Entry `json:"warnings"`
	Successes []feedback.Entry `json:"successes"`

	// Field, FieldErrors and FieldValid are set when the request names a
	// field: the errors at or below that field.
	Field       string           `json:"field,omitempty"`
	FieldErrors []feedback.Entry `json:"field_errors,omitempty"`
	FieldValid  *bool            `json:"field_valid,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// BuildStatus computes a consistent status from one snapshot of l.
//
// Inputs:
//
//	scope - The scope name, echoed in the response.
//	l - The ledger.
//	field - Optional field address; adds the errors under formpath.Subtree(field).
//
// Outputs:
//
//	StatusResponse - The status.
//	error - Non-nil if field does not form a valid pattern.
func BuildStatus(scope string, l *feedback.Ledger, field string) (StatusResponse, error) {
	entries, version := l.Snapshot()
	view := feedback.New(entries)

	errs := view.Errors()
	status := StatusResponse{
		Scope:     scope,
		Version:   version,
		Len:       len(entries),
		Valid:     len(errs) == 0,
		Invalid:   len(errs) > 0,
		Errors:    errs,
		Warnings:  view.Warnings(),
		Successes: view.Successes(),
	}

	if field != "" {
		fieldErrs, err := view.Find(feedback.Query{
			Type: feedback.TypeError,
			Path: feedback.Pattern(formpath.Subtree(field)),
		})
		if err != nil {
			return StatusResponse{}, err
		}
		fieldValid := len(fieldErrs) == 0
		status.Field = field
		status.FieldErrors = fieldErrs
		status.FieldValid = &fieldValid
	}
	return status, nil
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers serves the ledger API for a Registry.
type Handlers struct {
	registry *Registry
	metrics  *Metrics
	validate *validator.Validate
	logger   *slog.Logger

	// limiter throttles mutations per scope; nil disables it.
	limiter *ScopeLimiter

	audit extensions.AuditLogger
}

// NewHandlers creates the handlers. metrics and logger may be nil.
func NewHandlers(registry *Registry, metrics *Metrics, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		registry: registry,
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		audit:    &extensions.NopAuditLogger{},
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListScopes returns every loaded or persisted scope.
func (h *Handlers) ListScopes(c *gin.Context) {
	scopes, err := h.registry.Scopes(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scopes": scopes})
}

// Find returns the entries selected by the query parameters.
func (h *Handlers) Find(c *gin.Context) {
	q, ok := h.bindQuery(c)
	if !ok {
		return
	}
	ledger, scope, ok := h.ledger(c)
	if !ok {
		return
	}

	entries, err := ledger.Find(q)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, FindResponse{
		Scope:   scope,
		Version: ledger.Version(),
		Count:   len(entries),
		Entries: entries,
	})
}

// Update upserts the posted entries in one mutation and returns the status.
func (h *Handlers) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordQueryError("bad_body")
		h.abort(c, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.metrics.RecordQueryError("bad_body")
		h.abort(c, http.StatusBadRequest, fmt.Errorf("validate body: %w", err))
		return
	}

	ledger, scope, ok := h.ledger(c)
	if !ok {
		return
	}
	ledger.Update(req.Entries...)

	h.respondMutation(c, extensions.EventLedgerUpdate, scope, ledger, map[string]any{
		"posted": len(req.Entries),
	})
}

// Clear removes the entries selected by the query parameters.
func (h *Handlers) Clear(c *gin.Context) {
	q, ok := h.bindQuery(c)
	if !ok {
		return
	}
	ledger, scope, ok := h.ledger(c)
	if !ok {
		return
	}

	if err := ledger.Clear(q); err != nil {
		h.recordAudit(c, extensions.EventLedgerClear, scope, ledger, err, nil)
		h.fail(c, err)
		return
	}

	h.respondMutation(c, extensions.EventLedgerClear, scope, ledger, map[string]any{
		"query": c.Request.URL.RawQuery,
	})
}

// Compact collapses duplicate keys and drops cleared entries.
func (h *Handlers) Compact(c *gin.Context) {
	ledger, scope, ok := h.ledger(c)
	if !ok {
		return
	}

	before := ledger.Len()
	if err := ledger.Reduce(feedback.Compact); err != nil {
		h.recordAudit(c, extensions.EventLedgerCompact, scope, ledger, err, nil)
		h.fail(c, err)
		return
	}
	h.logger.Debug("scope compacted",
		slog.String("scope", scope),
		slog.Int("before", before),
		slog.Int("after", ledger.Len()),
	)

	h.respondMutation(c, extensions.EventLedgerCompact, scope, ledger, map[string]any{
		"before": before,
	})
}

// Status returns the derived views, optionally for one field subtree.
func (h *Handlers) Status(c *gin.Context) {
	ledger, scope, ok := h.ledger(c)
	if !ok {
		return
	}

	status, err := BuildStatus(scope, ledger, c.Query("field"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// DropScope forgets a scope and deletes its snapshot.
func (h *Handlers) DropScope(c *gin.Context) {
	scope := c.Param("scope")
	if err := h.registry.Drop(c.Request.Context(), scope); err != nil {
		h.fail(c, err)
		return
	}
	if h.limiter != nil {
		h.limiter.Forget(scope)
	}
	h.recordAudit(c, extensions.EventScopeDrop, scope, nil, nil, nil)
	c.Status(http.StatusNoContent)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handlers) bindQuery(c *gin.Context) (feedback.Query, bool) {
	var params QueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.metrics.RecordQueryError("bad_query")
		h.abort(c, http.StatusBadRequest, err)
		return feedback.Query{}, false
	}
	if err := h.validate.Struct(params); err != nil {
		h.metrics.RecordQueryError("bad_query")
		h.abort(c, http.StatusBadRequest, fmt.Errorf("validate query: %w", err))
		return feedback.Query{}, false
	}

	q, err := params.Query()
	if err != nil {
		h.fail(c, err)
		return feedback.Query{}, false
	}
	return q, true
}

func (h *Handlers) ledger(c *gin.Context) (*feedback.Ledger, string, bool) {
	scope := c.Param("scope")
	ledger, err := h.registry.Get(c.Request.Context(), scope)
	if err != nil {
		h.fail(c, err)
		return nil, scope, false
	}
	return ledger, scope, true
}

// respondMutation audits a successful mutation and responds with the
// status it produced.
func (h *Handlers) respondMutation(c *gin.Context, eventType, scope string, ledger *feedback.Ledger, meta map[string]any) {
	status, err := BuildStatus(scope, ledger, "")
	if err != nil {
		h.fail(c, err)
		return
	}
	h.auditEvent(c, extensions.AuditEvent{
		EventType: eventType,
		Scope:     scope,
		Version:   status.Version,
		Entries:   status.Len,
		Outcome:   extensions.OutcomeSuccess,
		Metadata:  meta,
	})
	c.JSON(http.StatusOK, status)
}

// fail maps err to a status code and aborts.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, formpath.ErrMalformedPattern):
		h.metrics.RecordQueryError("bad_pattern")
		h.abort(c, http.StatusBadRequest, err)
	case errors.Is(err, errBadRegex):
		h.metrics.RecordQueryError("bad_regex")
		h.abort(c, http.StatusBadRequest, err)
	case errors.Is(err, ErrInvalidScope):
		h.metrics.RecordQueryError("bad_scope")
		h.abort(c, http.StatusBadRequest, err)
	case errors.Is(err, ErrRegistryClosed):
		h.abort(c, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		h.abort(c, http.StatusInternalServerError, err)
	}
}

func (h *Handlers) abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}
