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
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFeedback/pkg/extensions"
	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
)

// ActorHeader names the caller in audit events. Requests without it are
// recorded as extensions.AnonymousActor.
const ActorHeader = "X-Feedback-Actor"

// AuditQueryParams are the URL parameters of GET /v1/audit.
type AuditQueryParams struct {
	Scope string    `form:"scope" validate:"omitempty,max=128"`
	Types []string  `form:"type" validate:"omitempty,dive,oneof=ledger.update ledger.clear ledger.compact scope.drop"`
	Since time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit int       `form:"limit" validate:"gte=0,lte=1000"`
}

// AuditResponse is the body returned by GET /v1/audit.
type AuditResponse struct {
	Count  int                     `json:"count"`
	Events []extensions.AuditEvent `json:"events"`
}

// ListAudit returns recorded mutation events, newest first. Audit loggers
// that do not store events return an empty list.
func (h *Handlers) ListAudit(c *gin.Context) {
	var params AuditQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.metrics.RecordQueryError("bad_query")
		h.abort(c, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(params); err != nil {
		h.metrics.RecordQueryError("bad_query")
		h.abort(c, http.StatusBadRequest, fmt.Errorf("validate query: %w", err))
		return
	}

	events, err := h.audit.Query(c.Request.Context(), extensions.AuditFilter{
		Scope:      params.Scope,
		EventTypes: params.Types,
		Since:      params.Since,
		Limit:      params.Limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AuditResponse{Count: len(events), Events: events})
}

// recordAudit records a mutation. ledger may be nil for dropped scopes;
// a non-nil cause marks the event as a failure.
func (h *Handlers) recordAudit(c *gin.Context, eventType, scope string, ledger *feedback.Ledger, cause error, meta map[string]any) {
	event := extensions.AuditEvent{
		EventType: eventType,
		Scope:     scope,
		Outcome:   extensions.OutcomeSuccess,
		Metadata:  meta,
	}
	if ledger != nil {
		event.Version = ledger.Version()
		event.Entries = ledger.Len()
	}
	if cause != nil {
		event.Outcome = extensions.OutcomeFailure
		if event.Metadata == nil {
			event.Metadata = map[string]any{}
		}
		event.Metadata["error"] = cause.Error()
	}
	h.auditEvent(c, event)
}

func (h *Handlers) auditEvent(c *gin.Context, event extensions.AuditEvent) {
	event.Actor = c.GetHeader(ActorHeader)
	if err := h.audit.Log(c.Request.Context(), event); err != nil {
		h.logger.Warn("audit log failed",
			slog.String("event_type", event.EventType),
			slog.String("scope", event.Scope),
			slog.String("error", err.Error()),
		)
	}
}
