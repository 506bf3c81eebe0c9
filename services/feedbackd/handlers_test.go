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
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T, store SnapshotStore) *Service {
	t.Helper()
	opts := DefaultOptions()
	opts.Store = store
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := New(opts)
	require.NoError(t, err)
	return svc
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const signupEntries = `{"entries":[
	{"type":"error","code":"required","path":"user.email","messages":["email is required"],"triggerType":"onBlur"},
	{"type":"error","code":"min","path":"user.address.zip","messages":["too short"]},
	{"type":"warning","path":"user.password","messages":["weak"],"score":2},
	{"type":"success","path":"user.username","messages":["available"]},
	{"type":"error","messages":["form rejected"]}
]}`

func seed(t *testing.T, h http.Handler, scope string) {
	t.Helper()
	w := do(t, h, http.MethodPost, "/v1/scopes/"+scope+"/feedback", signupEntries)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// =============================================================================
// Health / Metrics
// =============================================================================

func TestHealthCheck(t *testing.T) {
	svc := newTestService(t, nil)
	w := do(t, svc.Router(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newTestService(t, nil)
	seed(t, svc.Router(), "signup")

	w := do(t, svc.Router(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `aleutian_feedback_http_requests_total{method="POST",route="/v1/scopes/:scope/feedback",status="200"} 1`)
	assert.Contains(t, body, `aleutian_feedback_mutations_total{op="update"} 1`)
	assert.Contains(t, body, "aleutian_feedback_active_scopes 1")
}

// =============================================================================
// Update / Find
// =============================================================================

func TestUpdate_ReturnsStatus(t *testing.T) {
	svc := newTestService(t, nil)
	w := do(t, svc.Router(), http.MethodPost, "/v1/scopes/signup/feedback", signupEntries)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status := decode[StatusResponse](t, w)
	assert.Equal(t, "signup", status.Scope)
	assert.Equal(t, uint64(1), status.Version, "one POST is one mutation")
	assert.True(t, status.Invalid)
	assert.False(t, status.Valid)
	assert.Len(t, status.Errors, 3)
	assert.Len(t, status.Warnings, 1)
	assert.Len(t, status.Successes, 1)
	assert.Equal(t, feedback.RootPath, status.Errors[2].Path)
	assert.Equal(t, 2.0, status.Warnings[0].Extra["score"], "extra fields survive the round trip")
}

func TestUpdate_RejectsBadBodies(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"no entries", `{"entries":[]}`},
		{"missing entries", `{}`},
		{"entry without type", `{"entries":[{"path":"a","messages":["x"]}]}`},
		{"messages wrong shape", `{"entries":[{"type":"error","messages":5}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, svc.Router(), http.MethodPost, "/v1/scopes/signup/feedback", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)
		})
	}
}

func TestFind(t *testing.T) {
	svc := newTestService(t, nil)
	seed(t, svc.Router(), "signup")

	tests := []struct {
		name      string
		query     string
		wantPaths []string
	}{
		{"all", "", []string{"user.email", "user.address.zip", "user.password", "user.username", "@root"}},
		{"by type", "?type=error", []string{"user.email", "user.address.zip", "@root"}},
		{"by code", "?code=min", []string{"user.address.zip"}},
		{"by trigger", "?trigger=onBlur", []string{"user.email"}},
		{"by pattern", "?type=error&path=user.*", []string{"user.email", "user.address.zip"}},
		{"by alternation", "?path=*(user.email,@root)", []string{"user.email", "@root"}},
		{"by regex", "?regex=^user%5C.pass", []string{"user.password"}},
		{"no match", "?type=error&code=nope", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, svc.Router(), http.MethodGet, "/v1/scopes/signup/feedback"+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			resp := decode[FindResponse](t, w)
			paths := make([]string, 0, len(resp.Entries))
			for _, e := range resp.Entries {
				paths = append(paths, e.Path)
			}
			assert.Equal(t, tt.wantPaths, paths)
			assert.Equal(t, len(tt.wantPaths), resp.Count)
			assert.Equal(t, uint64(1), resp.Version)
		})
	}
}

func TestFind_RejectsBadQueries(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		name  string
		query string
	}{
		{"malformed pattern", "?path=*(a"},
		{"empty segment", "?path=a..b"},
		{"bad regex", "?regex=("},
		{"pattern and regex", "?path=a&regex=a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, svc.Router(), http.MethodGet, "/v1/scopes/signup/feedback"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestInvalidScope(t *testing.T) {
	svc := newTestService(t, nil)
	w := do(t, svc.Router(), http.MethodGet, "/v1/scopes/bad%20scope/status", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "invalid scope")
}

// =============================================================================
// Clear / Compact / Status / Drop
// =============================================================================

func TestClear(t *testing.T) {
	svc := newTestService(t, nil)
	seed(t, svc.Router(), "signup")

	w := do(t, svc.Router(), http.MethodDelete, "/v1/scopes/signup/feedback?type=error", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status := decode[StatusResponse](t, w)
	assert.True(t, status.Valid)
	assert.Equal(t, 2, status.Len)
	assert.Equal(t, uint64(2), status.Version)

	w = do(t, svc.Router(), http.MethodDelete, "/v1/scopes/signup/feedback", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[StatusResponse](t, w).Len)
}

func TestClear_MalformedPatternDoesNotMutate(t *testing.T) {
	svc := newTestService(t, nil)
	seed(t, svc.Router(), "signup")

	w := do(t, svc.Router(), http.MethodDelete, "/v1/scopes/signup/feedback?path=*(", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, svc.Router(), http.MethodGet, "/v1/scopes/signup/status", "")
	status := decode[StatusResponse](t, w)
	assert.Equal(t, 5, status.Len)
	assert.Equal(t, uint64(1), status.Version)
}

func TestCompact(t *testing.T) {
	svc := newTestService(t, nil)
	seed(t, svc.Router(), "signup")

	// Clearing a message leaves an empty entry behind.
	w := do(t, svc.Router(), http.MethodPost, "/v1/scopes/signup/feedback",
		`{"entries":[{"type":"error","code":"required","path":"user.email","messages":[]}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, decode[StatusResponse](t, w).Len)

	w = do(t, svc.Router(), http.MethodPost, "/v1/scopes/signup/compact", "")
	require.Equal(t, http.StatusOK, w.Code)

	status := decode[StatusResponse](t, w)
	assert.Equal(t, 4, status.Len)
	assert.Len(t, status.Errors, 2)
	assert.Equal(t, uint64(3), status.Version)
}

func TestStatus_Field(t *testing.T) {
	svc := newTestService(t, nil)
	seed(t, svc.Router(), "signup")

	tests := []struct {
		field     string
		wantValid bool
		wantPaths []string
	}{
		{"user.address", false, []string{"user.address.zip"}},
		{"user", false, []string{"user.email", "user.address.zip"}},
		{"user.password", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			w := do(t, svc.Router(), http.MethodGet, "/v1/scopes/signup/status?field="+tt.field, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			status := decode[StatusResponse](t, w)
			assert.Equal(t, tt.field, status.Field)
			require.NotNil(t, status.FieldValid)
			assert.Equal(t, tt.wantValid, *status.FieldValid)

			var paths []string
			for _, e := range status.FieldErrors {
				paths = append(paths, e.Path)
			}
			assert.Equal(t, tt.wantPaths, paths)
		})
	}

	t.Run("malformed field", func(t *testing.T) {
		w := do(t, svc.Router(), http.MethodGet, "/v1/scopes/signup/status?field=a..b", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListAndDropScopes(t *testing.T) {
	svc := newTestService(t, newBadgerStore(t))
	seed(t, svc.Router(), "signup")
	seed(t, svc.Router(), "checkout")

	w := do(t, svc.Router(), http.MethodGet, "/v1/scopes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"checkout", "signup"}, decode[map[string][]string](t, w)["scopes"])

	w = do(t, svc.Router(), http.MethodDelete, "/v1/scopes/signup", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, svc.Router(), http.MethodGet, "/v1/scopes", "")
	assert.Equal(t, []string{"checkout"}, decode[map[string][]string](t, w)["scopes"])
}

func TestBuildStatus_Consistent(t *testing.T) {
	l := feedback.New(nil)
	l.Update(feedback.Entry{Type: feedback.TypeError, Path: "a", Messages: []string{"x"}})

	status, err := BuildStatus("s", l, "")
	require.NoError(t, err)
	assert.Equal(t, !status.Valid, status.Invalid)
	assert.Equal(t, len(status.Errors) > 0, status.Invalid)
	assert.Nil(t, status.FieldValid)
	assert.Equal(t, uint64(1), status.Version)
}
