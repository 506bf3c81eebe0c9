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
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianFeedback/pkg/validation"
)

// ErrRateLimited is returned to clients mutating a scope too quickly.
var ErrRateLimited = errors.New("scope mutation rate exceeded")

// minIdle is the shortest time a bucket is kept after its last use.
const minIdle = time.Minute

// ScopeLimiter hands out one token bucket per scope, so a noisy form cannot
// starve the others.
//
// A bucket unused for longer than it takes to refill is indistinguishable
// from a new one, so it is evicted on the next sweep.
//
// Thread Safety: Safe for concurrent use.
type ScopeLimiter struct {
	limit rate.Limit
	burst int

	// idleAfter is how long an unused bucket survives; 0 never evicts.
	idleAfter time.Duration
	now       func() time.Time

	mu        sync.Mutex
	buckets   map[string]*scopeBucket
	lastSweep time.Time
}

type scopeBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewScopeLimiter allows perSecond mutations per scope with the given burst.
// A burst below 1 is raised to 1.
func NewScopeLimiter(perSecond float64, burst int) *ScopeLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	return &ScopeLimiter{
		limit:     limit,
		burst:     burst,
		idleAfter: idleWindow(limit, burst),
		now:       time.Now,
		buckets:   make(map[string]*scopeBucket),
		lastSweep: time.Now(),
	}
}

// idleWindow is the time a drained bucket needs to refill, at least minIdle.
func idleWindow(limit rate.Limit, burst int) time.Duration {
	switch {
	case limit == rate.Inf:
		return minIdle
	case limit <= 0:
		return 0
	}
	refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second))
	return max(refill, minIdle)
}

// Allow reports whether scope may mutate now, consuming a token if so.
func (l *ScopeLimiter) Allow(scope string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[scope]
	if !ok {
		b = &scopeBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[scope] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Forget discards the bucket for a dropped scope.
func (l *ScopeLimiter) Forget(scope string) {
	l.mu.Lock()
	delete(l.buckets, scope)
	l.mu.Unlock()
}

// Len returns the number of live buckets.
func (l *ScopeLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep evicts idle buckets at most once per idle window. Caller holds l.mu.
func (l *ScopeLimiter) sweep(now time.Time) {
	if l.idleAfter <= 0 || now.Sub(l.lastSweep) < l.idleAfter {
		return
	}
	for scope, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleAfter {
			delete(l.buckets, scope)
		}
	}
	l.lastSweep = now
}

// Middleware rejects mutating requests (anything but GET and HEAD) on a
// scope that is over its rate with 429. Invalid scope names get no bucket;
// the handler rejects them.
func (l *ScopeLimiter) Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead:
			c.Next()
			return
		}

		scope := c.Param("scope")
		if validation.ValidateScope(scope) != nil || l.Allow(scope) {
			c.Next()
			return
		}

		metrics.RecordQueryError("rate_limited")
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: ErrRateLimited.Error()})
	}
}
