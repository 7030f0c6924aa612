// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/MeridianWorks/MeridianPortal/services/portal/observability"
)

// ChatRateLimit guards the chat endpoint with a token bucket.
//
// # Description
//
// One bucket for the whole endpoint: rps tokens per second with a
// burst of twice that. A zero or negative rps disables limiting and
// returns a pass-through handler, which is the default. The token
// proxy endpoints are never rate limited.
//
// # Outputs
//
// Requests exceeding the limit get 429 {"error": "rate limit exceeded"}.
func ChatRateLimit(rps float64) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointChat, observability.ErrorCodeRateLimited)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
