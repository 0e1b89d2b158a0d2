/*
Copyright 2025 Soko Market Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/sokomarket/soko/config"
)

// authHeader carries the shared API secret on every inbound request.
const authHeader = "X-Soko-Key"

// RateLimitMiddleware damps brute-force attempts against the redemption
// endpoints. When no requests-per-second is configured it passes everything
// through untouched.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	rl := conf.RateLimit
	if rl.RequestsPerSecond == nil || rl.Burst == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	lim := tollbooth.NewLimiter(*rl.RequestsPerSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Duration(*rl.CleanupIntervalSec) * time.Second,
	})
	lim.SetBurst(*rl.Burst)

	return func(c *gin.Context) {
		if httpError := tollbooth.LimitByRequest(lim, c.Writer, c.Request); httpError != nil {
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"error": httpError.Message})
			return
		}
		c.Next()
	}
}

// SecretKeyAuthMiddleware rejects requests that do not present the configured
// API secret. The comparison is constant time so the key cannot be probed a
// byte at a time.
func SecretKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		conf, err := config.Fetch()
		if err != nil || conf.Server.SecretKey == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Secret key is not configured"})
			return
		}

		presented := c.GetHeader(authHeader)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing secret key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(conf.Server.SecretKey), []byte(presented)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret key"})
			return
		}

		c.Next()
	}
}
