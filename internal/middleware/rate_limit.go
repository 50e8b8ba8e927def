package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sunagi/homare/internal/metrics"
	"github.com/sunagi/homare/internal/ratelimit"
	"github.com/sunagi/homare/pkg/config"
)

// RateLimitSubmission throttles completion submissions per client address.
// Participants are unauthenticated, so the remote address is the best
// available subject.
func RateLimitSubmission(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimit(lim, "submission", "submit_completion", cfg.RateLimit.Submission, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// RateLimitVerdict throttles verdict intake per verifier token.
func RateLimitVerdict(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimit(lim, "verdict", "deliver_verdict", cfg.RateLimit.Verdict, func(c *gin.Context) string {
		return bearerToken(c.GetHeader("Authorization"))
	})
}

func rateLimit(lim ratelimit.Limiter, scope string, operation string, bcfg config.RateLimitBucketConfig, subjectOf func(*gin.Context) string) gin.HandlerFunc {
	bucket := ratelimit.Bucket{RequestsPerMinute: bcfg.RequestsPerMinute, BurstSize: bcfg.BurstSize}
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		subject := subjectOf(c)
		if subject == "" {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), scope, subject, bucket)
		if err != nil {
			// Fail open: the limiter backing store being down must not take
			// the API down with it.
			if l, ok := c.Get("logger"); ok {
				if logger, ok := l.(*slog.Logger); ok {
					logger.Warn("rate limiter unavailable", "scope", scope, "err", err)
				}
			}
			c.Next()
			return
		}
		if !dec.Allowed {
			metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
			retry := int(dec.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
