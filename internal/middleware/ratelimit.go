package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"dispatch/internal/admission"
	"dispatch/internal/metrics"
)

// RateLimit gates requests per client IP through the admission gate. Denied
// requests get 429 with a Retry-After hint. Store errors fail open so a
// limiter outage never takes the API down with it.
func RateLimit(gate *admission.Gate, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := gate.Consume(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn().Err(err).Str("client", c.ClientIP()).Msg("rate limit check failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))

		if !decision.Allowed {
			m.RateLimited()
			if decision.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds()+0.5)))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
