package middleware

import (
	"context"
	"time"

	"meetsignal/pkg/logger"
	"meetsignal/pkg/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggingMiddleware tags each request with a request id and logs it
// on completion.
func RequestLoggingMiddleware(contextLogger *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, utils.GenerateRequestID())
		if userID, ok := c.Get("user_id"); ok {
			if id, ok := userID.(string); ok {
				ctx = context.WithValue(ctx, logger.UserIDKey, id)
			}
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		contextLogger.LogRequest(
			c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
		)
	}
}
